// Package meds defines the medication-tracker record types synchronized by
// the engine: prescriptions and dose-intake logs.
package meds

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/medsync/engine"
)

// PrescriptionCollection is the durable collection name for prescriptions.
const PrescriptionCollection = "prescriptions"

// Defaults applied when optional fields are absent from stored payloads.
const (
	DefaultUnit        = "mg"
	DefaultTimesPerDay = 1
)

// Prescription is one tracked medication.
type Prescription struct {
	RecordID    string    `json:"id"`
	Name        string    `json:"name"`
	Dosage      float64   `json:"dosage"`
	Unit        string    `json:"unit"`          // optional, default "mg"
	TimesPerDay int       `json:"times_per_day"` // optional, default 1
	Notes       string    `json:"notes"`         // optional, default ""
	RefillsLeft int       `json:"refills_left"`  // optional, default 0
	ExpiresAt   time.Time `json:"expires_at"`    // optional, zero when unset
	SyncMeta    engine.Meta `json:"meta"`
}

// NewPrescription builds a prescription with a fresh id, defaults applied,
// and initial sync metadata.
func NewPrescription(name string, dosage float64) *Prescription {
	return &Prescription{
		RecordID:    engine.NewID(),
		Name:        name,
		Dosage:      dosage,
		Unit:        DefaultUnit,
		TimesPerDay: DefaultTimesPerDay,
		SyncMeta:    engine.NewMeta(),
	}
}

// ID implements engine.Entity.
func (p *Prescription) ID() string { return p.RecordID }

// Meta implements engine.Entity.
func (p *Prescription) Meta() *engine.Meta { return &p.SyncMeta }

// Clone implements engine.Entity.
func (p *Prescription) Clone() engine.Entity {
	cp := *p
	return &cp
}

// Expired reports whether the prescription has an expiry in the past.
func (p *Prescription) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// ExpiringSoon returns prescriptions whose expiry falls within the window.
// Read-side helper for list views; backend expiry jobs are not ours.
func ExpiringSoon(ps []*Prescription, now time.Time, within time.Duration) []*Prescription {
	var out []*Prescription
	cutoff := now.Add(within)
	for _, p := range ps {
		if p.ExpiresAt.IsZero() {
			continue
		}
		if !p.ExpiresAt.Before(now) && p.ExpiresAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// prescriptionWire distinguishes absent optional fields from zero values so
// decode can apply defaults.
type prescriptionWire struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Dosage      float64     `json:"dosage"`
	Unit        *string     `json:"unit,omitempty"`
	TimesPerDay *int        `json:"times_per_day,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
	RefillsLeft *int        `json:"refills_left,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	Meta        engine.Meta `json:"meta"`
}

type prescriptionCodec struct{}

// PrescriptionCodec returns the codec for the prescriptions collection.
func PrescriptionCodec() engine.Codec { return prescriptionCodec{} }

func (prescriptionCodec) Encode(e engine.Entity) ([]byte, error) {
	p, ok := e.(*Prescription)
	if !ok {
		return nil, fmt.Errorf("expected *meds.Prescription, got %T", e)
	}
	return json.Marshal(p)
}

func (prescriptionCodec) Decode(data []byte) (engine.Entity, error) {
	var w prescriptionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("prescription payload missing id")
	}

	p := &Prescription{
		RecordID:    w.ID,
		Name:        w.Name,
		Dosage:      w.Dosage,
		Unit:        DefaultUnit,
		TimesPerDay: DefaultTimesPerDay,
		SyncMeta:    w.Meta,
	}
	if w.Unit != nil {
		p.Unit = *w.Unit
	}
	if w.TimesPerDay != nil {
		p.TimesPerDay = *w.TimesPerDay
	}
	if w.Notes != nil {
		p.Notes = *w.Notes
	}
	if w.RefillsLeft != nil {
		p.RefillsLeft = *w.RefillsLeft
	}
	if w.ExpiresAt != nil {
		p.ExpiresAt = *w.ExpiresAt
	}
	return p, nil
}
