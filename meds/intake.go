package meds

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/medsync/engine"
)

// IntakeCollection is the durable collection name for dose-intake logs.
const IntakeCollection = "intakes"

// DefaultQuantity applies when an intake payload omits quantity.
const DefaultQuantity = 1

// Intake records one dose taken against a prescription.
type Intake struct {
	RecordID       string      `json:"id"`
	PrescriptionID string      `json:"prescription_id"`
	TakenAt        time.Time   `json:"taken_at"`
	Quantity       int         `json:"quantity"` // optional, default 1
	Notes          string      `json:"notes"`    // optional, default ""
	SyncMeta       engine.Meta `json:"meta"`
}

// NewIntake builds an intake log entry taken now.
func NewIntake(prescriptionID string) *Intake {
	return &Intake{
		RecordID:       engine.NewID(),
		PrescriptionID: prescriptionID,
		TakenAt:        time.Now().UTC(),
		Quantity:       DefaultQuantity,
		SyncMeta:       engine.NewMeta(),
	}
}

// ID implements engine.Entity.
func (i *Intake) ID() string { return i.RecordID }

// Meta implements engine.Entity.
func (i *Intake) Meta() *engine.Meta { return &i.SyncMeta }

// Clone implements engine.Entity.
func (i *Intake) Clone() engine.Entity {
	cp := *i
	return &cp
}

type intakeWire struct {
	ID             string      `json:"id"`
	PrescriptionID string      `json:"prescription_id"`
	TakenAt        time.Time   `json:"taken_at"`
	Quantity       *int        `json:"quantity,omitempty"`
	Notes          *string     `json:"notes,omitempty"`
	Meta           engine.Meta `json:"meta"`
}

type intakeCodec struct{}

// IntakeCodec returns the codec for the intakes collection.
func IntakeCodec() engine.Codec { return intakeCodec{} }

func (intakeCodec) Encode(e engine.Entity) ([]byte, error) {
	i, ok := e.(*Intake)
	if !ok {
		return nil, fmt.Errorf("expected *meds.Intake, got %T", e)
	}
	return json.Marshal(i)
}

func (intakeCodec) Decode(data []byte) (engine.Entity, error) {
	var w intakeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("intake payload missing id")
	}

	i := &Intake{
		RecordID:       w.ID,
		PrescriptionID: w.PrescriptionID,
		TakenAt:        w.TakenAt,
		Quantity:       DefaultQuantity,
		SyncMeta:       w.Meta,
	}
	if w.Quantity != nil {
		i.Quantity = *w.Quantity
	}
	if w.Notes != nil {
		i.Notes = *w.Notes
	}
	return i, nil
}

// RegisterMerges installs the whole-record merge strategy for both
// collections so MergeOrNewerWins gets version-bump semantics.
func RegisterMerges(m *engine.Merger) {
	m.Register(PrescriptionCollection, engine.LatestWins)
	m.Register(IntakeCollection, engine.LatestWins)
}
