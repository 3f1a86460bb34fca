package meds

import (
	"testing"
	"time"
)

func TestNewPrescriptionDefaults(t *testing.T) {
	p := NewPrescription("lisinopril", 10)
	if p.RecordID == "" {
		t.Error("expected a generated id")
	}
	if p.Unit != DefaultUnit || p.TimesPerDay != DefaultTimesPerDay {
		t.Errorf("defaults not applied: unit=%q times=%d", p.Unit, p.TimesPerDay)
	}
	if p.SyncMeta.Version != 1 || p.SyncMeta.Synced {
		t.Errorf("fresh meta should be v1 unsynced, got %+v", p.SyncMeta)
	}
}

func TestPrescriptionCodecRoundTrip(t *testing.T) {
	p := NewPrescription("metformin", 500)
	p.Unit = "tablet"
	p.TimesPerDay = 2
	p.Notes = "with food"
	p.RefillsLeft = 3
	p.ExpiresAt = time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	codec := PrescriptionCodec()
	raw, err := codec.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := decoded.(*Prescription)
	if got.Name != p.Name || got.Dosage != p.Dosage || got.Unit != p.Unit ||
		got.TimesPerDay != p.TimesPerDay || got.Notes != p.Notes ||
		got.RefillsLeft != p.RefillsLeft || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("round trip changed fields: %+v vs %+v", got, p)
	}
	if got.SyncMeta.Version != p.SyncMeta.Version {
		t.Errorf("version = %d, want %d", got.SyncMeta.Version, p.SyncMeta.Version)
	}
}

func TestPrescriptionDecodeAppliesDefaults(t *testing.T) {
	// A sparse payload from an older client carries only the required fields.
	raw := []byte(`{"id":"p1","name":"aspirin","dosage":81,"meta":{"version":1}}`)

	decoded, err := PrescriptionCodec().Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := decoded.(*Prescription)
	if p.Unit != DefaultUnit {
		t.Errorf("unit = %q, want %q", p.Unit, DefaultUnit)
	}
	if p.TimesPerDay != DefaultTimesPerDay {
		t.Errorf("times_per_day = %d, want %d", p.TimesPerDay, DefaultTimesPerDay)
	}
	if p.Notes != "" || p.RefillsLeft != 0 || !p.ExpiresAt.IsZero() {
		t.Errorf("unexpected optional values: %+v", p)
	}
}

func TestPrescriptionDecodeRejectsMissingID(t *testing.T) {
	if _, err := PrescriptionCodec().Decode([]byte(`{"name":"aspirin"}`)); err == nil {
		t.Error("expected error for payload without id")
	}
	if _, err := PrescriptionCodec().Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestPrescriptionCodecRejectsForeignEntity(t *testing.T) {
	if _, err := PrescriptionCodec().Encode(NewIntake("p1")); err == nil {
		t.Error("expected encode to reject a non-prescription entity")
	}
}

func TestPrescriptionExpired(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	p := NewPrescription("aspirin", 81)
	if p.Expired(now) {
		t.Error("zero expiry must never count as expired")
	}
	p.ExpiresAt = now.Add(-time.Hour)
	if !p.Expired(now) {
		t.Error("past expiry should report expired")
	}
	p.ExpiresAt = now.Add(time.Hour)
	if p.Expired(now) {
		t.Error("future expiry should not report expired")
	}
}

func TestExpiringSoon(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	none := NewPrescription("no-expiry", 1)
	past := NewPrescription("already-expired", 1)
	past.ExpiresAt = now.Add(-time.Hour)
	soon := NewPrescription("soon", 1)
	soon.ExpiresAt = now.Add(7 * 24 * time.Hour)
	far := NewPrescription("far", 1)
	far.ExpiresAt = now.Add(90 * 24 * time.Hour)

	got := ExpiringSoon([]*Prescription{none, past, soon, far}, now, window)
	if len(got) != 1 || got[0].Name != "soon" {
		t.Fatalf("expected only the in-window prescription, got %+v", got)
	}
}
