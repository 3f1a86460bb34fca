package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRemoteVersionRules(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRemote(testCodec{})

	created, err := m.Create(ctx, newTestEntity("a", "x"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Meta().Version != 1 {
		t.Errorf("created version = %d, want 1", created.Meta().Version)
	}

	// Creating the same id again with different content conflicts.
	dup := newTestEntity("a", "y")
	dup.M.UpdatedAt = created.Meta().UpdatedAt.Add(time.Minute)
	if _, err := m.Create(ctx, dup); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("duplicate create: %v, want version mismatch", err)
	}

	// Stale update rejected, fresh update accepted.
	stale := created.Clone()
	stale.Meta().UpdatedAt = stale.Meta().UpdatedAt.Add(time.Minute)
	if _, err := m.Update(ctx, stale); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("same-version update: %v, want version mismatch", err)
	}
	next := created.Clone()
	next.Meta().Version = 2
	confirmed, err := m.Update(ctx, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if confirmed.Meta().Version != 2 {
		t.Errorf("confirmed version = %d, want 2", confirmed.Meta().Version)
	}

	// Replaying the identical confirmed write succeeds idempotently.
	if _, err := m.Update(ctx, next); err != nil {
		t.Errorf("idempotent replay: %v", err)
	}

	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v, want not found", err)
	}
}

func TestMemoryRemoteIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRemote(testCodec{})
	e := newTestEntity("a", "x")
	if _, err := m.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	e.Value = "mutated"
	got, err := m.Read(ctx, "a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.(*testEntity).Value != "x" {
		t.Errorf("store leaked caller mutation: %q", got.(*testEntity).Value)
	}
}

func TestMemoryRemoteListAllSorted(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRemote(testCodec{})
	for _, id := range []string{"c", "a", "b"} {
		if _, err := m.Create(ctx, newTestEntity(id, id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	all, err := m.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID() != "a" || all[2].ID() != "c" {
		t.Fatalf("unexpected listing %v", all)
	}
}
