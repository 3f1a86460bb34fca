package engine

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := newTestEntity("a", "aspirin")
	b := newTestEntity("b", "ibuprofen")
	if err := store.SaveAll(ctx, testCollection, []Entity{a, b}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.LoadAll(ctx, testCollection)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(got))
	}
	if got[0].ID() != "a" || got[1].ID() != "b" {
		t.Fatalf("unexpected ids %s, %s", got[0].ID(), got[1].ID())
	}
	if got[0].(*testEntity).Value != "aspirin" {
		t.Errorf("value = %q, want aspirin", got[0].(*testEntity).Value)
	}
}

func TestStoreSaveAllReplacesWholeList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SaveAll(ctx, testCollection, []Entity{newTestEntity("a", "x"), newTestEntity("b", "y")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveAll(ctx, testCollection, []Entity{newTestEntity("c", "z")}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := store.LoadAll(ctx, testCollection)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "c" {
		t.Fatalf("expected only c after replace, got %d entities", len(got))
	}
}

func TestStoreQueuePreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ops := []Operation{
		NewOperation(OpCreate, "1", []byte(`{"id":"1"}`)),
		NewOperation(OpUpdate, "1", []byte(`{"id":"1"}`)),
		NewOperation(OpDelete, "1", nil),
	}
	if err := store.SaveQueue(ctx, testCollection, ops); err != nil {
		t.Fatalf("save queue: %v", err)
	}

	got, err := store.LoadQueue(ctx, testCollection)
	if err != nil {
		t.Fatalf("load queue: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(got))
	}
	for i, op := range got {
		if op.ID != ops[i].ID || op.Type != ops[i].Type {
			t.Errorf("op %d = %s/%s, want %s/%s", i, op.ID, op.Type, ops[i].ID, ops[i].Type)
		}
	}
	if got[2].Payload != nil {
		t.Errorf("delete payload should stay nil, got %q", got[2].Payload)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store.RegisterCodec(testCollection, testCodec{})
	if err := store.SaveAll(ctx, testCollection, []Entity{newTestEntity("a", "x")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveQueue(ctx, testCollection, []Operation{NewOperation(OpDelete, "a", nil)}); err != nil {
		t.Fatalf("save queue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() {
		_ = reopened.Close()
	}()
	reopened.RegisterCodec(testCollection, testCodec{})

	entities, err := reopened.LoadAll(ctx, testCollection)
	if err != nil || len(entities) != 1 {
		t.Fatalf("expected 1 entity after reopen, got %d (err=%v)", len(entities), err)
	}
	ops, err := reopened.LoadQueue(ctx, testCollection)
	if err != nil || len(ops) != 1 {
		t.Fatalf("expected 1 op after reopen, got %d (err=%v)", len(ops), err)
	}
	if ops[0].Type != OpDelete || ops[0].TargetID != "a" {
		t.Errorf("unexpected op %+v", ops[0])
	}
}

func TestStoreCollectionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.RegisterCodec("other", testCodec{})

	if err := store.SaveAll(ctx, testCollection, []Entity{newTestEntity("a", "x")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveAll(ctx, "other", []Entity{newTestEntity("b", "y")}); err != nil {
		t.Fatalf("save other: %v", err)
	}
	if err := store.SaveAll(ctx, "other", nil); err != nil {
		t.Fatalf("clear other: %v", err)
	}

	got, err := store.LoadAll(ctx, testCollection)
	if err != nil || len(got) != 1 {
		t.Fatalf("clearing one collection must not touch another: %d (err=%v)", len(got), err)
	}
}

func TestStoreStateKV(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if v, err := store.GetState(ctx, "missing", "default"); err != nil || v != "default" {
		t.Fatalf("GetState default: %v %q", err, v)
	}
	if err := store.SetState(ctx, "foo", "bar"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if v, err := store.GetState(ctx, "foo", ""); err != nil || v != "bar" {
		t.Fatalf("GetState stored: %v %q", err, v)
	}
}

func TestStoreUnregisteredCodec(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.LoadAll(ctx, "nope"); err == nil {
		t.Fatal("expected error for unregistered collection")
	}
}

func TestStorePendingCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SaveQueue(ctx, testCollection, []Operation{
		NewOperation(OpDelete, "a", nil),
		NewOperation(OpDelete, "b", nil),
	}); err != nil {
		t.Fatalf("save queue: %v", err)
	}
	count, err := store.PendingCount(ctx, testCollection)
	if err != nil || count != 2 {
		t.Fatalf("PendingCount = %d (err=%v), want 2", count, err)
	}
}
