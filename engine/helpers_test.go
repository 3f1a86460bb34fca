package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testCollection = "records"

type testEntity struct {
	RecordID string `json:"id"`
	Value    string `json:"value"`
	M        Meta   `json:"meta"`
}

func (e *testEntity) ID() string    { return e.RecordID }
func (e *testEntity) Meta() *Meta   { return &e.M }
func (e *testEntity) Clone() Entity { cp := *e; return &cp }

type testCodec struct{}

func (testCodec) Encode(e Entity) ([]byte, error) { return json.Marshal(e) }

func (testCodec) Decode(data []byte) (Entity, error) {
	var e testEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func newTestEntity(id, value string) *testEntity {
	return &testEntity{RecordID: id, Value: value, M: NewMeta()}
}

func entityAt(id, value string, version int64, updatedAt time.Time) *testEntity {
	return &testEntity{
		RecordID: id,
		Value:    value,
		M: Meta{
			CreatedAt: updatedAt.Add(-time.Hour),
			UpdatedAt: updatedAt,
			Version:   version,
		},
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("close store: %v", cerr)
		}
	})
	store.RegisterCodec(testCollection, testCodec{})
	return store
}

func encodeTest(t *testing.T, e Entity) []byte {
	t.Helper()
	b, err := testCodec{}.Encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

// flakyStore wraps a LocalStore with switchable write failures and an
// observation hook on reads.
type flakyStore struct {
	LocalStore

	mu            sync.Mutex
	failSaveQueue error
	failSaveAll   error
	afterLoadAll  func(collection string)
}

func (f *flakyStore) LoadAll(ctx context.Context, collection string) ([]Entity, error) {
	entities, err := f.LocalStore.LoadAll(ctx, collection)
	f.mu.Lock()
	hook := f.afterLoadAll
	f.mu.Unlock()
	if hook != nil {
		hook(collection)
	}
	return entities, err
}

func (f *flakyStore) SaveQueue(ctx context.Context, collection string, ops []Operation) error {
	f.mu.Lock()
	err := f.failSaveQueue
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.LocalStore.SaveQueue(ctx, collection, ops)
}

func (f *flakyStore) SaveAll(ctx context.Context, collection string, entities []Entity) error {
	f.mu.Lock()
	err := f.failSaveAll
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.LocalStore.SaveAll(ctx, collection, entities)
}

func (f *flakyStore) setFailSaveQueue(err error) {
	f.mu.Lock()
	f.failSaveQueue = err
	f.mu.Unlock()
}

func (f *flakyStore) setFailSaveAll(err error) {
	f.mu.Lock()
	f.failSaveAll = err
	f.mu.Unlock()
}

func (f *flakyStore) setAfterLoadAll(fn func(collection string)) {
	f.mu.Lock()
	f.afterLoadAll = fn
	f.mu.Unlock()
}

func waitForStatus(t *testing.T, o *Orchestrator, want Status) SyncState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := o.State(); s.Status == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q, last state %+v", want, o.State())
	return SyncState{}
}
