package engine

import (
	"context"
	"sort"
	"sync"
)

// MemoryRemote is an in-process RemoteAdapter used by tests and by demo
// tooling. Failure injection lets tests exercise the transient/permanent
// drain paths without a network.
type MemoryRemote struct {
	mu      sync.Mutex
	records map[string]Entity
	codec   Codec

	// FailWith, when set, is consulted before every call; a non-nil return
	// is reported to the caller without touching stored state.
	FailWith func(op string, id string) error
}

// NewMemoryRemote builds an empty adapter. The codec is used to deep-copy
// entities across the adapter boundary.
func NewMemoryRemote(codec Codec) *MemoryRemote {
	return &MemoryRemote{records: make(map[string]Entity), codec: codec}
}

// Seed installs a record directly, bypassing version checks. Test helper.
func (m *MemoryRemote) Seed(e Entity) {
	m.mu.Lock()
	m.records[e.ID()] = e.Clone()
	m.mu.Unlock()
}

// Len returns the number of stored records.
func (m *MemoryRemote) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryRemote) fail(op, id string) error {
	if m.FailWith == nil {
		return nil
	}
	return m.FailWith(op, id)
}

// Create stores a new record with version 1.
func (m *MemoryRemote) Create(ctx context.Context, e Entity) (Entity, error) {
	if err := m.fail("create", e.ID()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[e.ID()]; ok {
		// Idempotent replay of a confirmed create succeeds.
		if cur.Meta().Version == 1 && cur.Meta().UpdatedAt.Equal(e.Meta().UpdatedAt) {
			return cur.Clone(), nil
		}
		return nil, ErrVersionMismatch
	}
	stored := e.Clone()
	stored.Meta().Version = 1
	m.records[e.ID()] = stored
	return stored.Clone(), nil
}

// Read returns the current record or ErrNotFound.
func (m *MemoryRemote) Read(ctx context.Context, id string) (Entity, error) {
	if err := m.fail("read", id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cur.Clone(), nil
}

// Update applies an optimistic write: accepted only when the submitted
// version is strictly greater than the stored one. Replaying an identical
// already-applied write succeeds idempotently.
func (m *MemoryRemote) Update(ctx context.Context, e Entity) (Entity, error) {
	if err := m.fail("update", e.ID()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[e.ID()]
	if !ok {
		return nil, ErrNotFound
	}
	em, cm := e.Meta(), cur.Meta()
	if em.Version == cm.Version && em.UpdatedAt.Equal(cm.UpdatedAt) {
		return cur.Clone(), nil
	}
	if em.Version <= cm.Version {
		return nil, ErrVersionMismatch
	}
	stored := e.Clone()
	m.records[e.ID()] = stored
	return stored.Clone(), nil
}

// Delete removes a record or reports ErrNotFound.
func (m *MemoryRemote) Delete(ctx context.Context, id string) error {
	if err := m.fail("delete", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// ListAll returns the full snapshot ordered by id.
func (m *MemoryRemote) ListAll(ctx context.Context) ([]Entity, error) {
	if err := m.fail("list", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entity, 0, len(m.records))
	for _, e := range m.records {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}
