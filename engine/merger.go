package engine

import (
	"fmt"
	"sync"
)

// MergeFunc reconciles two conflicting records into one. Implementations
// must not mutate their inputs.
type MergeFunc func(local, remote Entity) (Entity, error)

// Merger dispatches whole-record reconciliation per collection. Collections
// without a registered strategy fall back to later-UpdatedAt-wins with no
// version bump; callers relying on MergeOrNewerWins should register an
// explicit strategy to get version-bump semantics.
type Merger struct {
	mu         sync.RWMutex
	strategies map[string]MergeFunc
}

// NewMerger returns an empty registry.
func NewMerger() *Merger {
	return &Merger{strategies: make(map[string]MergeFunc)}
}

// Register installs the merge strategy for a collection, replacing any
// previous registration.
func (m *Merger) Register(collection string, fn MergeFunc) {
	m.mu.Lock()
	m.strategies[collection] = fn
	m.mu.Unlock()
}

// Merge reconciles local and remote for the collection.
func (m *Merger) Merge(collection string, local, remote Entity) (Entity, error) {
	m.mu.RLock()
	fn, ok := m.strategies[collection]
	m.mu.RUnlock()
	if !ok {
		// Unregistered type: later side wins unmodified.
		return LaterUpdated(local, remote).Clone(), nil
	}
	merged, err := fn(local, remote)
	if err != nil {
		return nil, fmt.Errorf("merge %s record %s: %w", collection, local.ID(), err)
	}
	return merged, nil
}

// LatestWins is the standard whole-record merge: the side with the later
// UpdatedAt supplies every field, the version moves past both inputs, and
// UpdatedAt is the later of the two timestamps. Suitable as the registered
// strategy for most collections.
func LatestWins(local, remote Entity) (Entity, error) {
	winner := LaterUpdated(local, remote).Clone()
	winner.Meta().Version = maxVersion(local, remote) + 1
	winner.Meta().UpdatedAt = LaterUpdated(local, remote).Meta().UpdatedAt
	return winner, nil
}
