// ABOUTME: Conflict resolution strategies for concurrent local/remote edits.
// ABOUTME: Pure decision functions; inputs are never mutated.
package engine

import "fmt"

// Strategy selects how conflicting versions of a record are reconciled.
type Strategy string

const (
	// NewerWins keeps whichever side has the later UpdatedAt, unmodified.
	NewerWins Strategy = "newer-wins"

	// ServerWins always keeps the remote record.
	ServerWins Strategy = "server-wins"

	// ClientWins always keeps the local record.
	ClientWins Strategy = "client-wins"

	// MergeOrNewerWins delegates to the registered merge strategy for the
	// collection; if merging fails it falls back to NewerWins with a forced
	// version bump so the next remote write is recognized as strictly newer.
	MergeOrNewerWins Strategy = "merge-or-newer-wins"
)

// ParseStrategy validates a strategy name from config.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case NewerWins, ServerWins, ClientWins, MergeOrNewerWins:
		return Strategy(s), nil
	case "":
		return NewerWins, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolver decides which of two conflicting records wins.
type Resolver struct {
	strategy Strategy
	merger   *Merger
}

// NewResolver builds a resolver. The merger may be nil unless the strategy
// is MergeOrNewerWins.
func NewResolver(strategy Strategy, merger *Merger) *Resolver {
	return &Resolver{strategy: strategy, merger: merger}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// HasConflict reports whether local and remote diverge. Equal versions mean
// the sides agree on history and no resolution is needed.
func (r *Resolver) HasConflict(local, remote Entity) bool {
	return local.Meta().Version != remote.Meta().Version
}

// Resolve returns the winning record for the configured strategy. The result
// is always a fresh clone; neither input is modified. Calling Resolve twice
// with identical inputs returns equal outputs.
func (r *Resolver) Resolve(collection string, local, remote Entity) Entity {
	switch r.strategy {
	case ServerWins:
		return remote.Clone()
	case ClientWins:
		return local.Clone()
	case MergeOrNewerWins:
		if r.merger != nil {
			merged, err := r.merger.Merge(collection, local, remote)
			if err == nil {
				return merged
			}
		}
		// Merge failed: fall back to newer-wins but force the version past
		// both sides so the next remote write is strictly newer.
		winner := LaterUpdated(local, remote).Clone()
		winner.Meta().Version = maxVersion(local, remote) + 1
		return winner
	default: // NewerWins
		return LaterUpdated(local, remote).Clone()
	}
}
