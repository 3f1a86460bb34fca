package engine

import "context"

// LocalStore persists entity collections and pending-operation queues.
// Implementations must be durable across process restart and must make each
// save atomic with respect to its collection: either the whole list is
// replaced or the call fails. No network access.
type LocalStore interface {
	// LoadAll returns every entity in the collection.
	LoadAll(ctx context.Context, collection string) ([]Entity, error)

	// SaveAll replaces the collection's entity list in one atomic write.
	SaveAll(ctx context.Context, collection string, entities []Entity) error

	// LoadQueue returns the collection's pending operations in enqueue order.
	LoadQueue(ctx context.Context, collection string) ([]Operation, error)

	// SaveQueue replaces the collection's pending-operation list atomically.
	SaveQueue(ctx context.Context, collection string, ops []Operation) error

	// GetState fetches sync metadata with default fallback.
	GetState(ctx context.Context, key, def string) (string, error)

	// SetState updates sync metadata.
	SetState(ctx context.Context, key, val string) error
}
