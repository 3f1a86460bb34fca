package engine

import "context"

// RemoteAdapter abstracts the backend store for one collection. All calls
// must be idempotent with respect to retries carrying the same id+version.
//
// Version handling: Update stores the submitted entity with its embedded
// version if and only if that version is strictly greater than the version
// currently held remotely; otherwise it reports ErrVersionMismatch so the
// caller can run conflict resolution. In the common case callers submit
// previous_remote_version + 1.
type RemoteAdapter interface {
	// Create stores a new record and returns the confirmed entity with
	// version 1. Creating an id that already exists reports
	// ErrVersionMismatch.
	Create(ctx context.Context, e Entity) (Entity, error)

	// Read returns the current remote record or ErrNotFound.
	Read(ctx context.Context, id string) (Entity, error)

	// Update replaces an existing record, rejecting stale versions with
	// ErrVersionMismatch. Returns the confirmed entity as stored.
	Update(ctx context.Context, e Entity) (Entity, error)

	// Delete removes a record. Deleting a missing id reports ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListAll returns the full remote snapshot for the collection.
	ListAll(ctx context.Context) ([]Entity, error)
}
