// Package engine implements an offline-first synchronization engine: local
// mutations are persisted and queued while disconnected, then replayed against
// a remote store when connectivity returns, with version-based conflict
// detection and pluggable resolution strategies.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// Entity is the capability every syncable record type must provide.
// Implementations return a pointer Meta so the engine can stamp sync
// bookkeeping without knowing the concrete type.
type Entity interface {
	// ID returns the stable record identifier, assigned at creation.
	ID() string

	// Meta returns the record's sync bookkeeping fields.
	Meta() *Meta

	// Clone returns a deep copy. The engine never mutates caller-owned
	// values; all resolution and stamping happens on clones.
	Clone() Entity
}

// Meta carries the sync bookkeeping embedded in every entity.
type Meta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
	Synced    bool      `json:"synced"`
}

// NewMeta returns metadata for a freshly created record.
func NewMeta() Meta {
	now := time.Now().UTC()
	return Meta{
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		Synced:    false,
	}
}

// Touch marks a local mutation: bumps UpdatedAt and clears the synced flag.
// Version is left alone; it only moves on a confirmed remote write.
func (m *Meta) Touch() {
	m.UpdatedAt = time.Now().UTC()
	m.Synced = false
}

// NewID generates a record identifier.
func NewID() string {
	return uuid.NewString()
}

// Codec converts entities of one collection to and from their stored bytes.
// Encode must be deterministic for equal inputs; Decode must tolerate missing
// optional fields by applying the type's documented defaults.
type Codec interface {
	Encode(Entity) ([]byte, error)
	Decode([]byte) (Entity, error)
}

// LaterUpdated returns the side with the later UpdatedAt timestamp.
// Ties go to remote.
func LaterUpdated(local, remote Entity) Entity {
	if local.Meta().UpdatedAt.After(remote.Meta().UpdatedAt) {
		return local
	}
	return remote
}

func maxVersion(a, b Entity) int64 {
	av, bv := a.Meta().Version, b.Meta().Version
	if av > bv {
		return av
	}
	return bv
}
