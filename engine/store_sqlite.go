package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entity collections and operation queues locally.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	codecs map[string]Codec
}

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, codecs: make(map[string]Codec)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RegisterCodec associates a collection with its entity codec. Must be
// called before the collection is loaded or saved.
func (s *SQLiteStore) RegisterCodec(collection string, c Codec) {
	s.mu.Lock()
	s.codecs[collection] = c
	s.mu.Unlock()
}

func (s *SQLiteStore) codec(collection string) (Codec, error) {
	s.mu.RLock()
	c, ok := s.codecs[collection]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no codec registered for collection %q", collection)
	}
	return c, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS records (
  collection TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  PRIMARY KEY(collection, entity_id)
);

CREATE TABLE IF NOT EXISTS outbox (
  collection TEXT NOT NULL,
  position INTEGER NOT NULL,
  op_id TEXT NOT NULL,
  op_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  payload TEXT,
  enqueued_at INTEGER NOT NULL,
  PRIMARY KEY(collection, position)
);

CREATE TABLE IF NOT EXISTS sync_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	return err
}

// LoadAll returns every entity stored for the collection.
func (s *SQLiteStore) LoadAll(ctx context.Context, collection string) ([]Entity, error) {
	codec, err := s.codec(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM records WHERE collection = ? ORDER BY entity_id`, collection)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Entity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		e, err := codec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s record: %w", collection, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveAll replaces the collection's entity list in a single transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, collection string, entities []Entity) error {
	codec, err := s.codec(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO records(collection, entity_id, payload) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, e := range entities {
		payload, err := codec.Encode(e)
		if err != nil {
			return fmt.Errorf("encode %s record %s: %w", collection, e.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx, collection, e.ID(), payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadQueue returns the collection's pending operations in enqueue order.
func (s *SQLiteStore) LoadQueue(ctx context.Context, collection string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT op_id, op_type, target_id, payload, enqueued_at
FROM outbox WHERE collection = ? ORDER BY position ASC`, collection)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var opType string
		var payload sql.NullString
		var ts int64
		if err := rows.Scan(&op.ID, &opType, &op.TargetID, &payload, &ts); err != nil {
			return nil, err
		}
		op.Type = OpType(opType)
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.EnqueuedAt = time.Unix(ts, 0).UTC()
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// SaveQueue replaces the collection's pending-operation list in a single
// transaction, preserving enqueue order through the position column.
func (s *SQLiteStore) SaveQueue(ctx context.Context, collection string, ops []Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE collection = ?`, collection); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO outbox(collection, position, op_id, op_type, target_id, payload, enqueued_at)
VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i, op := range ops {
		var payload any
		if op.Payload != nil {
			payload = string(op.Payload)
		}
		if _, err := stmt.ExecContext(ctx,
			collection, i, op.ID, string(op.Type), op.TargetID, payload, op.EnqueuedAt.Unix(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetState fetches sync metadata with default fallback.
func (s *SQLiteStore) GetState(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM sync_state WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	return v, err
}

// SetState updates sync metadata.
func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, val)
	return err
}

// PendingCount returns the number of operations waiting to sync.
func (s *SQLiteStore) PendingCount(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM outbox WHERE collection = ?`, collection).Scan(&count)
	return count, err
}
