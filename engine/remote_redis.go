// ABOUTME: RemoteAdapter backed by Redis with optimistic version checks.
// ABOUTME: Useful for self-hosted deployments and as a second adapter in tests.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRemote stores each record as a string value keyed by collection and
// id, with a set index per collection for listing. Optimistic concurrency is
// enforced with WATCH around the read-check-write cycle.
type RedisRemote struct {
	client     *redis.Client
	collection string
	codec      Codec
}

// NewRedisRemote builds an adapter for one collection.
func NewRedisRemote(client *redis.Client, collection string, codec Codec) *RedisRemote {
	return &RedisRemote{client: client, collection: collection, codec: codec}
}

func (r *RedisRemote) key(id string) string {
	return fmt.Sprintf("medsync:%s:%s", r.collection, id)
}

func (r *RedisRemote) indexKey() string {
	return fmt.Sprintf("medsync:%s", r.collection)
}

// Create stores a new record with version 1.
func (r *RedisRemote) Create(ctx context.Context, e Entity) (Entity, error) {
	stored := e.Clone()
	stored.Meta().Version = 1
	payload, err := r.codec.Encode(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	key := r.key(e.ID())
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			existing, derr := r.codec.Decode(cur)
			if derr == nil && existing.Meta().Version == 1 &&
				existing.Meta().UpdatedAt.Equal(e.Meta().UpdatedAt) {
				// Idempotent replay of a confirmed create.
				return nil
			}
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.indexKey(), e.ID())
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return stored, nil
}

// Read returns the current record or ErrNotFound.
func (r *RedisRemote) Read(ctx context.Context, id string) (Entity, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.mapErr(err)
	}
	e, err := r.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s record: %w", r.collection, err)
	}
	return e, nil
}

// Update applies an optimistic write, rejecting stale versions.
func (r *RedisRemote) Update(ctx context.Context, e Entity) (Entity, error) {
	payload, err := r.codec.Encode(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	key := r.key(e.ID())
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := r.codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode %s record: %w", r.collection, err)
		}
		em, cm := e.Meta(), cur.Meta()
		if em.Version == cm.Version && em.UpdatedAt.Equal(cm.UpdatedAt) {
			// Idempotent replay of an already-applied write.
			return nil
		}
		if em.Version <= cm.Version {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.indexKey(), e.ID())
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return e.Clone(), nil
}

// Delete removes a record or reports ErrNotFound.
func (r *RedisRemote) Delete(ctx context.Context, id string) error {
	removed, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return r.mapErr(err)
	}
	if _, err := r.client.SRem(ctx, r.indexKey(), id).Result(); err != nil {
		return r.mapErr(err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns the full snapshot for the collection.
func (r *RedisRemote) ListAll(ctx context.Context) ([]Entity, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, r.mapErr(err)
	}
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		e, err := r.Read(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index can lag a concurrent delete.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// mapErr folds Redis transport errors into the engine taxonomy while
// passing engine sentinels through untouched.
func (r *RedisRemote) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrPermissionDenied) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		// Lost the optimistic race; the caller re-reads and resolves.
		return fmt.Errorf("%w: %v", ErrVersionMismatch, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
}
