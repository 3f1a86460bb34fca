package engine

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisRemote(t *testing.T) *RedisRemote {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisRemote(client, testCollection, testCodec{})
}

func TestRedisRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	r := newRedisRemote(t)

	created, err := r.Create(ctx, newTestEntity("a", "x"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Meta().Version != 1 {
		t.Errorf("created version = %d, want 1", created.Meta().Version)
	}

	got, err := r.Read(ctx, "a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.(*testEntity).Value != "x" {
		t.Errorf("read value = %q", got.(*testEntity).Value)
	}

	next := got.Clone()
	next.(*testEntity).Value = "y"
	next.Meta().Version = 2
	if _, err := r.Update(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := r.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Read(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("read after delete: %v, want not found", err)
	}
	if err := r.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v, want not found", err)
	}
}

func TestRedisRemoteRejectsStaleVersions(t *testing.T) {
	ctx := context.Background()
	r := newRedisRemote(t)

	created, err := r.Create(ctx, newTestEntity("a", "x"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate create with different content conflicts.
	dup := newTestEntity("a", "y")
	dup.M.UpdatedAt = created.Meta().UpdatedAt.Add(time.Minute)
	if _, err := r.Create(ctx, dup); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("duplicate create: %v, want version mismatch", err)
	}

	// Same-version update with a different timestamp is stale.
	stale := created.Clone()
	stale.Meta().UpdatedAt = stale.Meta().UpdatedAt.Add(time.Minute)
	if _, err := r.Update(ctx, stale); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("stale update: %v, want version mismatch", err)
	}

	// Updating a missing record reports not found.
	ghost := newTestEntity("ghost", "x")
	ghost.M.Version = 2
	if _, err := r.Update(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: %v, want not found", err)
	}
}

func TestRedisRemoteIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	r := newRedisRemote(t)

	created, err := r.Create(ctx, newTestEntity("a", "x"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Replaying the identical create succeeds.
	if _, err := r.Create(ctx, created); err != nil {
		t.Errorf("create replay: %v", err)
	}

	next := created.Clone()
	next.Meta().Version = 2
	if _, err := r.Update(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Replaying the identical confirmed update succeeds.
	if _, err := r.Update(ctx, next); err != nil {
		t.Errorf("update replay: %v", err)
	}
}

func TestRedisRemoteListAll(t *testing.T) {
	ctx := context.Background()
	r := newRedisRemote(t)
	for _, id := range []string{"c", "a", "b"} {
		if _, err := r.Create(ctx, newTestEntity(id, id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	all, err := r.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make([]string, len(all))
	for i, e := range all {
		ids[i] = e.ID()
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := r.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = r.ListAll(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("list after delete: %d (err=%v), want 2", len(all), err)
	}
}
