// ABOUTME: Durable pending-operation queue with ordered drain semantics.
// ABOUTME: Permanent failures are dropped, transient failures stop the pass.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// OpType describes a queued mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is one not-yet-acknowledged mutation. Payload holds the encoded
// entity snapshot taken at enqueue time; it is nil for deletes.
type Operation struct {
	ID         string    `json:"id"`
	Type       OpType    `json:"type"`
	TargetID   string    `json:"target_id"`
	Payload    []byte    `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewOperation builds an operation with a ULID, preserving causal order
// through the ID's lexicographic sortability.
func NewOperation(t OpType, targetID string, payload []byte) Operation {
	return Operation{
		ID:         ulid.Make().String(),
		Type:       t,
		TargetID:   targetID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied   int   // operations confirmed by the remote
	Dropped   int   // permanent failures removed without applying
	Resolved  int   // conflicts reconciled during the pass
	Remaining int   // operations still queued after the pass
	Err       error // first transient failure, nil when the pass completed
	Skipped   bool  // another drain was already in flight
}

// Queue buffers mutations produced while disconnected or unresolved and
// replays them in enqueue order once feasible.
type Queue struct {
	collection string
	store      LocalStore
	remote     RemoteAdapter
	codec      Codec
	resolver   *Resolver
	logger     *slog.Logger

	online   func() bool       // probed on every enqueue
	onResult func(DrainResult) // invoked after enqueue-triggered drains
	trigger  func()            // replaces the default async drain when set

	mu       sync.Mutex
	ops      []Operation
	draining atomic.Bool
}

// NewQueue builds a queue for one collection. online reports current
// connectivity; it is re-probed on every enqueue rather than cached.
func NewQueue(collection string, store LocalStore, remote RemoteAdapter, codec Codec, resolver *Resolver, online func() bool, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		collection: collection,
		store:      store,
		remote:     remote,
		codec:      codec,
		resolver:   resolver,
		online:     online,
		logger:     logger.With("collection", collection),
	}
}

// OnResult registers a callback invoked after every enqueue-triggered
// asynchronous drain. Must be set before the queue is used.
func (q *Queue) OnResult(fn func(DrainResult)) { q.onResult = fn }

// OnTrigger hands drain scheduling to the owner: instead of draining itself
// on an online enqueue, the queue calls fn and the owner decides when and
// under which locks Drain runs. Must be set before the queue is used.
func (q *Queue) OnTrigger(fn func()) { q.trigger = fn }

// Restore loads the persisted queue, typically at engine start.
func (q *Queue) Restore(ctx context.Context) error {
	ops, err := q.store.LoadQueue(ctx, q.collection)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()
	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Enqueue appends an operation and persists the queue synchronously. If the
// durable write fails the in-memory append is rolled back and the error is
// returned: an operation is never "enqueued" only in memory. When currently
// online, a non-blocking drain is triggered.
func (q *Queue) Enqueue(ctx context.Context, op Operation) error {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	snapshot := append([]Operation(nil), q.ops...)
	if err := q.store.SaveQueue(ctx, q.collection, snapshot); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		q.mu.Unlock()
		return fmt.Errorf("persist queue: %w", err)
	}
	q.mu.Unlock()

	if q.online != nil && q.online() {
		q.drainSoon()
	}
	return nil
}

// drainSoon schedules a drain after an online enqueue. With a trigger hook
// installed the owner runs the drain (serialized against its other sync
// work); otherwise the queue drains itself on a fresh goroutine.
func (q *Queue) drainSoon() {
	if q.trigger != nil {
		q.trigger()
		return
	}
	go func() {
		res := q.Drain(context.Background())
		if q.onResult != nil && !res.Skipped {
			q.onResult(res)
		}
	}()
}

// Drain replays queued operations head to tail. Successful and permanently
// failed operations are removed; the first transient failure stops the pass
// so later operations never execute out of order. Only one drain runs at a
// time; a request arriving mid-drain is a no-op.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	pending := append([]Operation(nil), q.ops...)
	q.mu.Unlock()

	var res DrainResult
	for _, op := range pending {
		resolved, err := q.execute(ctx, op)
		if resolved {
			res.Resolved++
		}
		switch {
		case err == nil:
			res.Applied++
		case Permanent(err):
			// Drop-and-continue: this operation can never succeed.
			q.logger.Warn("dropping unreplayable operation",
				"op", op.ID, "type", string(op.Type), "target", op.TargetID, "error", err)
			res.Dropped++
		default:
			res.Err = err
			q.logger.Info("drain paused on transient failure",
				"op", op.ID, "type", string(op.Type), "error", err)
		}
		if res.Err != nil {
			break
		}
		if err := q.remove(ctx, op.ID); err != nil {
			// The remote already applied this op; keeping it queued and
			// stopping is safe because replay is idempotent.
			res.Err = err
			break
		}
	}

	q.mu.Lock()
	snapshot := append([]Operation(nil), q.ops...)
	q.mu.Unlock()
	if err := q.store.SaveQueue(ctx, q.collection, snapshot); err != nil && res.Err == nil {
		res.Err = err
	}
	res.Remaining = len(snapshot)
	return res
}

// execute runs one operation against the remote adapter. The bool result
// reports whether a version conflict was resolved along the way.
func (q *Queue) execute(ctx context.Context, op Operation) (bool, error) {
	switch op.Type {
	case OpDelete:
		return false, q.remote.Delete(ctx, op.TargetID)
	case OpCreate, OpUpdate:
		snapshot, err := q.codec.Decode(op.Payload)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return q.push(ctx, op.Type, snapshot)
	default:
		return false, fmt.Errorf("%w: unknown operation type %q", ErrMalformedPayload, op.Type)
	}
}

func (q *Queue) push(ctx context.Context, t OpType, snapshot Entity) (bool, error) {
	var confirmed Entity
	var err error
	if t == OpCreate {
		confirmed, err = q.remote.Create(ctx, snapshot)
	} else {
		attempt := snapshot.Clone()
		attempt.Meta().Version++
		confirmed, err = q.remote.Update(ctx, attempt)
	}
	if err == nil {
		return false, q.persistLocal(ctx, confirmed)
	}
	if !isConflict(err) {
		return false, err
	}
	return true, q.resolveAndPush(ctx, snapshot)
}

// resolveAndPush reconciles a rejected write against the current remote
// record: the resolver picks a winner, the winner is persisted locally, and
// it is pushed remotely with an incremented version when the remote side did
// not already hold it.
func (q *Queue) resolveAndPush(ctx context.Context, local Entity) error {
	remoteCur, err := q.remote.Read(ctx, local.ID())
	if err != nil {
		return err
	}

	resolved := q.resolver.Resolve(q.collection, local, remoteCur)
	rm, cur := resolved.Meta(), remoteCur.Meta()
	if rm.Version == cur.Version && rm.UpdatedAt.Equal(cur.UpdatedAt) {
		// The remote side won unmodified; nothing to push.
		return q.persistLocal(ctx, resolved)
	}

	if rm.Version <= cur.Version {
		rm.Version = cur.Version + 1
	}
	confirmed, err := q.remote.Update(ctx, resolved)
	if err != nil {
		return err
	}
	return q.persistLocal(ctx, confirmed)
}

// persistLocal stores a confirmed record into the local collection with the
// synced flag set.
func (q *Queue) persistLocal(ctx context.Context, e Entity) error {
	entities, err := q.store.LoadAll(ctx, q.collection)
	if err != nil {
		return err
	}
	stamped := e.Clone()
	stamped.Meta().Synced = true

	replaced := false
	for i, cur := range entities {
		if cur.ID() == stamped.ID() {
			entities[i] = stamped
			replaced = true
			break
		}
	}
	if !replaced {
		entities = append(entities, stamped)
	}
	return q.store.SaveAll(ctx, q.collection, entities)
}

func (q *Queue) remove(ctx context.Context, opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == opID {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	snapshot := append([]Operation(nil), q.ops...)
	return q.store.SaveQueue(ctx, q.collection, snapshot)
}

func isConflict(err error) bool {
	return err != nil && !Permanent(err) && !Transient(err)
}
