// ABOUTME: Sync orchestrator: owns the per-collection cache, drives queue
// ABOUTME: draining on connectivity changes, and reconciles local/remote snapshots.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Options wires an orchestrator for one collection.
type Options struct {
	Collection   string
	Store        LocalStore
	Remote       RemoteAdapter
	Codec        Codec
	Resolver     *Resolver
	Connectivity Connectivity
	Logger       *slog.Logger

	// OnStateChange observes SyncState transitions. Called from the
	// goroutine performing the transition; keep it cheap.
	OnStateChange func(SyncState)
}

// Orchestrator drives offline-first synchronization for one collection. It
// exclusively owns the in-memory cache and the durable queue/list; callers
// mutate records only through its methods.
type Orchestrator struct {
	collection string
	store      LocalStore
	remote     RemoteAdapter
	codec      Codec
	resolver   *Resolver
	conn       Connectivity
	queue      *Queue
	logger     *slog.Logger
	onState    func(SyncState)

	// syncMu serializes Sync/ForceReload so a drain and a reconcile for
	// the same collection never run concurrently.
	syncMu sync.Mutex

	mu          sync.Mutex
	cache       []Entity
	cacheLoaded bool
	state       SyncState

	unsubscribe func()
	watcherDone chan struct{}
}

// NewOrchestrator restores the durable queue, probes connectivity for the
// initial state, and subscribes to the connectivity stream. Close releases
// the subscription.
func NewOrchestrator(ctx context.Context, opts Options) (*Orchestrator, error) {
	switch {
	case opts.Collection == "":
		return nil, fmt.Errorf("%w: collection required", ErrNotConfigured)
	case opts.Store == nil || opts.Remote == nil || opts.Codec == nil:
		return nil, fmt.Errorf("%w: store, remote, and codec required", ErrNotConfigured)
	case opts.Connectivity == nil:
		return nil, fmt.Errorf("%w: connectivity monitor required", ErrNotConfigured)
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(NewerWins, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		collection:  opts.Collection,
		store:       opts.Store,
		remote:      opts.Remote,
		codec:       opts.Codec,
		resolver:    opts.Resolver,
		conn:        opts.Connectivity,
		logger:      logger.With("collection", opts.Collection),
		onState:     opts.OnStateChange,
		watcherDone: make(chan struct{}),
	}
	o.queue = NewQueue(opts.Collection, opts.Store, opts.Remote, opts.Codec, opts.Resolver, opts.Connectivity.Online, logger)
	o.queue.OnTrigger(o.backgroundDrain)

	if err := o.queue.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}

	if o.conn.Online() {
		o.state = SyncState{Status: StatusSynced, PendingOperations: o.queue.Len()}
	} else {
		o.state = SyncState{Status: StatusOffline, PendingOperations: o.queue.Len()}
	}

	ch, cancel := o.conn.Subscribe()
	o.unsubscribe = cancel
	go o.watch(ch)

	return o, nil
}

// Close releases the connectivity subscription.
func (o *Orchestrator) Close() error {
	o.unsubscribe()
	<-o.watcherDone
	return nil
}

// watch reacts to connectivity transitions. Duplicate and missed signals are
// tolerated: every entry point re-probes Online() anyway.
func (o *Orchestrator) watch(ch <-chan bool) {
	defer close(o.watcherDone)
	for online := range ch {
		if !online {
			o.setState(StatusOffline, "")
			continue
		}
		if err := o.Sync(context.Background()); err != nil {
			o.logger.Warn("connectivity-triggered sync failed", "error", err)
		}
	}
}

// State returns the current derived sync state.
func (o *Orchestrator) State() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// List returns the cached collection, loading it from the local store on
// first use. Callers must not mutate the returned entities.
func (o *Orchestrator) List(ctx context.Context) ([]Entity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadCacheLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]Entity, len(o.cache))
	copy(out, o.cache)
	return out, nil
}

// Get returns one record by id or ErrNotFound.
func (o *Orchestrator) Get(ctx context.Context, id string) (Entity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadCacheLocked(ctx); err != nil {
		return nil, err
	}
	for _, e := range o.cache {
		if e.ID() == id {
			return e.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Create persists a new record locally and queues it for remote creation.
func (o *Orchestrator) Create(ctx context.Context, e Entity) error {
	stamped := e.Clone()
	*stamped.Meta() = NewMeta()
	return o.mutate(ctx, OpCreate, stamped)
}

// Update persists a local edit and queues it for remote replay. UpdatedAt is
// bumped and the synced flag cleared; the version only moves on remote
// confirmation.
func (o *Orchestrator) Update(ctx context.Context, e Entity) error {
	stamped := e.Clone()
	stamped.Meta().Touch()
	return o.mutate(ctx, OpUpdate, stamped)
}

// Delete removes the record locally and queues the remote delete.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	if err := o.loadCacheLocked(ctx); err != nil {
		o.mu.Unlock()
		return err
	}

	prev := o.cache
	next := make([]Entity, 0, len(prev))
	found := false
	for _, cur := range prev {
		if cur.ID() == id {
			found = true
			continue
		}
		next = append(next, cur)
	}
	if !found {
		o.mu.Unlock()
		return ErrNotFound
	}
	if err := o.commitLocked(ctx, prev, next, NewOperation(OpDelete, id, nil)); err != nil {
		o.mu.Unlock()
		return err
	}
	changed, state := o.bumpPendingLocked()
	o.mu.Unlock()
	o.notify(changed, state)
	return nil
}

func (o *Orchestrator) mutate(ctx context.Context, t OpType, e Entity) error {
	payload, err := o.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	o.mu.Lock()
	if err := o.loadCacheLocked(ctx); err != nil {
		o.mu.Unlock()
		return err
	}

	prev := o.cache
	next := make([]Entity, 0, len(prev)+1)
	replaced := false
	for _, cur := range prev {
		if cur.ID() == e.ID() {
			next = append(next, e)
			replaced = true
			continue
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, e)
	}

	if err := o.commitLocked(ctx, prev, next, NewOperation(t, e.ID(), payload)); err != nil {
		o.mu.Unlock()
		return err
	}
	changed, state := o.bumpPendingLocked()
	o.mu.Unlock()
	o.notify(changed, state)
	return nil
}

// commitLocked writes the new entity list, then enqueues the operation. A
// failed enqueue rolls the list back so durable and in-memory state never
// diverge from the queue.
func (o *Orchestrator) commitLocked(ctx context.Context, prev, next []Entity, op Operation) error {
	if err := o.store.SaveAll(ctx, o.collection, next); err != nil {
		return fmt.Errorf("persist %s: %w", o.collection, err)
	}
	o.cache = next

	if err := o.queue.Enqueue(ctx, op); err != nil {
		if rerr := o.store.SaveAll(ctx, o.collection, prev); rerr != nil {
			o.logger.Error("rollback after enqueue failure also failed",
				"error", rerr, "enqueue_error", err)
		} else {
			o.cache = prev
		}
		return err
	}
	return nil
}

// Sync drains the pending queue and, once it is fully empty, reconciles the
// local collection against the full remote snapshot. Drain and reconcile
// never run concurrently for a collection.
func (o *Orchestrator) Sync(ctx context.Context) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	if !o.conn.Online() {
		o.setState(StatusOffline, "")
		return nil
	}
	o.setState(StatusSyncing, "")

	res := o.queue.Drain(ctx)
	if res.Skipped {
		// Orchestrator drains are serialized by syncMu, so this only
		// happens when someone drives the queue directly. Re-derive the
		// status from the queue instead of leaving StatusSyncing published.
		if o.queue.Len() > 0 {
			o.setState(StatusPendingSync, "")
		} else {
			o.setState(StatusSynced, "")
		}
		return nil
	}
	o.invalidateCache()

	if res.Err != nil {
		o.setState(StatusError, res.Err.Error())
		return res.Err
	}
	if res.Remaining > 0 {
		o.setState(StatusPendingSync, "")
		return nil
	}

	if err := o.reconcile(ctx); err != nil {
		o.setState(StatusError, err.Error())
		return err
	}
	o.setState(StatusSynced, "")
	return nil
}

// ForceReload discards the in-memory cache (never local-store content) and
// re-derives state from a fresh remote fetch merged with the pending queue.
func (o *Orchestrator) ForceReload(ctx context.Context) error {
	o.invalidateCache()
	return o.Sync(ctx)
}

// reconcile diffs the local collection against the full remote snapshot and
// replaces the local list with the reconciled union in one atomic write.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	remotes, err := o.remote.ListAll(ctx)
	if err != nil {
		return err
	}
	locals, err := o.store.LoadAll(ctx, o.collection)
	if err != nil {
		return err
	}

	remoteByID := make(map[string]Entity, len(remotes))
	for _, r := range remotes {
		remoteByID[r.ID()] = r
	}

	merged := make([]Entity, 0, len(locals)+len(remotes))
	for _, local := range locals {
		remote, onBoth := remoteByID[local.ID()]
		switch {
		case onBoth:
			delete(remoteByID, local.ID())
			winner, err := o.reconcileRecord(ctx, local, remote)
			if err != nil {
				return err
			}
			merged = append(merged, winner)
		case local.Meta().Synced:
			// Local-only but previously confirmed: keep as-is.
			merged = append(merged, local)
		default:
			pushed, err := o.pushNew(ctx, local)
			if err != nil {
				if Permanent(err) {
					o.logger.Warn("keeping unsyncable local record",
						"id", local.ID(), "error", err)
					merged = append(merged, local)
					continue
				}
				return err
			}
			merged = append(merged, pushed)
		}
	}

	// Remote-only records are pulled down as already synced.
	for _, remote := range remoteByID {
		pulled := remote.Clone()
		pulled.Meta().Synced = true
		merged = append(merged, pulled)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID() < merged[j].ID() })

	if err := o.store.SaveAll(ctx, o.collection, merged); err != nil {
		return fmt.Errorf("persist reconciled %s: %w", o.collection, err)
	}
	o.mu.Lock()
	o.cache = merged
	o.cacheLoaded = true
	o.mu.Unlock()

	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := o.store.SetState(ctx, o.collection+".last_reconciled_at", ts); err != nil {
		o.logger.Warn("recording reconcile timestamp failed", "error", err)
	}
	return nil
}

// reconcileRecord resolves one id present on both sides and pushes the
// winner remotely when the remote copy did not already hold it.
func (o *Orchestrator) reconcileRecord(ctx context.Context, local, remote Entity) (Entity, error) {
	if !o.resolver.HasConflict(local, remote) {
		agreed := remote.Clone()
		agreed.Meta().Synced = true
		return agreed, nil
	}

	winner := o.resolver.Resolve(o.collection, local, remote)
	wm, rm := winner.Meta(), remote.Meta()
	if !(wm.Version == rm.Version && wm.UpdatedAt.Equal(rm.UpdatedAt)) {
		if wm.Version <= rm.Version {
			wm.Version = rm.Version + 1
		}
		confirmed, err := o.remote.Update(ctx, winner)
		if err != nil {
			return nil, err
		}
		winner = confirmed.Clone()
	}
	winner.Meta().Synced = true
	return winner, nil
}

func (o *Orchestrator) pushNew(ctx context.Context, local Entity) (Entity, error) {
	confirmed, err := o.remote.Create(ctx, local)
	if err != nil {
		return nil, err
	}
	pushed := confirmed.Clone()
	pushed.Meta().Synced = true
	return pushed, nil
}

// backgroundDrain runs an enqueue-triggered drain on its own goroutine,
// serialized on syncMu so it can never interleave with a reconcile or an
// explicit Sync for the same collection.
func (o *Orchestrator) backgroundDrain() {
	go func() {
		o.syncMu.Lock()
		res := o.queue.Drain(context.Background())
		o.syncMu.Unlock()
		if !res.Skipped {
			o.afterDrain(res)
		}
	}()
}

// afterDrain publishes the outcome of a background drain so observers see it.
func (o *Orchestrator) afterDrain(res DrainResult) {
	o.invalidateCache()
	switch {
	case res.Err != nil:
		o.setState(StatusError, res.Err.Error())
	case res.Remaining > 0:
		o.setState(StatusPendingSync, "")
	default:
		o.setState(StatusSynced, "")
	}
}

func (o *Orchestrator) loadCacheLocked(ctx context.Context) error {
	if o.cacheLoaded {
		return nil
	}
	entities, err := o.store.LoadAll(ctx, o.collection)
	if err != nil {
		return err
	}
	o.cache = entities
	o.cacheLoaded = true
	return nil
}

func (o *Orchestrator) invalidateCache() {
	o.mu.Lock()
	o.cache = nil
	o.cacheLoaded = false
	o.mu.Unlock()
}

func (o *Orchestrator) bumpPendingLocked() (bool, SyncState) {
	state := o.state
	state.PendingOperations = o.queue.Len()
	if state.Status != StatusSyncing && state.PendingOperations > 0 {
		state.Status = statusForPending(o.conn.Online())
	}
	return o.applyStateLocked(state)
}

func statusForPending(online bool) Status {
	if online {
		return StatusPendingSync
	}
	return StatusOffline
}

func (o *Orchestrator) setState(status Status, lastError string) {
	o.mu.Lock()
	changed, state := o.applyStateLocked(SyncState{
		Status:            status,
		PendingOperations: o.queue.Len(),
		LastError:         lastError,
	})
	o.mu.Unlock()
	o.notify(changed, state)
}

// applyStateLocked publishes the new state; o.mu must be held. The observer
// is deliberately not called here: callers deliver the returned notification
// via notify after unlocking, so observers may call back into the
// orchestrator without deadlocking.
func (o *Orchestrator) applyStateLocked(state SyncState) (bool, SyncState) {
	if o.state == state {
		return false, state
	}
	o.state = state
	o.logger.Debug("sync state changed",
		"status", string(state.Status),
		"pending", state.PendingOperations,
		"last_error", state.LastError)
	return true, state
}

func (o *Orchestrator) notify(changed bool, state SyncState) {
	if changed && o.onState != nil {
		o.onState(state)
	}
}
