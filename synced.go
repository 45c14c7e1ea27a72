package synced

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-synced/layering"
	"github.com/goliatone/go-synced/pkg/activity"
	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/goliatone/go-synced/pkg/remote"
)

const discardLocal = "local mutation"

// Mode selects how a remote result is merged into the node.
type Mode string

const (
	// ModeSet replaces the whole value.
	ModeSet Mode = "set"
	// ModeAssign merges: keyed collections keep keys absent from the
	// response, records take the non-zero fields of the response.
	ModeAssign Mode = "assign"
)

// PersistOptions bind a node to a document of the store plugin.
type PersistOptions[T any] struct {
	Name        string
	Format      persist.Format
	SaveTimeout time.Duration
	// Lazy skips reading the snapshot at construction. Call Hydrate.
	Lazy bool
	// Load runs on every decoded snapshot, Save on every value before it
	// is written.
	Load remote.Transform[T, T]
	Save remote.Transform[T, T]
}

// SyncOptions configure New.
type SyncOptions[T any] struct {
	// Name labels logs, metrics and events. Defaults to the document name.
	Name    string
	Initial T
	Persist *PersistOptions[T]
	Get     func(ctx context.Context) (T, error)
	Set     func(ctx context.Context, value T) error
	Mode    Mode
	// WaitFor gates every fetch, typically on an auth token.
	WaitFor Waiter
	// Triggers refresh the node when they change.
	Triggers []Dependency
	// Deferred leaves fetching to an explicit Start call.
	Deferred bool
}

// Synced is a Node hydrated from a persisted snapshot and kept in sync
// with a remote resource.
type Synced[T any] struct {
	*Node[T]
	*engine[T]
}

// New builds a synced node. The persisted snapshot, if any, is decoded
// over a copy of Initial so fields missing from the snapshot keep their
// defaults. Unless Deferred is set the first fetch starts immediately.
func New[T any](store *Store, opts SyncOptions[T]) (*Synced[T], error) {
	node := NewNode(layering.Clone(opts.Initial))
	e, err := newEngine(store, node, engineConfig[T]{
		name:     opts.Name,
		initial:  opts.Initial,
		persist:  opts.Persist,
		push:     opts.Set,
		waitFor:  opts.WaitFor,
		triggers: opts.Triggers,
	})
	if err != nil {
		return nil, err
	}
	if opts.Get != nil {
		mode := opts.Mode
		if mode == "" {
			mode = ModeSet
		}
		e.fetch = func(ctx context.Context) (func(T) (T, error), int, error) {
			value, err := opts.Get(ctx)
			if err != nil {
				return nil, 0, err
			}
			if mode == ModeAssign {
				return func(prev T) (T, error) { return layering.Assign(prev, value) }, 1, nil
			}
			return func(T) (T, error) { return value, nil }, 1, nil
		}
	}
	s := &Synced[T]{Node: node, engine: e}
	if err := e.init(opts.Deferred); err != nil {
		return nil, err
	}
	return s, nil
}

type engineConfig[T any] struct {
	name     string
	initial  T
	persist  *PersistOptions[T]
	push     func(ctx context.Context, value T) error
	waitFor  Waiter
	triggers []Dependency
	// retryOnLocal refetches when a result is dropped for a local write.
	retryOnLocal bool
}

// engine drives hydration, fetching and persistence of one node.
type engine[T any] struct {
	store  *Store
	node   *Node[T]
	cfg    engineConfig[T]
	name   string
	status *Node[Status]
	fetch  func(ctx context.Context) (apply func(T) (T, error), items int, err error)

	generation atomic.Uint64
	dirty      atomic.Bool

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	started        bool
	closed         bool
	didRunOnce     bool
	pendingTrigger bool
	localRetried   bool
	cancels        []func()
	wg             sync.WaitGroup
}

func newEngine[T any](store *Store, node *Node[T], cfg engineConfig[T]) (*engine[T], error) {
	if store == nil {
		return nil, errors.New("synced: nil store")
	}
	name := cfg.name
	if name == "" && cfg.persist != nil {
		name = cfg.persist.Name
	}
	if cfg.persist != nil && cfg.persist.Name == "" {
		return nil, fmt.Errorf("synced: %s: persist options need a document name", name)
	}
	return &engine[T]{
		store:  store,
		node:   node,
		cfg:    cfg,
		name:   name,
		status: NewNode(Status{State: StateIdle}),
	}, nil
}

func (e *engine[T]) init(deferred bool) error {
	if p := e.cfg.persist; p != nil {
		plugin := e.store.plugin
		if err := plugin.Configure(p.Name, persist.DocumentOptions{Format: p.Format, SaveTimeout: p.SaveTimeout}); err != nil {
			return fmt.Errorf("synced: %s: %w", e.name, err)
		}
		if !p.Lazy {
			if err := e.hydrate(e.store.ctx, false); err != nil {
				return err
			}
		}
		e.cancels = append(e.cancels, plugin.OnWrite(func(result persist.WriteResult) {
			if result.Name == p.Name && result.Err == nil {
				e.dirty.Store(false)
			}
		}))
	}
	e.node.mu.Lock()
	e.node.onLocal = e.local
	e.node.mu.Unlock()

	if err := e.store.register(e); err != nil {
		e.release()
		return err
	}
	if !deferred {
		e.Start(e.store.ctx)
	}
	return nil
}

// Name returns the node name used in logs and events.
func (e *engine[T]) Name() string { return e.name }

// Status returns the fetch status side channel.
func (e *engine[T]) Status() *Node[Status] { return e.status }

// Dirty reports whether a local mutation has not been written yet.
func (e *engine[T]) Dirty() bool { return e.dirty.Load() }

// Generation returns the number of fetches issued so far.
func (e *engine[T]) Generation() uint64 { return e.generation.Load() }

// Hydrate re-seeds the node from the persisted snapshot, loading it from
// the backend if needed. It never schedules a save, so hydrating twice
// from the same snapshot leaves the same value.
func (e *engine[T]) Hydrate(ctx context.Context) error {
	if e.cfg.persist == nil {
		return nil
	}
	return e.hydrate(ctx, true)
}

func (e *engine[T]) hydrate(ctx context.Context, publish bool) error {
	p := e.cfg.persist
	if _, _, err := e.store.plugin.Load(ctx, p.Name); err != nil {
		e.logger().Warn("snapshot read failed, keeping current value", "document", p.Name, "error", err)
		return nil
	}
	value := layering.Clone(e.cfg.initial)
	ok, err := e.store.plugin.Decode(p.Name, &value)
	if err != nil {
		e.logger().Warn("snapshot decode failed, keeping current value", "document", p.Name, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if p.Load != nil {
		if value, err = p.Load(value); err != nil {
			return &SyncError{Op: "hydrate", Name: e.name, Err: err}
		}
	}
	if !publish {
		e.node.mu.Lock()
		e.node.value = value
		e.node.mu.Unlock()
		return nil
	}
	return e.node.replace(value)
}

// Start begins fetching under ctx. Fetching stops when ctx is done or the
// node is closed. Only the first call has an effect.
func (e *engine[T]) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	if len(e.cfg.triggers) > 0 {
		e.cancels = append(e.cancels, e.store.scheduler.Observe(e.Refresh, e.cfg.triggers...))
	}
	if e.fetch == nil {
		return
	}
	e.wg.Add(1)
	go e.run("initial")
}

// Refresh refetches. Before the first fetch completes the request is
// remembered and runs once it does.
func (e *engine[T]) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed || e.fetch == nil {
		return
	}
	if !e.didRunOnce {
		e.pendingTrigger = true
		return
	}
	e.wg.Add(1)
	go e.run("refresh")
}

// Close cancels in-flight fetches and waits for them to return. No remote
// result is applied after Close.
func (e *engine[T]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.release()
	e.wg.Wait()
}

func (e *engine[T]) release() {
	e.mu.Lock()
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	e.node.mu.Lock()
	e.node.onLocal = nil
	e.node.mu.Unlock()
}

func (e *engine[T]) local(change Change[T]) {
	e.dirty.Store(true)
	e.save(change.Value)
	if e.cfg.push == nil {
		return
	}
	e.mu.Lock()
	if e.closed || e.ctx == nil {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.cfg.push(ctx, change.Value); err != nil && ctx.Err() == nil {
			e.logger().Warn("remote write failed", "error", err)
			e.setStatus(func(s Status) Status {
				s.State = StateError
				s.Err = &SyncError{Op: "push", Name: e.name, Err: err}
				return s
			})
		}
	}()
}

func (e *engine[T]) save(value T) {
	p := e.cfg.persist
	if p == nil {
		return
	}
	value = layering.Clone(value)
	if p.Save != nil {
		var err error
		if value, err = p.Save(value); err != nil {
			e.logger().Error("save transform failed", "document", p.Name, "error", err)
			return
		}
	}
	if err := e.store.plugin.Save(p.Name, value); err != nil {
		e.logger().Warn("save not scheduled", "document", p.Name, "error", err)
	}
}

func (e *engine[T]) run(reason string) {
	defer e.wg.Done()
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	gen := e.generation.Add(1)

	if e.cfg.waitFor != nil {
		e.setStatus(func(s Status) Status {
			s.State = StateWaiting
			s.Generation = gen
			return s
		})
		if err := e.cfg.waitFor(ctx); err != nil {
			e.finish()
			e.setStatus(func(s Status) Status {
				if s.Generation == gen {
					s.State = StateIdle
				}
				return s
			})
			return
		}
	}

	// Local writes made while waiting for the gate predate the request.
	e.node.mu.Lock()
	localSeq := e.node.localSeq
	e.node.mu.Unlock()

	e.setStatus(func(s Status) Status {
		s.State = StateFetching
		s.Generation = gen
		return s
	})
	e.store.metrics.FetchStarted(e.name)
	apply, items, err := e.fetch(ctx)
	defer e.finish()

	if ctx.Err() != nil {
		e.logger().Debug("fetch cancelled", "generation", gen, "reason", reason)
		return
	}
	if err != nil {
		e.fail(gen, err)
		return
	}

	var discard string
	var applied T
	commitErr := e.node.commit(func(prev T) (T, error) {
		switch {
		case ctx.Err() != nil:
			discard = "closed"
		case gen != e.generation.Load():
			discard = "superseded"
		case e.node.localSeq != localSeq:
			discard = discardLocal
		}
		if discard != "" {
			return prev, errSkip{}
		}
		next, err := apply(prev)
		if err != nil {
			return prev, err
		}
		applied = next
		return next, nil
	}, false)
	if commitErr != nil {
		e.fail(gen, commitErr)
		return
	}
	if discard != "" {
		e.discarded(gen, discard)
		if discard == discardLocal && e.cfg.retryOnLocal {
			e.retryAfterLocal()
		}
		return
	}

	e.mu.Lock()
	e.localRetried = false
	e.mu.Unlock()
	e.save(applied)
	e.logger().Debug("resource synced", "generation", gen, "items", items, "reason", reason)
	e.emit(activity.BuildResourceFetchedEvent(activity.ResourceEventInput{
		Name:       e.name,
		Generation: gen,
		Items:      items,
		Reason:     reason,
	}))
	now := time.Now()
	e.setStatus(func(s Status) Status {
		if s.Generation != gen {
			return s
		}
		return Status{State: StateSynced, Generation: gen, LastSyncedAt: now}
	})
}

// retryAfterLocal refetches once after a result was dropped because of a
// local write. Consecutive drops do not retry again until a fetch lands.
func (e *engine[T]) retryAfterLocal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.localRetried {
		return
	}
	e.localRetried = true
	if !e.didRunOnce {
		e.pendingTrigger = true
		return
	}
	e.wg.Add(1)
	go e.run("local retry")
}

// finish marks the first fetch as done and runs a refresh that arrived
// while it was pending.
func (e *engine[T]) finish() {
	e.mu.Lock()
	first := !e.didRunOnce
	e.didRunOnce = true
	replay := first && e.pendingTrigger && !e.closed
	e.pendingTrigger = false
	if replay {
		e.wg.Add(1)
	}
	e.mu.Unlock()
	if replay {
		go e.run("refresh")
	}
}

func (e *engine[T]) fail(gen uint64, err error) {
	wrapped := &SyncError{Op: "fetch", Name: e.name, Generation: gen, Err: err}
	if errors.Is(err, ErrAuthNotReady) {
		e.logger().Debug("fetch deferred", "generation", gen, "error", err)
	} else {
		e.logger().Warn("fetch failed, keeping last value", "generation", gen, "error", err)
	}
	e.store.metrics.FetchFailed(e.name)
	e.emit(activity.BuildFetchFailedEvent(activity.ResourceEventInput{
		Name:       e.name,
		Generation: gen,
		Err:        err,
	}))
	e.setStatus(func(s Status) Status {
		if s.Generation != gen {
			return s
		}
		s.State = StateError
		s.Err = wrapped
		return s
	})
}

func (e *engine[T]) discarded(gen uint64, reason string) {
	e.logger().Debug("fetch result discarded", "generation", gen, "reason", reason)
	e.store.metrics.StaleDiscarded(e.name)
	e.emit(activity.BuildStaleDiscardedEvent(activity.ResourceEventInput{
		Name:       e.name,
		Generation: gen,
		Reason:     reason,
	}))
	e.setStatus(func(s Status) Status {
		if s.Generation == gen && s.State == StateFetching {
			s.State = StateIdle
		}
		return s
	})
}

func (e *engine[T]) setStatus(fn func(Status) Status) {
	_ = e.status.commit(func(prev Status) (Status, error) { return fn(prev), nil }, false)
}

func (e *engine[T]) emit(event activity.Event) {
	if err := e.store.emitter.Emit(context.Background(), event); err != nil {
		e.logger().Warn("activity hook failed", "verb", event.Verb, "error", err)
	}
}

func (e *engine[T]) logger() *slog.Logger {
	return e.store.logger.With("component", "synced", "node", e.name)
}
