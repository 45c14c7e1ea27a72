package synced

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/goliatone/go-synced/pkg/activity"
	"github.com/goliatone/go-synced/pkg/metrics"
	"github.com/goliatone/go-synced/pkg/persist"
)

// Store owns the persistence plugin, the scheduler and every synced node
// created against it. Build one at startup, pass it to consumers, and
// Close it at shutdown.
type Store struct {
	logger    *slog.Logger
	plugin    *persist.Plugin
	metrics   *metrics.Metrics
	emitter   *activity.Emitter
	scheduler *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closers []closer
	closed  bool
}

type closer interface {
	Close()
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger. Nodes derive their loggers from it.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPlugin sets the persistence plugin. Without one the store persists
// into memory.
func WithPlugin(plugin *persist.Plugin) StoreOption {
	return func(s *Store) { s.plugin = plugin }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithEmitter reports fetch outcomes as activity events.
func WithEmitter(emitter *activity.Emitter) StoreOption {
	return func(s *Store) { s.emitter = emitter }
}

// WithScheduler replaces the store scheduler.
func WithScheduler(scheduler *Scheduler) StoreOption {
	return func(s *Store) { s.scheduler = scheduler }
}

// NewStore builds a Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.plugin == nil {
		s.plugin = persist.NewPlugin(persist.NewMemoryBackend(),
			persist.WithLogger(s.logger),
			persist.WithMetrics(s.metrics),
			persist.WithEmitter(s.emitter),
		)
	}
	if s.scheduler == nil {
		s.scheduler = NewScheduler(s.logger)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Plugin returns the shared persistence plugin.
func (s *Store) Plugin() *persist.Plugin { return s.plugin }

// Scheduler returns the store scheduler.
func (s *Store) Scheduler() *Scheduler { return s.scheduler }

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Preload reads the named documents before any node is created.
func (s *Store) Preload(ctx context.Context, names ...string) error {
	return s.plugin.Preload(ctx, names...)
}

// Idle waits for scheduled reactions to drain.
func (s *Store) Idle(ctx context.Context) error {
	return s.scheduler.Idle(ctx)
}

func (s *Store) register(c closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closers = append(s.closers, c)
	return nil
}

// Close stops the scheduler, closes every node (cancelling in-flight
// fetches) and then flushes and closes the plugin.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	s.scheduler.Close()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
	if err := s.plugin.Close(ctx); err != nil && !errors.Is(err, persist.ErrClosed) {
		return err
	}
	return nil
}
