package synced

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Scheduler runs reactions on a single goroutine in FIFO order. A reaction
// registered with Observe is queued at most once no matter how many of its
// dependencies change before it runs.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	running bool
	closed  bool
	idle    []chan struct{}
	done    chan struct{}
}

type task struct {
	fn     func()
	queued bool
}

// NewScheduler starts a scheduler. Close stops it.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Scheduler{
		logger: logger.With("component", "scheduler"),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Observe queues fn whenever any of deps changes.
func (s *Scheduler) Observe(fn func(), deps ...Dependency) (cancel func()) {
	t := &task{fn: fn}
	cancels := make([]func(), 0, len(deps))
	for _, dep := range deps {
		if dep != nil {
			cancels = append(cancels, dep.Watch(func() { s.push(t) }))
		}
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Enqueue queues fn once.
func (s *Scheduler) Enqueue(fn func()) {
	s.push(&task{fn: fn})
}

func (s *Scheduler) push(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || t.queued {
		return
	}
	t.queued = true
	s.queue = append(s.queue, t)
	s.cond.Signal()
}

// Idle blocks until the queue is empty and no task is running.
func (s *Scheduler) Idle(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || (len(s.queue) == 0 && !s.running) {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops queued tasks, waits for the running one and stops the loop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.releaseIdle()
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		t.queued = false
		s.running = true
		s.mu.Unlock()

		s.run(t)

		s.mu.Lock()
		s.running = false
		if len(s.queue) == 0 {
			s.releaseIdle()
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) releaseIdle() {
	for _, ch := range s.idle {
		close(ch)
	}
	s.idle = nil
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	t.fn()
}

// WaitFor blocks until ready(obs.Get()) holds and returns that value.
func WaitFor[T any](ctx context.Context, obs Observable[T], ready func(T) bool) (T, error) {
	signal := make(chan struct{}, 1)
	cancel := obs.Watch(func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		value := obs.Get()
		if ready(value) {
			return value, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-signal:
		}
	}
}
