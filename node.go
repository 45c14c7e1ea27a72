package synced

import (
	"sync"

	"github.com/goliatone/go-synced/layering"
)

// Change describes one committed mutation.
type Change[T any] struct {
	Previous T
	Value    T
}

// Dependency is anything a derived value or scheduled task can depend on.
// Watch callbacks run synchronously right after a mutation commits, before
// OnChange listeners, and must not block.
type Dependency interface {
	Watch(fn func()) (cancel func())
}

// Observable is a readable and writable state cell.
type Observable[T any] interface {
	Dependency
	Get() T
	Set(value T) error
	Update(fn func(prev T) T) error
	OnChange(fn func(Change[T])) (cancel func())
}

// Node is a mutable, subscribable value. Values handed to and returned by a
// Node are treated as immutable: mutate a copy and Set it.
type Node[T any] struct {
	mu       sync.Mutex
	value    T
	localSeq uint64

	subs     subscribers[Change[T]]
	watchers subscribers[struct{}]

	queue    []Change[T]
	draining bool

	// onLocal is called after a mutation made through the public API.
	onLocal func(Change[T])
}

// NewNode returns a Node holding initial.
func NewNode[T any](initial T) *Node[T] {
	return &Node[T]{value: initial}
}

// Get returns the current value.
func (n *Node[T]) Get() T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Set replaces the value.
func (n *Node[T]) Set(value T) error {
	return n.commit(func(T) (T, error) { return value, nil }, true)
}

// Update replaces the value with fn(prev). fn runs under the node lock, so
// concurrent Updates never observe each other's intermediate state. fn must
// not touch the node.
func (n *Node[T]) Update(fn func(prev T) T) error {
	return n.commit(func(prev T) (T, error) { return fn(prev), nil }, true)
}

// Assign shallow-merges partial into an object-valued node. Struct fields
// holding their zero value are treated as absent, so Assign cannot clear a
// flag or empty a string. Use Update for that, or declare the field as a
// pointer: a non-nil pointer to a zero value is applied.
func (n *Node[T]) Assign(partial T) error {
	return n.commit(func(prev T) (T, error) {
		return layering.Assign(prev, partial)
	}, true)
}

// OnChange registers fn to run after every committed mutation. Listeners
// run in subscription order. A mutation made from inside a listener is
// delivered after the current delivery completes.
func (n *Node[T]) OnChange(fn func(Change[T])) (cancel func()) {
	return n.subs.add(fn)
}

// Watch implements Dependency.
func (n *Node[T]) Watch(fn func()) (cancel func()) {
	return n.watchers.add(func(struct{}) { fn() })
}

// errSkip aborts a commit without reporting an error.
type errSkip struct{}

func (errSkip) Error() string { return "synced: commit skipped" }

// commit applies update under the lock and delivers the change. local marks
// mutations that came from the public API.
func (n *Node[T]) commit(update func(prev T) (T, error), local bool) error {
	n.mu.Lock()
	prev := n.value
	next, err := update(prev)
	if err != nil {
		n.mu.Unlock()
		if _, skipped := err.(errSkip); skipped {
			return nil
		}
		return err
	}
	n.value = next
	if local {
		n.localSeq++
	}
	change := Change[T]{Previous: prev, Value: next}
	n.queue = append(n.queue, change)
	onLocal := n.onLocal
	n.mu.Unlock()

	n.watchers.notify(struct{}{})
	if local && onLocal != nil {
		onLocal(change)
	}
	n.drain()
	return nil
}

// drain delivers queued changes unless another call is already doing so.
func (n *Node[T]) drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		change := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		n.subs.notify(change)
		n.mu.Lock()
	}
	n.queue = nil
	n.draining = false
	n.mu.Unlock()
}

// replace sets the value without counting it as a local mutation.
func (n *Node[T]) replace(value T) error {
	return n.commit(func(T) (T, error) { return value, nil }, false)
}

// subscribers is an ordered, concurrency-safe listener list.
type subscribers[E any] struct {
	mu     sync.Mutex
	nextID uint64
	items  []subscriber[E]
}

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

func (s *subscribers[E]) add(fn func(E)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.items = append(s.items, subscriber[E]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, item := range s.items {
				if item.id == id {
					s.items = append(s.items[:i:i], s.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers[E]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *subscribers[E]) notify(event E) {
	s.mu.Lock()
	items := append([]subscriber[E](nil), s.items...)
	s.mu.Unlock()
	for _, item := range items {
		item.fn(event)
	}
}
