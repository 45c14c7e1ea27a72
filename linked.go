package synced

import (
	"fmt"
	"sync"
)

// Derived is a value computed from dependencies. Reads recompute when a
// dependency changed since the last read. With a setter it is a two-way
// view: writes are translated back into mutations of the dependencies.
type Derived[T any] struct {
	get func() T
	set func(T) error

	mu    sync.Mutex
	value T
	dirty bool
	// epoch counts invalidations; a recompute is cached only if no
	// dependency changed while it ran.
	epoch uint64

	subs     subscribers[Change[T]]
	watchers subscribers[struct{}]
	cancels  []func()
}

// NewLinked returns a two-way view over deps. set may be nil, in which
// case writes fail with ErrUnsupportedOperation.
func NewLinked[T any](get func() T, set func(T) error, deps ...Dependency) *Derived[T] {
	d := &Derived[T]{get: get, set: set, dirty: true}
	for _, dep := range deps {
		if dep != nil {
			d.cancels = append(d.cancels, dep.Watch(d.invalidate))
		}
	}
	return d
}

// NewComputed returns a read-only view over deps.
func NewComputed[T any](get func() T, deps ...Dependency) *Derived[T] {
	return NewLinked(get, nil, deps...)
}

// Get returns the derived value, recomputing it if a dependency changed.
// A dependency that commits during the recompute forces another pass.
func (d *Derived[T]) Get() T {
	for {
		d.mu.Lock()
		if !d.dirty {
			value := d.value
			d.mu.Unlock()
			return value
		}
		epoch := d.epoch
		d.mu.Unlock()

		value := d.get()

		d.mu.Lock()
		if d.epoch == epoch {
			d.value = value
			d.dirty = false
			d.mu.Unlock()
			return value
		}
		d.mu.Unlock()
	}
}

// Set writes through the setter.
func (d *Derived[T]) Set(value T) error {
	if d.set == nil {
		return fmt.Errorf("%w: derived value has no setter", ErrUnsupportedOperation)
	}
	return d.set(value)
}

// Update writes fn(current) through the setter.
func (d *Derived[T]) Update(fn func(prev T) T) error {
	if d.set == nil {
		return fmt.Errorf("%w: derived value has no setter", ErrUnsupportedOperation)
	}
	return d.set(fn(d.Get()))
}

// OnChange subscribes to recomputed values. While at least one listener is
// registered the view recomputes eagerly on every dependency change.
func (d *Derived[T]) OnChange(fn func(Change[T])) (cancel func()) {
	d.Get()
	return d.subs.add(fn)
}

// Watch implements Dependency.
func (d *Derived[T]) Watch(fn func()) (cancel func()) {
	return d.watchers.add(func(struct{}) { fn() })
}

// Close detaches the view from its dependencies.
func (d *Derived[T]) Close() {
	d.mu.Lock()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (d *Derived[T]) invalidate() {
	d.mu.Lock()
	prev := d.value
	wasClean := !d.dirty
	d.dirty = true
	d.epoch++
	d.mu.Unlock()

	d.watchers.notify(struct{}{})
	if d.subs.len() == 0 {
		return
	}
	next := d.Get()
	if !wasClean {
		prev = next
	}
	d.subs.notify(Change[T]{Previous: prev, Value: next})
}
