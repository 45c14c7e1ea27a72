// Package debounce runs keyed callbacks after a quiet period. A new schedule
// for a key replaces the pending one, so bursts coalesce into one call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer tracks at most one pending timer per key.
type Debouncer struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string]*entry
	running int
	stopped bool
}

type entry struct {
	timer *time.Timer
	fn    func()
}

// New constructs an empty Debouncer.
func New() *Debouncer {
	d := &Debouncer{pending: make(map[string]*entry)}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Schedule arranges for fn to run after delay. A pending callback for key is
// cancelled and replaced. A delay <= 0 still runs fn on its own goroutine so
// callers never block on the write path.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	e := &entry{fn: fn}
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { d.fire(key, e) })
	d.pending[key] = e
}

func (d *Debouncer) fire(key string, e *entry) {
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok || current != e {
		// replaced or flushed while the timer was firing
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.running++
	d.mu.Unlock()

	defer d.done()
	e.fn()
}

func (d *Debouncer) done() {
	d.mu.Lock()
	d.running--
	if d.running == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Pending reports whether a callback is scheduled for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Keys returns the keys with a pending callback.
func (d *Debouncer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	return keys
}

// Flush runs every pending callback whose key matches predicate right away
// and waits until they return, together with any callback that was already
// running. A nil predicate matches every key.
func (d *Debouncer) Flush(predicate func(key string) bool) {
	d.mu.Lock()
	var due []*entry
	for key, e := range d.pending {
		if predicate != nil && !predicate(key) {
			continue
		}
		e.timer.Stop()
		delete(d.pending, key)
		due = append(due, e)
	}
	d.running += len(due)
	d.mu.Unlock()

	for _, e := range due {
		go func(e *entry) {
			defer d.done()
			e.fn()
		}(e)
	}

	d.mu.Lock()
	for d.running > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Stop cancels every pending callback without running it. Later calls to
// Schedule are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
}
