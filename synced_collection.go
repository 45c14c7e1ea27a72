package synced

import (
	"context"
	"errors"

	"github.com/goliatone/go-synced/layering"
)

// CollectionOptions configure NewCollection.
type CollectionOptions[V any] struct {
	Name    string
	Initial map[string]V
	Persist *PersistOptions[map[string]V]
	List    func(ctx context.Context) ([]V, error)
	// Key extracts the collection key of a listed item.
	Key func(V) string
	// Mode defaults to ModeAssign. ModeSet replaces the collection with
	// the listed items.
	Mode     Mode
	Set      func(ctx context.Context, value map[string]V) error
	WaitFor  Waiter
	Triggers []Dependency
	Deferred bool
}

// SyncedCollection is a Collection hydrated from a persisted snapshot and
// merged with the items of a remote list.
type SyncedCollection[V any] struct {
	*Collection[V]
	*engine[map[string]V]
}

// NewCollection builds a synced keyed collection.
func NewCollection[V any](store *Store, opts CollectionOptions[V]) (*SyncedCollection[V], error) {
	if opts.List != nil && opts.Key == nil {
		return nil, errors.New("synced: list collections need a key function")
	}
	initial := copyMap(opts.Initial)
	coll := NewKeyed(layering.Clone(initial))
	e, err := newEngine(store, coll.Node, engineConfig[map[string]V]{
		name:     opts.Name,
		initial:  initial,
		persist:  opts.Persist,
		push:     opts.Set,
		waitFor:  opts.WaitFor,
		triggers: opts.Triggers,
	})
	if err != nil {
		return nil, err
	}
	if opts.List != nil {
		mode := opts.Mode
		if mode == "" {
			mode = ModeAssign
		}
		e.cfg.retryOnLocal = mode == ModeAssign
		e.fetch = func(ctx context.Context) (func(map[string]V) (map[string]V, error), int, error) {
			items, err := opts.List(ctx)
			if err != nil {
				return nil, 0, err
			}
			return func(prev map[string]V) (map[string]V, error) {
				base := prev
				if mode == ModeSet {
					base = nil
				}
				next, skipped := layering.MergeByKey(base, items, opts.Key)
				if skipped > 0 {
					e.logger().Debug("listed items without key skipped", "count", skipped)
				}
				return next, nil
			}, len(items), nil
		}
	}
	s := &SyncedCollection[V]{Collection: coll, engine: e}
	if err := e.init(opts.Deferred); err != nil {
		return nil, err
	}
	return s, nil
}
