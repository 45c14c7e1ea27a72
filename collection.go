package synced

import (
	"fmt"
	"maps"
	"reflect"
	"sort"

	"github.com/goliatone/go-synced/layering"
)

// Collection is a keyed node whose entries are addressable as Items.
// Mutations copy the map, so values returned by Get stay stable.
type Collection[V any] struct {
	*Node[map[string]V]
}

// NewKeyed returns a Collection seeded with a copy of initial.
func NewKeyed[V any](initial map[string]V) *Collection[V] {
	return &Collection[V]{Node: NewNode(copyMap(initial))}
}

func copyMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return maps.Clone(m)
}

// Len returns the number of entries.
func (c *Collection[V]) Len() int { return len(c.Get()) }

// Keys returns the entry keys in sorted order.
func (c *Collection[V]) Keys() []string {
	current := c.Get()
	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Item addresses the entry stored under key. The entry need not exist.
func (c *Collection[V]) Item(key string) *Item[V] {
	return &Item[V]{parent: c, key: key}
}

// Put stores value under key.
func (c *Collection[V]) Put(key string, value V) error {
	return c.Update(func(prev map[string]V) map[string]V {
		next := copyMap(prev)
		next[key] = value
		return next
	})
}

// Remove deletes key. Removing a missing key is not a mutation.
func (c *Collection[V]) Remove(key string) error {
	return c.commit(func(prev map[string]V) (map[string]V, error) {
		if _, ok := prev[key]; !ok {
			return prev, errSkip{}
		}
		next := copyMap(prev)
		delete(next, key)
		return next, nil
	}, true)
}

// AssignItems merges items keyed by key: existing keys are overwritten and
// keys absent from items are kept. It returns how many items had no key.
func (c *Collection[V]) AssignItems(items []V, key func(V) string) (int, error) {
	skipped := 0
	err := c.Update(func(prev map[string]V) map[string]V {
		var next map[string]V
		next, skipped = layering.MergeByKey(prev, items, key)
		return next
	})
	return skipped, err
}

// Item is one entry of a Collection.
type Item[V any] struct {
	parent *Collection[V]
	key    string
}

// Key returns the entry key.
func (i *Item[V]) Key() string { return i.key }

// Get returns the entry value, or the zero value when absent.
func (i *Item[V]) Get() V {
	return i.parent.Get()[i.key]
}

// Exists reports whether the entry is present.
func (i *Item[V]) Exists() bool {
	_, ok := i.parent.Get()[i.key]
	return ok
}

// Set stores value under the entry key.
func (i *Item[V]) Set(value V) error {
	return i.parent.Put(i.key, value)
}

// Update replaces the entry with fn(prev). An absent entry passes the zero
// value.
func (i *Item[V]) Update(fn func(prev V) V) error {
	return i.parent.Update(func(prev map[string]V) map[string]V {
		next := copyMap(prev)
		next[i.key] = fn(prev[i.key])
		return next
	})
}

// Assign shallow-merges partial into the entry.
func (i *Item[V]) Assign(partial V) error {
	return i.parent.commit(func(prev map[string]V) (map[string]V, error) {
		merged, err := layering.Assign(prev[i.key], partial)
		if err != nil {
			return prev, fmt.Errorf("synced: assign %q: %w", i.key, err)
		}
		next := copyMap(prev)
		next[i.key] = merged
		return next, nil
	}, true)
}

// Delete removes the entry from its collection.
func (i *Item[V]) Delete() error {
	return i.parent.Remove(i.key)
}

// OnChange fires when the entry is added, changed or removed.
func (i *Item[V]) OnChange(fn func(Change[V])) (cancel func()) {
	return i.parent.OnChange(func(change Change[map[string]V]) {
		prev, hadPrev := change.Previous[i.key]
		next, hasNext := change.Value[i.key]
		if hadPrev == hasNext && reflect.DeepEqual(prev, next) {
			return
		}
		fn(Change[V]{Previous: prev, Value: next})
	})
}

// Watch implements Dependency. It fires on any change to the collection.
func (i *Item[V]) Watch(fn func()) (cancel func()) {
	return i.parent.Watch(fn)
}
