package synced

import (
	"sort"

	"github.com/goliatone/go-synced/pkg/remote"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortObject returns the values of m ordered by field using locale-aware
// string collation. Ties are broken by map key.
func SortObject[V any](m map[string]V, field string) []V {
	return SortObjectIn(language.Und, m, field)
}

// SortObjectIn is SortObject for a specific locale.
func SortObjectIn[V any](tag language.Tag, m map[string]V, field string) []V {
	type entry struct {
		key   string
		label string
		value V
	}
	fieldOf := remote.FieldKey[V](field)
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, entry{key: k, label: fieldOf(v), value: v})
	}
	collator := collate.New(tag)
	sort.Slice(entries, func(i, j int) bool {
		if c := collator.CompareString(entries[i].label, entries[j].label); c != 0 {
			return c < 0
		}
		return entries[i].key < entries[j].key
	})
	out := make([]V, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// NewSortedView derives a sorted slice from a keyed node. It is never
// persisted.
func NewSortedView[V any](source Observable[map[string]V], field string) *Derived[[]V] {
	return NewComputed(func() []V { return SortObject(source.Get(), field) }, source)
}
