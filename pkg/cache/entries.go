// Package cache holds persisted caches of fetched payloads: keyed entries
// such as search results and playlists, and versioned snapshots such as a
// scanned library.
package cache

import (
	"sort"
	"time"

	synced "github.com/goliatone/go-synced"
	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Entry is one cached payload. Entries never expire on their own; use
// FetchedAt to decide staleness.
type Entry[P any] struct {
	Key       string    `json:"key"`
	Payload   P         `json:"payload"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Age returns how long ago the entry was fetched.
func (e Entry[P]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// EntriesOptions configure NewEntries.
type EntriesOptions struct {
	Name        string
	Format      persist.Format
	SaveTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Entries is a persisted map of cache entries.
type Entries[P any] struct {
	coll *synced.SyncedCollection[Entry[P]]
	now  func() time.Time
}

// NewEntries opens the cache document name.
func NewEntries[P any](store *synced.Store, opts EntriesOptions) (*Entries[P], error) {
	coll, err := synced.NewCollection(store, synced.CollectionOptions[Entry[P]]{
		Name: opts.Name,
		Persist: &synced.PersistOptions[map[string]Entry[P]]{
			Name:        opts.Name,
			Format:      opts.Format,
			SaveTimeout: opts.SaveTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Entries[P]{coll: coll, now: now}, nil
}

// Collection exposes the underlying node, e.g. for derived views.
func (c *Entries[P]) Collection() *synced.SyncedCollection[Entry[P]] { return c.coll }

// Put stores payload under key, replacing any previous entry.
func (c *Entries[P]) Put(key string, payload P) error {
	return c.coll.Put(key, Entry[P]{Key: key, Payload: payload, FetchedAt: c.now()})
}

// Get returns the entry for key, or nil.
func (c *Entries[P]) Get(key string) *Entry[P] {
	entry, ok := c.coll.Get()[key]
	if !ok {
		return nil
	}
	return &entry
}

// Delete removes key.
func (c *Entries[P]) Delete(key string) error {
	return c.coll.Remove(key)
}

// Keys returns the cached keys in sorted order.
func (c *Entries[P]) Keys() []string {
	return c.coll.Keys()
}

// Search returns the entries whose key fuzzily matches query, best match
// first. An empty query returns nothing.
func (c *Entries[P]) Search(query string) []Entry[P] {
	if query == "" {
		return nil
	}
	current := c.coll.Get()
	keys := make([]string, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	ranks := fuzzy.RankFindNormalizedFold(query, keys)
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].Target < ranks[j].Target
	})
	out := make([]Entry[P], 0, len(ranks))
	for _, rank := range ranks {
		out = append(out, current[rank.Target])
	}
	return out
}
