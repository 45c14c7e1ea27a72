package cache

import (
	"context"
	"time"

	synced "github.com/goliatone/go-synced"
	"github.com/goliatone/go-synced/layering"
	"github.com/goliatone/go-synced/pkg/persist"
)

// Document is the stored shape of a Versioned cache.
type Document[T any] struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Data      T         `json:"data"`
}

// VersionedOptions configure NewVersioned.
type VersionedOptions[T any] struct {
	Name        string
	Version     int
	Initial     T
	Format      persist.Format
	SaveTimeout time.Duration
	// Sanitize runs on data loaded from a snapshot of the current version.
	Sanitize func(T) T
}

// Versioned is a cached snapshot that is discarded when its stored version
// differs from the current one.
type Versioned[T any] struct {
	node    *synced.Synced[Document[T]]
	initial T
	version int
}

// NewVersioned opens the versioned document.
func NewVersioned[T any](store *synced.Store, opts VersionedOptions[T]) (*Versioned[T], error) {
	fresh := func() Document[T] {
		return Document[T]{Version: opts.Version, Data: layering.Clone(opts.Initial)}
	}
	node, err := synced.New(store, synced.SyncOptions[Document[T]]{
		Name:    opts.Name,
		Initial: Document[T]{Data: opts.Initial},
		Persist: &synced.PersistOptions[Document[T]]{
			Name:        opts.Name,
			Format:      opts.Format,
			SaveTimeout: opts.SaveTimeout,
			Load: func(doc Document[T]) (Document[T], error) {
				if doc.Version != opts.Version {
					return fresh(), nil
				}
				if opts.Sanitize != nil {
					doc.Data = opts.Sanitize(doc.Data)
				}
				return doc, nil
			},
			Save: func(doc Document[T]) (Document[T], error) {
				doc.Version = opts.Version
				if doc.UpdatedAt.IsZero() {
					doc.UpdatedAt = time.Now()
				}
				return doc, nil
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Versioned[T]{node: node, initial: opts.Initial, version: opts.Version}, nil
}

// Get returns the cached data.
func (v *Versioned[T]) Get() T { return v.node.Get().Data }

// UpdatedAt returns when the data was last replaced.
func (v *Versioned[T]) UpdatedAt() time.Time { return v.node.Get().UpdatedAt }

// Set replaces the cached data.
func (v *Versioned[T]) Set(data T) error {
	return v.node.Set(Document[T]{Version: v.version, UpdatedAt: time.Now(), Data: data})
}

// Update replaces the cached data with fn(prev).
func (v *Versioned[T]) Update(fn func(prev T) T) error {
	return v.node.Update(func(prev Document[T]) Document[T] {
		return Document[T]{Version: v.version, UpdatedAt: time.Now(), Data: fn(prev.Data)}
	})
}

// Reset restores the initial data.
func (v *Versioned[T]) Reset() error {
	return v.Set(layering.Clone(v.initial))
}

// Hydrate re-reads the stored snapshot.
func (v *Versioned[T]) Hydrate(ctx context.Context) error {
	return v.node.Hydrate(ctx)
}

// Node exposes the underlying synced node.
func (v *Versioned[T]) Node() *synced.Synced[Document[T]] { return v.node }
