package synced

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-synced/layering"
	"github.com/goliatone/go-synced/pkg/persist"
)

// JSONManagerOptions configure a whole-document state file.
type JSONManagerOptions[T any] struct {
	// Filename names the document. A trailing extension is dropped; the
	// plugin appends the one of Format.
	Filename    string
	Initial     T
	Format      persist.Format
	SaveTimeout time.Duration
	// NoPreload starts from Initial and reads the document on Hydrate.
	NoPreload bool
}

// JSONManager is a persisted document with a load once, mutate locally,
// autosave contract: settings, caches and preferences.
type JSONManager[T any] struct {
	*Synced[T]
	store   *Store
	name    string
	initial T
}

// NewJSONManager preloads the document and returns a node bound to it.
func NewJSONManager[T any](ctx context.Context, store *Store, opts JSONManagerOptions[T]) (*JSONManager[T], error) {
	name := strings.TrimSuffix(opts.Filename, filepath.Ext(opts.Filename))
	format := opts.Format
	if format == "" {
		format = persist.FormatJSON
	}
	timeout := opts.SaveTimeout
	if timeout == 0 {
		timeout = persist.DefaultSaveTimeout
	}
	if !opts.NoPreload {
		if err := store.plugin.Configure(name, persist.DocumentOptions{Format: format, SaveTimeout: timeout}); err != nil {
			return nil, err
		}
		if err := store.Preload(ctx, name); err != nil {
			store.logger.Warn("document preload failed, starting from defaults", "document", name, "error", err)
		}
	}
	node, err := New(store, SyncOptions[T]{
		Name:    name,
		Initial: opts.Initial,
		Persist: &PersistOptions[T]{
			Name:        name,
			Format:      format,
			SaveTimeout: timeout,
			Lazy:        opts.NoPreload,
		},
	})
	if err != nil {
		return nil, err
	}
	return &JSONManager[T]{Synced: node, store: store, name: name, initial: opts.Initial}, nil
}

// Document returns the document name.
func (m *JSONManager[T]) Document() string { return m.name }

// Plugin returns the plugin the document is written through.
func (m *JSONManager[T]) Plugin() *persist.Plugin { return m.store.plugin }

// Flush writes a pending save of this document now.
func (m *JSONManager[T]) Flush(ctx context.Context) error {
	return m.store.plugin.Flush(ctx, func(name string) bool { return name == m.name })
}

// Reset restores the initial value. The reset is saved like any mutation.
func (m *JSONManager[T]) Reset() error {
	return m.Set(layering.Clone(m.initial))
}
