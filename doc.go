// Package synced keeps application state in observable nodes that mirror
// themselves to durable storage and reconcile with remote resources.
//
// A Store owns the shared persistence plugin and a scheduler. Nodes built
// with New or NewCollection seed themselves from the persisted snapshot,
// fetch from the remote source once their WaitFor gate opens, and save
// every change on a debounce timer. Derived views (NewComputed, NewLinked,
// NewSortedView) recompute from their dependencies on read.
//
//	store := synced.NewStore(synced.WithPlugin(plugin))
//	defer store.Close(ctx)
//
//	settings, err := synced.NewJSONManager(ctx, store, synced.JSONManagerOptions[Settings]{
//		Filename: "settings.json",
//		Initial:  DefaultSettings(),
//	})
package synced
