// Package persist mirrors in-memory documents to durable storage.
//
// A Plugin owns one Backend and any number of named documents. Saves are
// debounced per document: a Save while a write is pending resets the timer
// instead of queueing a second write. When the timer fires the value is
// encoded with the document's Codec and handed to the Backend, which replaces
// the previous copy atomically. Write failures are logged and reported
// through activity hooks and metrics; the caller's in-memory value stays
// authoritative and the next Save tries again.
package persist
