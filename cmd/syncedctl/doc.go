// Command syncedctl inspects the documents a go-synced store persisted and
// fetches configured remote resources through the same pipeline the
// library uses.
package main
