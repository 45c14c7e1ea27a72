package activity

import (
	"strings"
	"time"
)

// Verbs emitted by the sync engine.
const (
	VerbDocumentSaved      = "document.saved"
	VerbDocumentSaveFailed = "document.save_failed"
	VerbResourceFetched    = "resource.fetched"
	VerbFetchFailed        = "resource.fetch_failed"
	VerbStaleDiscarded     = "resource.stale_discarded"
)

// Object types carried by sync events.
const (
	ObjectDocument = "document"
	ObjectResource = "resource"
)

// DocumentEventInput describes a persistence write outcome.
type DocumentEventInput struct {
	Name       string
	Format     string
	SnapshotID string
	Bytes      int
	Duration   time.Duration
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// ResourceEventInput describes a remote fetch outcome.
type ResourceEventInput struct {
	Name       string
	Generation uint64
	Items      int
	Reason     string
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildDocumentSavedEvent constructs the event emitted after a committed write.
func BuildDocumentSavedEvent(input DocumentEventInput) Event {
	return buildDocumentEvent(VerbDocumentSaved, input)
}

// BuildDocumentSaveFailedEvent constructs the event emitted when a write fails.
func BuildDocumentSaveFailedEvent(input DocumentEventInput) Event {
	return buildDocumentEvent(VerbDocumentSaveFailed, input)
}

// BuildResourceFetchedEvent constructs the event emitted after a remote read
// was applied to its node.
func BuildResourceFetchedEvent(input ResourceEventInput) Event {
	return buildResourceEvent(VerbResourceFetched, input)
}

// BuildFetchFailedEvent constructs the event emitted when a remote read fails.
func BuildFetchFailedEvent(input ResourceEventInput) Event {
	return buildResourceEvent(VerbFetchFailed, input)
}

// BuildStaleDiscardedEvent constructs the event emitted when a response is
// dropped in favour of a newer request or a local write.
func BuildStaleDiscardedEvent(input ResourceEventInput) Event {
	return buildResourceEvent(VerbStaleDiscarded, input)
}

func buildDocumentEvent(verb string, input DocumentEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Format != "" {
		metadata = ensureMetadata(metadata)
		metadata["format"] = input.Format
	}
	if input.SnapshotID != "" {
		metadata = ensureMetadata(metadata)
		metadata["snapshot_id"] = input.SnapshotID
	}
	if input.Bytes > 0 {
		metadata = ensureMetadata(metadata)
		metadata["bytes"] = input.Bytes
	}
	if input.Duration > 0 {
		metadata = ensureMetadata(metadata)
		metadata["duration_ms"] = input.Duration.Milliseconds()
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}
	return Event{
		Verb:       verb,
		ObjectType: ObjectDocument,
		ObjectID:   strings.TrimSpace(input.Name),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func buildResourceEvent(verb string, input ResourceEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Generation > 0 {
		metadata = ensureMetadata(metadata)
		metadata["generation"] = input.Generation
	}
	if input.Items > 0 {
		metadata = ensureMetadata(metadata)
		metadata["items"] = input.Items
	}
	if input.Reason != "" {
		metadata = ensureMetadata(metadata)
		metadata["reason"] = input.Reason
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}
	return Event{
		Verb:       verb,
		ObjectType: ObjectResource,
		ObjectID:   strings.TrimSpace(input.Name),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
