// Package usersink forwards sync activity into a go-users ActivitySink so
// document writes and remote fetches show up in the same audit trail as user
// actions.
package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-synced/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts activity events to a go-users ActivitySink. ActorID and
// TenantID fill in events that do not carry their own, typically the
// service account the sync engine runs as.
type Hook struct {
	Sink     usertypes.ActivitySink
	ActorID  string
	TenantID string
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectType == "" || normalized.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	actor := firstNonEmpty(normalized.ActorID, h.ActorID)
	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(actor),
		UserID:     parseUUID(actor),
		TenantID:   parseUUID(firstNonEmpty(normalized.TenantID, h.TenantID)),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    normalized.Channel,
		Data:       normalized.Metadata,
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	return h.Sink.Log(ctx, record)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}
