package domain

import (
	"encoding/json"
	"time"
)

// DefaultEventType tags webhooks that arrive without an X-Webhook-Event header.
const DefaultEventType = "generic"

// WebhookEvent is one row of the append-only webhook_events log. Processed is
// set once the event has been handed to the event stream.
type WebhookEvent struct {
	ID          int64
	EventType   string
	Payload     json.RawMessage
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
