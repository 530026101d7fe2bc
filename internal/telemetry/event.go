package telemetry

import (
	"encoding/json"
	"time"
)

// Event types emitted by the HTTP server and the callback reconciler.
const (
	EventTypeRequest       = "http.request"
	EventTypeWebhookPrefix = "webhook."
)

// Event is a single best-effort telemetry record. It is the Kafka message value
// (JSON) and the source of the OTel log record.
type Event struct {
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	UserID    string          `json:"userId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an Event stamped with the current UTC time. metadata must be
// valid JSON or empty.
func NewEvent(eventType, source, userID string, metadata []byte) *Event {
	return &Event{
		EventType: eventType,
		Source:    source,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}
