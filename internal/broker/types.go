package broker

import (
	"context"
	"time"
)

const (
	EventIngestedOK          = "ingested_ok"
	EventDeadLetter          = "message_dead_lettered"
	EventBreakerStateChanged = "breaker_state_changed"
)

// Event is the audit envelope published for ingestion, dead-letter and
// breaker transitions.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	MessageID  string                 `json:"message_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

type Producer interface {
	Publish(ctx context.Context, topic string, event Event) error
	Close() error
}
