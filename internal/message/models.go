package message

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued            Status = "queued"
	StatusSending           Status = "sending"
	StatusSent              Status = "sent"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// IsTerminal reports whether no further processing may occur for a message
// in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusPermanentlyFailed
}

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRetry       Outcome = "retry"
	OutcomeFail        Outcome = "fail"
	OutcomeBreakerOpen Outcome = "breaker_open"
)

// TemplateSpec is the structured payload for templated sends.
type TemplateSpec struct {
	Name       string                   `json:"name"`
	Language   string                   `json:"language"`
	Components []map[string]interface{} `json:"components,omitempty"`
}

// Message is one inbound or outbound communication. Rows are never deleted;
// the table doubles as the audit trail.
type Message struct {
	ID              string                 `json:"id"`
	Source          string                 `json:"source"`
	SourceMessageID string                 `json:"source_message_id"`
	Direction       Direction              `json:"direction"`
	FromAddress     string                 `json:"from_address,omitempty"`
	ToAddress       string                 `json:"to_address,omitempty"`
	Body            string                 `json:"body,omitempty"`
	Status          Status                 `json:"status,omitempty"`
	AttemptCount    int                    `json:"attempt_count"`
	NextAttemptAt   *time.Time             `json:"next_attempt_at,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	LastErrorAt     *time.Time             `json:"last_error_at,omitempty"`
	Template        *TemplateSpec          `json:"template,omitempty"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Attempt is one delivery attempt against a message. Append-only.
type Attempt struct {
	ID              int64     `json:"-"`
	MessageID       string    `json:"message_id"`
	AttemptNumber   int       `json:"attempt_number"`
	HTTPCode        int       `json:"http_code,omitempty"`
	Outcome         Outcome   `json:"outcome"`
	LatencyMS       int64     `json:"latency_ms"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ResponseExcerpt string    `json:"response_excerpt,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CanonicalMessage is the normalized inbound record produced by the
// upstream payload adapters.
type CanonicalMessage struct {
	Source          string                 `json:"source"`
	SourceMessageID string                 `json:"source_message_id"`
	FromAddress     string                 `json:"from_address"`
	Body            string                 `json:"body"`
	Timestamp       time.Time              `json:"timestamp"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
}

// EnqueueRequest creates an outbound message with either a plain body or a
// template spec.
type EnqueueRequest struct {
	ToAddress string        `json:"to_address"`
	Body      string        `json:"body,omitempty"`
	Template  *TemplateSpec `json:"template,omitempty"`
}

// StatusView is the status query response shape.
type StatusView struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Attempts      []Attempt  `json:"attempts"`
}
