package deadletter

import (
	"time"

	"courier/internal/message"
)

// Record is the archived snapshot of a message that exhausted its retries,
// together with the final attempt's failure context.
type Record struct {
	MessageID       string                `bson:"message_id" json:"message_id"`
	Source          string                `bson:"source" json:"source"`
	FromAddress     string                `bson:"from_address,omitempty" json:"from_address,omitempty"`
	ToAddress       string                `bson:"to_address,omitempty" json:"to_address,omitempty"`
	Body            string                `bson:"body,omitempty" json:"body,omitempty"`
	Template        *message.TemplateSpec `bson:"template,omitempty" json:"template,omitempty"`
	AttemptCount    int                   `bson:"attempt_count" json:"attempt_count"`
	LastError       string                `bson:"last_error,omitempty" json:"last_error,omitempty"`
	HTTPCode        int                   `bson:"http_code,omitempty" json:"http_code,omitempty"`
	ErrorKind       string                `bson:"error_kind,omitempty" json:"error_kind,omitempty"`
	ResponseExcerpt string                `bson:"response_excerpt,omitempty" json:"response_excerpt,omitempty"`
	FailedAt        time.Time             `bson:"failed_at" json:"failed_at"`
}

func newRecord(msg *message.Message, last *message.Attempt, failedAt time.Time) Record {
	rec := Record{
		MessageID:    msg.ID,
		Source:       msg.Source,
		FromAddress:  msg.FromAddress,
		ToAddress:    msg.ToAddress,
		Body:         msg.Body,
		Template:     msg.Template,
		AttemptCount: msg.AttemptCount,
		LastError:    msg.LastError,
		FailedAt:     failedAt,
	}
	if last != nil {
		rec.HTTPCode = last.HTTPCode
		rec.ErrorKind = last.ErrorKind
		rec.ResponseExcerpt = last.ResponseExcerpt
	}
	return rec
}
