package ingest

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/message"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/metrics"
)

// Result reports where an ingested record landed. Idempotent is true when
// the record already existed and StoredID is the existing row's id.
type Result struct {
	StoredID   string `json:"id"`
	Idempotent bool   `json:"idempotent"`
}

type Service interface {
	Ingest(ctx context.Context, cm message.CanonicalMessage) (*Result, error)
}

type service struct {
	repo     message.Repository
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewService(repo message.Repository, producer broker.Producer, cfg config.BrokerConfig, log logger.Logger) Service {
	topic := cfg.Kafka.AuditTopic
	if topic == "" {
		topic = constants.DefaultAuditTopic
	}
	return &service{
		repo:     repo,
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

// Ingest persists one canonical inbound record at most once per
// (source, source_message_id) pair. The normalizer upstream is responsible
// for shape; required fields are still rejected here defensively.
func (s *service) Ingest(ctx context.Context, cm message.CanonicalMessage) (*Result, error) {
	start := time.Now()

	if err := validateCanonical(&cm); err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(cm.Source, "rejected").Inc()
		return nil, err
	}

	id, idempotent, err := s.repo.InsertInbound(ctx, cm)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(cm.Source, "error").Inc()
		return nil, err
	}

	if idempotent {
		metrics.IngestMessagesTotal.WithLabelValues(cm.Source, "duplicate").Inc()
		metrics.ObserveIngestDuration(time.Since(start), "duplicate")
		s.logger.InfowCtx(ctx, "Duplicate ingestion suppressed",
			"message_id", id,
			"source", cm.Source,
			"source_message_id", cm.SourceMessageID,
		)
		return &Result{StoredID: id, Idempotent: true}, nil
	}

	s.publishIngested(ctx, id, cm)

	metrics.IngestMessagesTotal.WithLabelValues(cm.Source, "new").Inc()
	metrics.ObserveIngestDuration(time.Since(start), "new")
	s.logger.InfowCtx(ctx, "Inbound message ingested",
		"message_id", id,
		"source", cm.Source,
		"source_message_id", cm.SourceMessageID,
	)

	return &Result{StoredID: id, Idempotent: false}, nil
}

func validateCanonical(cm *message.CanonicalMessage) error {
	if strings.TrimSpace(cm.Source) == "" {
		return pkgerrors.Validation("source", "is required")
	}
	if strings.TrimSpace(cm.SourceMessageID) == "" {
		return pkgerrors.Validation("source_message_id", "is required")
	}
	if !message.IsPhoneAddress(cm.FromAddress) {
		return pkgerrors.Validation("from_address", "must be an E.164-like phone number")
	}

	cm.Body = strings.TrimSpace(cm.Body)
	if cm.Body == "" {
		return pkgerrors.Validation("body", "is required")
	}
	if utf8.RuneCountInString(cm.Body) > constants.MaxBodyLen {
		return pkgerrors.Validation("body", "must be at most 1024 characters")
	}

	if cm.Timestamp.IsZero() {
		return pkgerrors.Validation("timestamp", "is required")
	}

	return nil
}

// publishIngested is best-effort: the row is already committed, so a broker
// outage must not turn a successful ingestion into an error response.
func (s *service) publishIngested(ctx context.Context, id string, cm message.CanonicalMessage) {
	event := broker.Event{
		ID:         uuid.New().String(),
		Type:       broker.EventIngestedOK,
		MessageID:  id,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]interface{}{
			"source":            cm.Source,
			"source_message_id": cm.SourceMessageID,
			"from_address":      cm.FromAddress,
		},
	}

	if err := s.producer.Publish(ctx, s.topic, event); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish ingestion audit event",
			"error", err,
			"message_id", id,
			"topic", s.topic,
		)
	}
}
