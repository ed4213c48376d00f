package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/message"
	"courier/pkg/metrics"
)

// Emitter writes one audit event per message transition into
// permanently_failed. The dispatcher calls it exactly once per transition;
// when the feature flag is off nothing is written but the status change
// still stands.
type Emitter struct {
	enabled  bool
	producer broker.Producer
	topic    string
	archive  ArchiveRepository
	logger   logger.Logger
}

func NewEmitter(cfg config.DeadLetterConfig, brokerCfg config.BrokerConfig, producer broker.Producer, archive ArchiveRepository, log logger.Logger) *Emitter {
	topic := brokerCfg.Kafka.DeadLetterTopic
	if topic == "" {
		topic = constants.DefaultDeadLetterTopic
	}
	if !cfg.Archive {
		archive = nil
	}
	return &Emitter{
		enabled:  cfg.Enabled,
		producer: producer,
		topic:    topic,
		archive:  archive,
		logger:   log,
	}
}

func (e *Emitter) Enabled() bool {
	return e.enabled
}

// Emit publishes the dead-letter event and, when configured, archives the
// snapshot. Both writes are best-effort: the terminal status is already
// committed and must not be rolled back over audit plumbing.
func (e *Emitter) Emit(ctx context.Context, msg *message.Message, last *message.Attempt) {
	if !e.enabled {
		return
	}

	failedAt := time.Now().UTC()
	rec := newRecord(msg, last, failedAt)

	metrics.DeadLetterTotal.WithLabelValues(rec.ErrorKind).Inc()

	event := broker.Event{
		ID:         uuid.New().String(),
		Type:       broker.EventDeadLetter,
		MessageID:  msg.ID,
		OccurredAt: failedAt,
		Payload: map[string]interface{}{
			"message": rec,
		},
	}
	if err := e.producer.Publish(ctx, e.topic, event); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to publish dead-letter event",
			"error", err,
			"message_id", msg.ID,
			"topic", e.topic,
		)
	}

	if e.archive != nil {
		if err := e.archive.Insert(ctx, rec); err != nil {
			e.logger.ErrorwCtx(ctx, "Failed to archive dead letter",
				"error", err,
				"message_id", msg.ID,
			)
		}
	}

	e.logger.InfowCtx(ctx, "Message dead-lettered",
		"message_id", msg.ID,
		"attempt_count", msg.AttemptCount,
		"error_kind", rec.ErrorKind,
	)
}
