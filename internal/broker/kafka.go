package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/metrics"
	"courier/pkg/retry"
	"courier/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	cfg         config.KafkaConfig
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, serviceName string, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, cfg: cfg, logger: log, serviceName: serviceName}
}

// Publish writes one audit event. Transient write failures are retried with
// the configured policy; audit publishing must never be the reason a worker
// iteration fails, so callers treat a returned error as log-and-continue.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{}
	headers = tracing.InjectTraceContext(ctx, headers)

	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
	if p.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = p.cfg.Retry.MaxAttempts
	}
	if p.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = p.cfg.Retry.InitialInterval
	}
	if p.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = p.cfg.Retry.MaxInterval
	}
	if p.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = p.cfg.Retry.Multiplier
	}

	start := time.Now()
	err = retry.RetryWithCallback(ctx, policy, func() error {
		return p.writer.WriteMessages(ctx, kafka.Message{
			Topic:   topic,
			Key:     []byte(event.MessageID),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		})
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.PublishRetriesTotal.WithLabelValues(p.serviceName, topic).Inc()
		p.logger.WarnwCtx(ctx, "Retrying event publish",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
