package broker

import (
	"context"
	"fmt"

	"courier/internal/config"
	"courier/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, serviceName, log), nil
	case "", "none":
		return NopProducer{}, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NopProducer discards events. Used when no broker is configured and in
// tests that do not assert on audit output.
type NopProducer struct{}

func (NopProducer) Publish(ctx context.Context, topic string, event Event) error { return nil }

func (NopProducer) Close() error { return nil }
