package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateBridge(cfg.Bridge); err != nil {
		errors = append(errors, err)
	}

	if err := validateDispatch(cfg.Dispatch); err != nil {
		errors = append(errors, err)
	}

	if err := validateBreaker(cfg.Breaker); err != nil {
		errors = append(errors, err)
	}

	if cfg.Broker.Type != "" {
		if err := validateBroker(cfg.Broker); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "postgres host is required",
		}
	}

	if cfg.Postgres.Port < 1 || cfg.Postgres.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Postgres.Port),
		}
	}

	return nil
}

func validateBridge(cfg BridgeConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "bridge.url",
			Message: "bridge gateway URL is required",
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "bridge.timeout",
			Message: "request timeout must be positive",
		}
	}

	return nil
}

func validateDispatch(cfg DispatchConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "dispatch.max_attempts",
			Message: fmt.Sprintf("max_attempts must be at least 1, got %d", cfg.MaxAttempts),
		}
	}

	if _, err := ParseRetrySchedule(cfg.RetrySchedule); err != nil {
		return &ValidationError{
			Field:   "dispatch.retry_schedule",
			Message: err.Error(),
		}
	}

	if cfg.JitterMax < 0 {
		return &ValidationError{
			Field:   "dispatch.jitter_max",
			Message: "jitter bound must be non-negative",
		}
	}

	if cfg.PollInterval <= 0 || cfg.IdlePollInterval <= 0 {
		return &ValidationError{
			Field:   "dispatch.poll_interval",
			Message: "poll intervals must be positive",
		}
	}

	if cfg.ClaimLease <= 0 {
		return &ValidationError{
			Field:   "dispatch.claim_lease",
			Message: "claim lease must be positive",
		}
	}

	return nil
}

func validateBreaker(cfg BreakerConfig) error {
	if cfg.FailureThreshold < 1 {
		return &ValidationError{
			Field:   "breaker.failure_threshold",
			Message: fmt.Sprintf("failure threshold must be at least 1, got %d", cfg.FailureThreshold),
		}
	}

	if cfg.Cooldown <= 0 {
		return &ValidationError{
			Field:   "breaker.cooldown",
			Message: "cooldown must be positive",
		}
	}

	if cfg.SuccessThreshold < 1 {
		return &ValidationError{
			Field:   "breaker.success_threshold",
			Message: fmt.Sprintf("success threshold must be at least 1, got %d", cfg.SuccessThreshold),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "none":
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	return nil
}

// ParseRetrySchedule parses an operator-configured backoff schedule
// ("1s,4s,15s,60s") into a typed list of durations. The schedule must be
// non-empty and non-decreasing so that later attempts never get a shorter
// base delay than earlier ones.
func ParseRetrySchedule(s string) ([]time.Duration, error) {
	parts := strings.Split(s, ",")
	if len(parts) == 0 || strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("retry schedule cannot be empty")
	}

	schedule := make([]time.Duration, 0, len(parts))
	for i, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid duration at position %d: %q", i, part)
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration at position %d must be positive, got %s", i, d)
		}
		if i > 0 && d < schedule[i-1] {
			return nil, fmt.Errorf("schedule must be non-decreasing: %s at position %d is shorter than %s", d, i, schedule[i-1])
		}
		schedule = append(schedule, d)
	}

	return schedule, nil
}
