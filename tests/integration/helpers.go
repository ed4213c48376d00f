package integration

import (
	"time"

	"courier/internal/config"
	"courier/internal/logger"
	"courier/internal/message"
)

const timestampDelay = 10 * time.Millisecond

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestCanonical(source, sourceMessageID string) message.CanonicalMessage {
	return message.CanonicalMessage{
		Source:          source,
		SourceMessageID: sourceMessageID,
		FromAddress:     "+27824537125",
		Body:            "inbound body",
		Timestamp:       time.Now().UTC(),
	}
}

func createTestEnqueueRequest(body string) message.EnqueueRequest {
	return message.EnqueueRequest{
		ToAddress: "+27824537125",
		Body:      body,
	}
}

func createTestBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Service:          "chat-gateway",
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		SuccessThreshold: 2,
	}
}

func createTestDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts:      4,
		RetrySchedule:    "1s,4s,15s,60s",
		JitterMax:        0,
		PollInterval:     10 * time.Millisecond,
		IdlePollInterval: 50 * time.Millisecond,
		ClaimLease:       time.Minute,
		OpenRetryDelay:   30 * time.Second,
	}
}
