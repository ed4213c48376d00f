package bridge

import "fmt"

const (
	KindTimeout     = "timeout"
	KindNetwork     = "network"
	KindRateLimited = "rate_limited"
	KindServerError = "server_error"
	KindClientError = "client_error"
)

// DeliveryError is a classified gateway failure. StatusCode is zero for
// transport-level failures that never produced an HTTP response.
type DeliveryError struct {
	StatusCode      int
	Kind            string
	ResponseExcerpt string
	Err             error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge delivery failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("bridge delivery failed (%s): status %d: %s", e.Kind, e.StatusCode, e.ResponseExcerpt)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry scheduler may try this message again.
// Timeouts, network failures, 408, 429 and 5xx are retryable; any other
// 4xx is terminal.
func (e *DeliveryError) Retryable() bool {
	return e.Kind != KindClientError
}
