package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"unicode/utf8"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/message"
)

// Client sends one outbound message to the downstream chat gateway and
// returns the gateway-assigned external message id.
type Client interface {
	Send(ctx context.Context, msg *message.Message) (string, error)
}

type sendRequest struct {
	To       string                `json:"to"`
	Text     string                `json:"text,omitempty"`
	Template *message.TemplateSpec `json:"template,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
}

type HTTPClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	logger     logger.Logger
}

func NewHTTPClient(cfg config.BridgeConfig, log logger.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultBridgeTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		logger:     log,
	}
}

// Send posts {to, text} or {to, template} to the gateway. Any non-2xx or
// transport failure comes back as a *DeliveryError carrying the status
// code, a classified error kind and a response excerpt; the classification
// happens here, once, so callers never inspect bodies or error strings.
func (c *HTTPClient) Send(ctx context.Context, msg *message.Message) (string, error) {
	payload := sendRequest{To: msg.ToAddress}
	if msg.Template != nil {
		payload.Template = msg.Template
	} else {
		payload.Text = msg.Body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			// Delivered; a truncated success body only costs us the id.
			c.logger.WarnwCtx(ctx, "Failed to read gateway success response",
				"error", readErr,
				"message_id", msg.ID,
			)
			return "", nil
		}
		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", nil
		}
		if parsed.MessageID != "" {
			return parsed.MessageID, nil
		}
		return parsed.ID, nil
	}

	return "", classifyStatus(resp.StatusCode, respBody)
}

func classifyTransportError(err error) *DeliveryError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &DeliveryError{
		Kind: kind,
		Err:  err,
	}
}

func classifyStatus(statusCode int, body []byte) *DeliveryError {
	var kind string
	switch {
	case statusCode == http.StatusRequestTimeout:
		kind = KindTimeout
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode >= 500:
		kind = KindServerError
	default:
		kind = KindClientError
	}
	return &DeliveryError{
		StatusCode:      statusCode,
		Kind:            kind,
		ResponseExcerpt: excerpt(body),
	}
}

func excerpt(body []byte) string {
	s := string(body)
	if len(s) > constants.ResponseExcerptLen {
		s = s[:constants.ResponseExcerptLen]
		// A byte cut can split a rune; drop the partial tail so the
		// excerpt stays valid UTF-8 for the attempt audit row.
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}
