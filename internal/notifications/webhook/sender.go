// Package webhook delivers notifications by POSTing them as JSON to a single
// configured endpoint, typically a mobile-push or mail gateway run by the
// municipality. The receiving side fans out to the actual user device.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicgrid/drainflow/internal/notifications"
)

const defaultTimeout = 10 * time.Second

// Config holds webhook sender configuration.
type Config struct {
	Endpoint  string        // delivery gateway URL
	AuthToken string        // optional bearer token
	Timeout   time.Duration // request timeout
}

// Sender posts notification payloads to the configured endpoint.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type deliveryRequest struct {
	RecipientID string                `json:"recipient_id"`
	Payload     notifications.Payload `json:"payload"`
}

// Send delivers one payload to one recipient.
func (s *Sender) Send(ctx context.Context, recipientID string, payload notifications.Payload) error {
	if s.config.Endpoint == "" {
		return notifications.NewNonRetryableError(fmt.Errorf("webhook endpoint is not configured"))
	}

	body, err := json.Marshal(deliveryRequest{
		RecipientID: recipientID,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AuthToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, recipientID)
}

func (s *Sender) handleResponse(resp *http.Response, recipientID string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("webhook delivery accepted", "recipient_id", recipientID)
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return notifications.NewRetryableError(fmt.Errorf("gateway rate limited"))

	case resp.StatusCode >= 500:
		return notifications.NewRetryableError(fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(body)))

	default:
		// 4xx besides 429: the request itself is wrong, retrying won't help.
		return notifications.NewNonRetryableError(fmt.Errorf("gateway rejected delivery %d: %s", resp.StatusCode, string(body)))
	}
}
