package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/huddlehq/huddle/internal/db/models"
)

// WebhookConfig holds webhook publisher configuration
type WebhookConfig struct {
	// URL is the webhook endpoint
	URL string
	// Headers are additional HTTP headers to send
	Headers map[string]string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// webhookEnvelope is the JSON body posted for each event
type webhookEnvelope struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// WebhookPublisher posts events to an HTTP endpoint, one request per event. The outbox id is
// sent as the Idempotency-Key header.
type WebhookPublisher struct {
	cfg    *WebhookConfig
	client *http.Client
}

// NewWebhookPublisher creates a new webhook publisher
func NewWebhookPublisher(cfg *WebhookConfig) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Publish posts the event
func (p *WebhookPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	data, err := json.Marshal(webhookEnvelope{
		ID:        event.ID,
		Type:      event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal outbox event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "outbox-"+strconv.FormatInt(event.ID, 10))
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close is a no-op
func (p *WebhookPublisher) Close() error {
	return nil
}
