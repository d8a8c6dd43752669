package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/pkg/httpretry"
	"github.com/ignite/mail-aggregator/internal/store"
)

// WebhookPayload is the JSON body posted for each new message. Any
// authentication lives in the URL the user configures.
type WebhookPayload struct {
	AccountEmail string    `json:"account_email"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	ReceivedAt   time.Time `json:"received_at"`
	Summary      string    `json:"summary"`
	Labels       []string  `json:"labels"`
	MessageID    string    `json:"message_id"`
}

// NewWebhookPayload projects a stored message into the wire shape.
func NewWebhookPayload(m *store.Message, accountEmail string) *WebhookPayload {
	labels := m.Labels
	if labels == nil {
		labels = []string{}
	}
	return &WebhookPayload{
		AccountEmail: accountEmail,
		Subject:      m.Subject,
		Sender:       m.Sender,
		ReceivedAt:   m.ReceivedAt,
		Summary:      m.ContentSummary,
		Labels:       labels,
		MessageID:    m.MessageID,
	}
}

// WebhookClient posts message notifications to a user-configured
// URL with the standard push retry policy.
type WebhookClient struct {
	httpClient httpretry.HTTPDoer
}

// NewWebhookClient creates a webhook client.
func NewWebhookClient(cfg config.WebhookConfig) *WebhookClient {
	return &WebhookClient{
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, pushMaxAttempts),
	}
}

// Send posts p to url as JSON. Any 2xx status counts as delivered.
func (c *WebhookClient) Send(ctx context.Context, url string, p *WebhookPayload) error {
	if url == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
