// Package delivery renders and sends Telegram and webhook
// notifications for newly stored messages. Sends are best-effort
// with bounded retry and no persistent outbox; the message store is
// authoritative and missed pushes can be rebuilt from it.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/pkg/httpretry"
)

// pushMaxAttempts is the total number of delivery attempts per push,
// the first one included.
const pushMaxAttempts = 5

// ErrNotConfigured marks a push skipped because the destination is
// not set up, as opposed to a failed delivery.
var ErrNotConfigured = errors.New("delivery target not configured")

// TelegramClient talks to the Telegram Bot API.
type TelegramClient struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewTelegramClient creates a client for cfg.BaseURL with the
// standard push retry policy.
func NewTelegramClient(cfg config.TelegramConfig) *TelegramClient {
	return &TelegramClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, pushMaxAttempts),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// SendMessage posts text to chatID. The bot token travels only in
// the request URL; callers must keep it out of their logs.
func (c *TelegramClient) SendMessage(ctx context.Context, token, chatID, text string) error {
	if token == "" || chatID == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := c.baseURL + "/bot" + token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors quote the URL, which carries the token.
		return fmt.Errorf("telegram send: %s", redactToken(err.Error(), token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
