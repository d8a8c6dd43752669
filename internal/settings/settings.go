// Package settings layers the DB override table over the environment
// bootstrap. Readers get cached snapshots; the cache is re-read
// synchronously whenever an override is written, so a PATCH takes effect
// before its response is sent.
package settings

import (
	"context"
	"strconv"
	"sync"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/store"
)

// Setting keys. The editable set is what the API may write; everything
// else in the settings table (password hash, markers) is owned by other
// components.
const (
	KeyTelegramBotToken  = "telegram_bot_token"
	KeyTelegramChatID    = "telegram_chat_id"
	KeyPollInterval      = "poll_interval_seconds"
	KeyWebhookURL        = "webhook_url"
	KeyAPIToken          = "api_token"
	KeyRetentionDays     = "retention_keep_days"
	KeyRetentionPerAcct  = "retention_keep_per_account"
	KeyMirrorMarkRead    = "imap_mirror_mark_read"
	KeyAdminPasswordHash = "admin_password_hash"
)

// Editable lists the keys the settings API may write.
var Editable = map[string]bool{
	KeyTelegramBotToken: true,
	KeyTelegramChatID:   true,
	KeyPollInterval:     true,
	KeyWebhookURL:       true,
	KeyAPIToken:         true,
	KeyRetentionDays:    true,
	KeyRetentionPerAcct: true,
	KeyMirrorMarkRead:   true,
}

// Secret lists keys whose values are redacted in API responses.
var Secret = map[string]bool{
	KeyTelegramBotToken: true,
	KeyAPIToken:         true,
}

// Service resolves effective settings: DB overrides over env bootstrap.
type Service struct {
	store *store.Store
	base  map[string]string

	mu        sync.RWMutex
	overrides map[string]string
}

// New builds the service with the environment bootstrap derived from cfg.
// Call Load before first use.
func New(st *store.Store, cfg *config.Config) *Service {
	base := map[string]string{
		KeyTelegramBotToken: cfg.Telegram.BotToken,
		KeyTelegramChatID:   cfg.Telegram.ChatID,
		KeyPollInterval:     strconv.Itoa(cfg.Poll.IntervalSeconds),
		KeyWebhookURL:       cfg.Webhook.URL,
		KeyAPIToken:         cfg.Auth.APIToken,
		// Server-side read mirroring defaults on; an override turns it off.
		KeyMirrorMarkRead: "true",
	}
	if cfg.Retention.KeepDays > 0 {
		base[KeyRetentionDays] = strconv.Itoa(cfg.Retention.KeepDays)
	}
	if cfg.Retention.KeepPerAccount > 0 {
		base[KeyRetentionPerAcct] = strconv.Itoa(cfg.Retention.KeepPerAccount)
	}
	return &Service{store: st, base: base, overrides: make(map[string]string)}
}

// Load re-reads the override table into the cache.
func (s *Service) Load(ctx context.Context) error {
	overrides, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.overrides = overrides
	s.mu.Unlock()
	return nil
}

// Get returns the effective value for a key: the DB override when present,
// else the bootstrap value, else "".
func (s *Service) Get(key string) string {
	s.mu.RLock()
	v, ok := s.overrides[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return s.base[key]
}

// GetBool interprets the effective value as a boolean. Unset or
// unparseable values fall back to the given default.
func (s *Service) GetBool(key string, fallback bool) bool {
	v := s.Get(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// GetInt interprets the effective value as an integer with a fallback.
func (s *Service) GetInt(key string, fallback int) int {
	v := s.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Effective returns a snapshot of all effective settings for the editable
// keys. Values are unredacted; the API layer masks secrets.
func (s *Service) Effective() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(Editable))
	for key := range Editable {
		if v, ok := s.overrides[key]; ok {
			out[key] = v
		} else {
			out[key] = s.base[key]
		}
	}
	return out
}

// Update writes overrides and refreshes the cache before returning.
func (s *Service) Update(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	if err := s.store.SetSettings(ctx, values); err != nil {
		return err
	}
	return s.Load(ctx)
}
