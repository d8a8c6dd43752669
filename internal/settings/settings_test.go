package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/store"
)

func newTestService(t *testing.T, cfg *config.Config) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	svc := New(st, cfg)
	require.NoError(t, svc.Load(context.Background()))
	return svc, st
}

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{BotToken: "env-token", ChatID: "1001"},
		Webhook:  config.WebhookConfig{URL: ""},
		Poll:     config.PollConfig{IntervalSeconds: 300},
		Auth:     config.AuthConfig{APIToken: "env-api-token"},
	}
}

func TestBootstrapValues(t *testing.T) {
	svc, _ := newTestService(t, baseConfig())

	assert.Equal(t, "env-token", svc.Get(KeyTelegramBotToken))
	assert.Equal(t, "1001", svc.Get(KeyTelegramChatID))
	assert.Equal(t, 300, svc.GetInt(KeyPollInterval, 0))
	assert.True(t, svc.GetBool(KeyMirrorMarkRead, false))
	assert.Equal(t, "", svc.Get(KeyWebhookURL))
}

func TestOverridesBeatBootstrap(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, baseConfig())

	require.NoError(t, svc.Update(ctx, map[string]string{
		KeyTelegramBotToken: "db-token",
		KeyPollInterval:     "60",
		KeyMirrorMarkRead:   "false",
	}))

	assert.Equal(t, "db-token", svc.Get(KeyTelegramBotToken))
	assert.Equal(t, 60, svc.GetInt(KeyPollInterval, 0))
	assert.False(t, svc.GetBool(KeyMirrorMarkRead, true))

	// Untouched keys keep their bootstrap values.
	assert.Equal(t, "1001", svc.Get(KeyTelegramChatID))
}

func TestUpdateIsVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, baseConfig())

	require.NoError(t, svc.Update(ctx, map[string]string{KeyWebhookURL: "https://hooks.example.com/x"}))
	assert.Equal(t, "https://hooks.example.com/x", svc.Get(KeyWebhookURL))

	// The write went through to the table as well.
	v, ok, err := st.GetSetting(ctx, KeyWebhookURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.com/x", v)
}

func TestLoadPicksUpForeignWrites(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, baseConfig())

	// Another component (password change) writes directly to the table.
	require.NoError(t, st.SetSetting(ctx, KeyAdminPasswordHash, "$2a$10$hash"))
	require.NoError(t, svc.Load(ctx))

	assert.Equal(t, "$2a$10$hash", svc.Get(KeyAdminPasswordHash))
}

func TestEffectiveCoversEditableKeys(t *testing.T) {
	svc, _ := newTestService(t, baseConfig())

	eff := svc.Effective()
	assert.Len(t, eff, len(Editable))
	assert.Equal(t, "env-token", eff[KeyTelegramBotToken])
	assert.Equal(t, "true", eff[KeyMirrorMarkRead])

	// Secrets are present unredacted here; masking is the API's job.
	assert.True(t, Secret[KeyTelegramBotToken])
	assert.True(t, Secret[KeyAPIToken])
	assert.False(t, Secret[KeyTelegramChatID])
}

func TestGetIntAndBoolFallbacks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, baseConfig())

	require.NoError(t, svc.Update(ctx, map[string]string{KeyRetentionDays: "garbage"}))
	assert.Equal(t, 30, svc.GetInt(KeyRetentionDays, 30))
	assert.True(t, svc.GetBool("missing_key", true))
	assert.False(t, svc.GetBool("missing_key", false))
}
