package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-aggregator/internal/settings"
)

func TestGetSettingsMasksSecrets(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	require.NoError(t, a.settings.Update(ctx, map[string]string{
		settings.KeyTelegramBotToken: "123456:ABCDEF",
		settings.KeyTelegramChatID:   "-100200300",
	}))

	rec := a.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)

	assert.Equal(t, "***", body["telegram_bot_token"])
	assert.Equal(t, "-100200300", body["telegram_chat_id"])
	// Unset secrets stay empty so the UI can tell unset from set.
	assert.Equal(t, "", body["api_token"])
	// The password hash is not editable and never listed.
	assert.NotContains(t, body, "admin_password_hash")
}

func TestUpdateSettings(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{
		"telegram_chat_id":      "42",
		"poll_interval_seconds": 60,
		"imap_mirror_mark_read": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Visible immediately, numbers and bools coerced to strings.
	assert.Equal(t, "42", a.settings.Get(settings.KeyTelegramChatID))
	assert.Equal(t, 60, a.settings.GetInt(settings.KeyPollInterval, 0))
	assert.False(t, a.settings.GetBool(settings.KeyMirrorMarkRead, true))
}

func TestUpdateSettingsValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"favorite_color": "green"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown setting: favorite_color", decodeMap(t, rec)["error"])

	rec = a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"poll_interval_seconds": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"retention_keep_days": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"imap_mirror_mark_read": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A failed batch writes nothing.
	assert.Equal(t, "", a.settings.Get(settings.KeyRetentionDays))
}

func TestUpdateSettingsMasksResponse(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"api_token": "sekret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "***", decodeMap(t, rec)["api_token"])
	assert.Equal(t, "sekret", a.settings.Get(settings.KeyAPIToken))
}

func TestExportSettings(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	require.NoError(t, a.settings.Update(ctx, map[string]string{
		settings.KeyTelegramBotToken: "123456:ABCDEF",
	}))
	id := accountID(t, a.createAccount(t, "box@example.com"))
	rec := a.do(t, http.MethodPost, "/api/accounts/"+itoa(id)+"/telegram-rules", map[string]interface{}{
		"field": "sender", "mode": "allow", "value": "boss@corp.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/settings/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	body := decodeMap(t, rec)
	// The export is the restore mechanism: secrets stay verbatim.
	exportedSettings := body["settings"].(map[string]interface{})
	assert.Equal(t, "123456:ABCDEF", exportedSettings["telegram_bot_token"])

	accounts := body["accounts"].([]interface{})
	require.Len(t, accounts, 1)
	account := accounts[0].(map[string]interface{})
	assert.Equal(t, "box@example.com", account["email"])

	stored, err := a.store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stored.EncryptedPwd, account["encrypted_pwd"])

	tr := account["telegram_rules"].([]interface{})
	require.Len(t, tr, 1)
	assert.Equal(t, "boss@corp.com", tr[0].(map[string]interface{})["value"])
}

func TestImportRestoresExport(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	id := accountID(t, a.createAccount(t, "box@example.com"))
	rec := a.do(t, http.MethodPost, "/api/accounts/"+itoa(id)+"/telegram-rules", map[string]interface{}{
		"field": "subject", "mode": "deny", "value": "spam",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	before, err := a.store.GetAccount(ctx, id)
	require.NoError(t, err)

	rec = a.do(t, http.MethodGet, "/api/settings/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	backup := decodeMap(t, rec)

	// Lose the account, then restore from the backup.
	del := a.do(t, http.MethodDelete, "/api/accounts/"+itoa(id), nil)
	require.Equal(t, http.StatusNoContent, del.Code)

	rec = a.do(t, http.MethodPost, "/api/settings/import", backup)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeMap(t, rec)["imported_accounts"])

	restored, err := a.store.GetAccountByEmail(ctx, "box@example.com")
	require.NoError(t, err)
	// Ciphertext survives the round trip bit for bit.
	assert.Equal(t, before.EncryptedPwd, restored.EncryptedPwd)
	assert.Equal(t, before.Host, restored.Host)

	filters, err := a.store.ListPushFilters(ctx, restored.ID)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, "spam", filters[0].Value)

	// Restoring nudges the scheduler about the recreated account.
	assert.Greater(t, a.reconciler.calls, 1)
}

func TestImportTolerancesAndDefaults(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	rec := a.do(t, http.MethodPost, "/api/settings/import", map[string]interface{}{
		"settings": map[string]interface{}{
			"telegram_chat_id": "99",
			"from_the_future":  "ignored",
		},
		"accounts": []map[string]interface{}{
			{
				"email": "fresh@example.com",
				"telegram_rules": []map[string]interface{}{
					{"field": "header", "mode": "whenever", "value": " x "},
				},
			},
			{"email": "   "},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, float64(1), body["imported_accounts"])

	// Unknown settings keys are skipped, known ones land.
	assert.Equal(t, "99", a.settings.Get(settings.KeyTelegramChatID))
	assert.Equal(t, "", a.settings.Get("from_the_future"))

	account, err := a.store.GetAccountByEmail(ctx, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, "custom", account.Provider)
	assert.Equal(t, "imap.gmail.com", account.Host)
	assert.Equal(t, 993, account.Port)
	assert.True(t, account.IsActive)
	assert.Equal(t, "short", account.PushTemplate)

	// Missing password still round-trips through the keychain.
	plain, err := a.keychain.Decrypt(account.EncryptedPwd)
	require.NoError(t, err)
	assert.Equal(t, "", plain)

	// Bad filter fields fall back instead of failing the restore.
	filters, err := a.store.ListPushFilters(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, "sender", filters[0].Field)
	assert.Equal(t, "allow", filters[0].Mode)
	assert.Equal(t, "x", filters[0].Value)
}

func TestImportUpdatesExisting(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	id := accountID(t, a.createAccount(t, "box@example.com"))
	before, err := a.store.GetAccount(ctx, id)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPost, "/api/settings/import", map[string]interface{}{
		"accounts": []map[string]interface{}{
			{"email": "box@example.com", "host": "imap.fastmail.com", "port": 1993},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	after, err := a.store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "imap.fastmail.com", after.Host)
	assert.Equal(t, 1993, after.Port)
	// No password in the backup leaves the stored one alone.
	assert.Equal(t, before.EncryptedPwd, after.EncryptedPwd)
}
