package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignite/mail-aggregator/internal/delivery"
	"github.com/ignite/mail-aggregator/internal/rules"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/store"
)

// maskedSettings returns the effective settings with secret values
// replaced by "***". Empty secrets stay empty so the UI can tell
// "unset" from "set".
func (h *Handlers) maskedSettings() map[string]string {
	eff := h.settings.Effective()
	for key, val := range eff {
		if settings.Secret[key] && val != "" {
			eff[key] = "***"
		}
	}
	return eff
}

// GetSettings returns the editable settings, secrets masked.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.maskedSettings())
}

// toSettingString coerces a JSON value into the stored string form.
func toSettingString(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// UpdateSettings writes a partial set of editable keys. Unknown keys
// and malformed values fail the whole request.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	values := make(map[string]string, len(req))
	for key, raw := range req {
		if !settings.Editable[key] {
			respondError(w, http.StatusBadRequest, "unknown setting: "+key)
			return
		}
		val, err := toSettingString(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid value for "+key)
			return
		}
		values[key] = val
	}

	if val, ok := values[settings.KeyPollInterval]; ok && val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 5 {
			respondError(w, http.StatusBadRequest, "poll_interval_seconds must be at least 5")
			return
		}
	}
	for _, key := range []string{settings.KeyRetentionDays, settings.KeyRetentionPerAcct} {
		if val, ok := values[key]; ok && val != "" {
			if _, err := strconv.Atoi(val); err != nil {
				respondError(w, http.StatusBadRequest, key+" must be an integer")
				return
			}
		}
	}
	if val, ok := values[settings.KeyMirrorMarkRead]; ok && val != "" {
		if _, err := strconv.ParseBool(val); err != nil {
			respondError(w, http.StatusBadRequest, settings.KeyMirrorMarkRead+" must be a boolean")
			return
		}
	}

	if err := h.settings.Update(r.Context(), values); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to save settings")
		return
	}
	respondJSON(w, http.StatusOK, h.maskedSettings())
}

type exportedPushFilter struct {
	Field     string `json:"field"`
	Mode      string `json:"mode"`
	Value     string `json:"value"`
	RuleOrder int    `json:"rule_order"`
}

type exportedAccount struct {
	Email               string               `json:"email"`
	Provider            string               `json:"provider"`
	Host                string               `json:"host"`
	Port                int                  `json:"port"`
	IsActive            bool                 `json:"is_active"`
	SortOrder           int                  `json:"sort_order"`
	TelegramPushEnabled bool                 `json:"telegram_push_enabled"`
	PushTemplate        string               `json:"push_template"`
	PollIntervalSeconds *int                 `json:"poll_interval_seconds"`
	EncryptedPwd        string               `json:"encrypted_pwd"`
	TelegramRules       []exportedPushFilter `json:"telegram_rules"`
}

// ExportSettings dumps settings and accounts as a restorable backup.
// Secrets are written verbatim and passwords stay ciphered, so the
// file only restores on an instance with the same encryption key.
func (h *Handlers) ExportSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to export settings")
		return
	}
	exported := make([]exportedAccount, 0, len(accounts))
	for _, a := range accounts {
		filters, err := h.store.ListPushFilters(ctx, a.ID)
		if err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to export settings")
			return
		}
		tr := make([]exportedPushFilter, 0, len(filters))
		for _, f := range filters {
			tr = append(tr, exportedPushFilter{
				Field:     f.Field,
				Mode:      f.Mode,
				Value:     f.Value,
				RuleOrder: f.RuleOrder,
			})
		}
		exported = append(exported, exportedAccount{
			Email:               a.Email,
			Provider:            a.Provider,
			Host:                a.Host,
			Port:                a.Port,
			IsActive:            a.IsActive,
			SortOrder:           a.SortOrder,
			TelegramPushEnabled: a.TelegramPushEnabled,
			PushTemplate:        a.PushTemplate,
			PollIntervalSeconds: a.PollIntervalSeconds,
			EncryptedPwd:        a.EncryptedPwd,
			TelegramRules:       tr,
		})
	}

	w.Header().Set("Content-Disposition", `attachment; filename="mail-aggregator-config.json"`)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings": h.settings.Effective(),
		"accounts": exported,
	})
}

type importedAccount struct {
	Email               string               `json:"email"`
	Provider            string               `json:"provider"`
	Host                string               `json:"host"`
	Port                int                  `json:"port"`
	IsActive            *bool                `json:"is_active"`
	SortOrder           *int                 `json:"sort_order"`
	TelegramPushEnabled *bool                `json:"telegram_push_enabled"`
	PushTemplate        string               `json:"push_template"`
	PollIntervalSeconds *int                 `json:"poll_interval_seconds"`
	EncryptedPwd        string               `json:"encrypted_pwd"`
	TelegramRules       []exportedPushFilter `json:"telegram_rules"`
}

type importPayload struct {
	Settings map[string]interface{} `json:"settings"`
	Accounts []importedAccount      `json:"accounts"`
}

// ImportSettings restores a backup produced by ExportSettings.
// Accounts are matched by email and updated in place; unknown
// settings keys are skipped so older backups still load.
func (h *Handlers) ImportSettings(w http.ResponseWriter, r *http.Request) {
	var payload importPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()

	if len(payload.Settings) > 0 {
		values := make(map[string]string)
		for key, raw := range payload.Settings {
			if !settings.Editable[key] {
				continue
			}
			val, err := toSettingString(raw)
			if err != nil {
				continue
			}
			values[key] = val
		}
		if len(values) > 0 {
			if err := h.settings.Update(ctx, values); err != nil {
				respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
				return
			}
		}
	}

	imported := 0
	for idx, in := range payload.Accounts {
		email := strings.TrimSpace(in.Email)
		if email == "" {
			continue
		}
		account, err := h.store.GetAccountByEmail(ctx, email)
		switch {
		case err == nil:
			applyImportedAccount(account, in, idx)
			if in.EncryptedPwd != "" {
				account.EncryptedPwd = in.EncryptedPwd
			}
			if err := h.store.UpdateAccount(ctx, account); err != nil {
				respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
				return
			}
		case errors.Is(err, store.ErrNotFound):
			account = &store.Account{Email: email}
			applyImportedAccount(account, in, idx)
			account.EncryptedPwd = in.EncryptedPwd
			if account.EncryptedPwd == "" {
				enc, err := h.keychain.Encrypt("")
				if err != nil {
					respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
					return
				}
				account.EncryptedPwd = enc
			}
			if err := h.store.CreateAccount(ctx, account); err != nil {
				respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
				return
			}
		default:
			respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
			return
		}

		filters := make([]*store.PushFilter, 0, len(in.TelegramRules))
		for _, f := range in.TelegramRules {
			field, mode := f.Field, f.Mode
			if !rules.ValidField(field) {
				field = "sender"
			}
			if !rules.ValidMode(mode) {
				mode = "allow"
			}
			filters = append(filters, &store.PushFilter{
				AccountID: account.ID,
				Field:     field,
				Mode:      mode,
				Value:     strings.TrimSpace(f.Value),
				RuleOrder: f.RuleOrder,
			})
		}
		if err := h.store.ReplacePushFilters(ctx, account.ID, filters); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to import settings")
			return
		}
		imported++
	}

	h.reconcileLoops(ctx)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings":          h.maskedSettings(),
		"imported_accounts": imported,
	})
}

// applyImportedAccount copies backup fields onto the account, filling
// defaults for anything the file left out.
func applyImportedAccount(account *store.Account, in importedAccount, idx int) {
	account.Provider = in.Provider
	if account.Provider == "" {
		account.Provider = "custom"
	}
	account.Host = in.Host
	if account.Host == "" {
		account.Host = "imap.gmail.com"
	}
	account.Port = in.Port
	if account.Port == 0 {
		account.Port = 993
	}
	account.IsActive = true
	if in.IsActive != nil {
		account.IsActive = *in.IsActive
	}
	account.SortOrder = idx
	if in.SortOrder != nil {
		account.SortOrder = *in.SortOrder
	}
	account.TelegramPushEnabled = true
	if in.TelegramPushEnabled != nil {
		account.TelegramPushEnabled = *in.TelegramPushEnabled
	}
	account.PushTemplate = delivery.NormalizeTemplate(in.PushTemplate)
	account.PollIntervalSeconds = in.PollIntervalSeconds
}
