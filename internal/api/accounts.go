package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/mail-aggregator/internal/delivery"
	"github.com/ignite/mail-aggregator/internal/rules"
	"github.com/ignite/mail-aggregator/internal/store"
)

type accountCreateRequest struct {
	Email               string `json:"email"`
	AppPassword         string `json:"app_password"`
	Provider            string `json:"provider"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	IsActive            *bool  `json:"is_active"`
	SortOrder           *int   `json:"sort_order"`
	TelegramPushEnabled *bool  `json:"telegram_push_enabled"`
	PushTemplate        string `json:"push_template"`
	PollIntervalSeconds *int   `json:"poll_interval_seconds"`
}

type accountUpdateRequest struct {
	AppPassword         *string `json:"app_password"`
	Provider            *string `json:"provider"`
	Host                *string `json:"host"`
	Port                *int    `json:"port"`
	IsActive            *bool   `json:"is_active"`
	SortOrder           *int    `json:"sort_order"`
	TelegramPushEnabled *bool   `json:"telegram_push_enabled"`
	PushTemplate        *string `json:"push_template"`

	// RawMessage keeps absent, null and a number apart: absent leaves
	// the override alone, null clears it back to the global interval.
	PollIntervalSeconds json.RawMessage `json:"poll_interval_seconds"`
}

// normalizePassword trims and removes interior spaces. Gmail renders
// app passwords in groups of four; pasted copies keep the gaps.
func normalizePassword(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}

// ListAccounts returns every account, display order first.
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*store.Account{}
	}
	respondJSON(w, http.StatusOK, accounts)
}

// CreateAccount registers a mailbox. The app password is normalized
// and encrypted before it touches the database.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.PollIntervalSeconds != nil && *req.PollIntervalSeconds < 5 {
		respondError(w, http.StatusBadRequest, "poll_interval_seconds must be at least 5")
		return
	}
	if req.Port != 0 && (req.Port < 1 || req.Port > 65535) {
		respondError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetAccountByEmail(ctx, email); err == nil {
		respondError(w, http.StatusBadRequest, "email account already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to create account")
		return
	}

	encrypted, err := h.keychain.Encrypt(normalizePassword(req.AppPassword))
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to create account")
		return
	}

	account := &store.Account{
		Email:               email,
		Provider:            "custom",
		EncryptedPwd:        encrypted,
		Host:                "imap.gmail.com",
		Port:                993,
		IsActive:            true,
		TelegramPushEnabled: true,
		PushTemplate:        delivery.NormalizeTemplate(req.PushTemplate),
		PollIntervalSeconds: req.PollIntervalSeconds,
	}
	if p := strings.TrimSpace(req.Provider); p != "" {
		account.Provider = p
	}
	if hst := strings.TrimSpace(req.Host); hst != "" {
		account.Host = hst
	}
	if req.Port != 0 {
		account.Port = req.Port
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.TelegramPushEnabled != nil {
		account.TelegramPushEnabled = *req.TelegramPushEnabled
	}
	if req.SortOrder != nil {
		account.SortOrder = *req.SortOrder
	} else {
		next, err := h.store.NextSortOrder(ctx)
		if err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to create account")
			return
		}
		account.SortOrder = next
	}

	if err := h.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respondError(w, http.StatusBadRequest, "email account already exists")
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err, "failed to create account")
		return
	}

	if account.IsActive {
		h.reconcileLoops(ctx)
	}
	respondJSON(w, http.StatusCreated, account)
}

// UpdateAccount applies a partial update. Email is immutable.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req accountUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	account, err := h.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update account")
		return
	}

	wasActive := account.IsActive

	if req.Provider != nil {
		account.Provider = strings.TrimSpace(*req.Provider)
	}
	if req.Host != nil {
		account.Host = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			respondError(w, http.StatusBadRequest, "port must be between 1 and 65535")
			return
		}
		account.Port = *req.Port
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.SortOrder != nil {
		account.SortOrder = *req.SortOrder
	}
	if req.TelegramPushEnabled != nil {
		account.TelegramPushEnabled = *req.TelegramPushEnabled
	}
	if req.PushTemplate != nil {
		account.PushTemplate = delivery.NormalizeTemplate(*req.PushTemplate)
	}
	if len(req.PollIntervalSeconds) > 0 {
		if string(req.PollIntervalSeconds) == "null" {
			account.PollIntervalSeconds = nil
		} else {
			var seconds int
			if err := json.Unmarshal(req.PollIntervalSeconds, &seconds); err != nil {
				respondError(w, http.StatusBadRequest, "poll_interval_seconds must be an integer or null")
				return
			}
			if seconds < 5 {
				respondError(w, http.StatusBadRequest, "poll_interval_seconds must be at least 5")
				return
			}
			account.PollIntervalSeconds = &seconds
		}
	}
	if req.AppPassword != nil {
		encrypted, err := h.keychain.Encrypt(normalizePassword(*req.AppPassword))
		if err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to update account")
			return
		}
		account.EncryptedPwd = encrypted
	}

	if err := h.store.UpdateAccount(ctx, account); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update account")
		return
	}

	if !wasActive && account.IsActive {
		h.reconcileLoops(ctx)
	}
	respondJSON(w, http.StatusOK, account)
}

// DeleteAccount removes the account; messages, scoped rules, push
// filters and poll status cascade with it.
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetAccount(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err, "failed to delete account")
		return
	}
	if err := h.store.DeleteAccount(ctx, id); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to delete account")
		return
	}
	h.tracker.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// ListAccountStatus returns the per-account poll health snapshot.
func (h *Handlers) ListAccountStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.tracker.Snapshot())
}

// Telegram push filters (per-account)

type pushFilterCreateRequest struct {
	Field     string `json:"field"`
	Mode      string `json:"mode"`
	Value     string `json:"value"`
	RuleOrder int    `json:"rule_order"`
}

type pushFilterUpdateRequest struct {
	Field     *string `json:"field"`
	Mode      *string `json:"mode"`
	Value     *string `json:"value"`
	RuleOrder *int    `json:"rule_order"`
}

func (h *Handlers) accountExists(r *http.Request, w http.ResponseWriter, id int64) bool {
	_, err := h.store.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "account not found")
		return false
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load account")
		return false
	}
	return true
}

// ListTelegramRules returns an account's push filters in evaluation
// order.
func (h *Handlers) ListTelegramRules(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if !h.accountExists(r, w, id) {
		return
	}
	filters, err := h.store.ListPushFilters(r.Context(), id)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list push filters")
		return
	}
	if filters == nil {
		filters = []*store.PushFilter{}
	}
	respondJSON(w, http.StatusOK, filters)
}

// CreateTelegramRule adds an allow/deny push filter to an account.
func (h *Handlers) CreateTelegramRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req pushFilterCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.accountExists(r, w, id) {
		return
	}
	if !rules.ValidField(req.Field) {
		respondError(w, http.StatusBadRequest, "field must be sender, domain, subject, or body")
		return
	}
	if !rules.ValidMode(req.Mode) {
		respondError(w, http.StatusBadRequest, "mode must be allow or deny")
		return
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		respondError(w, http.StatusBadRequest, "value is required")
		return
	}

	filter := &store.PushFilter{
		AccountID: id,
		Field:     req.Field,
		Mode:      req.Mode,
		Value:     value,
		RuleOrder: req.RuleOrder,
	}
	if err := h.store.CreatePushFilter(r.Context(), filter); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to create push filter")
		return
	}
	respondJSON(w, http.StatusCreated, filter)
}

// UpdateTelegramRule applies a partial update to a push filter.
func (h *Handlers) UpdateTelegramRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var req pushFilterUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	filter, err := h.store.GetPushFilter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update push filter")
		return
	}

	if req.Field != nil {
		if !rules.ValidField(*req.Field) {
			respondError(w, http.StatusBadRequest, "field must be sender, domain, subject, or body")
			return
		}
		filter.Field = *req.Field
	}
	if req.Mode != nil {
		if !rules.ValidMode(*req.Mode) {
			respondError(w, http.StatusBadRequest, "mode must be allow or deny")
			return
		}
		filter.Mode = *req.Mode
	}
	if req.Value != nil {
		value := strings.TrimSpace(*req.Value)
		if value == "" {
			respondError(w, http.StatusBadRequest, "value is required")
			return
		}
		filter.Value = value
	}
	if req.RuleOrder != nil {
		filter.RuleOrder = *req.RuleOrder
	}

	if err := h.store.UpdatePushFilter(ctx, filter); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update push filter")
		return
	}
	respondJSON(w, http.StatusOK, filter)
}

// DeleteTelegramRule removes a push filter.
func (h *Handlers) DeleteTelegramRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := h.store.DeletePushFilter(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err, "failed to delete push filter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
