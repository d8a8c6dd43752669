package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/mail-aggregator/internal/rules"
	"github.com/ignite/mail-aggregator/internal/store"
)

// parseDay reads a YYYY-MM-DD query value. Bad input drops the
// filter rather than failing the request.
func parseDay(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// ListEmails returns one page of stored messages, newest first.
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.MessageQuery{
		Keyword: q.Get("keyword"),
		Label:   q.Get("label"),
	}

	if v := q.Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		query.AccountID = &id
	}
	if v := q.Get("is_read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid is_read")
			return
		}
		query.IsRead = &b
	}
	query.DateFrom = parseDay(q.Get("date_from"))
	if to := parseDay(q.Get("date_to")); to != nil {
		// date_to is inclusive; the store bound is exclusive.
		end := to.AddDate(0, 0, 1)
		query.DateTo = &end
	}

	page := 1
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	pageSize := 50
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > 200 {
		pageSize = 200
	}
	query.Page = page
	query.PageSize = pageSize

	items, total, err := h.store.ListMessages(r.Context(), query)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list emails")
		return
	}
	if items == nil {
		items = []*store.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetEmail returns the full message including bodies, and marks it
// read as a side effect of viewing.
func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid email id")
		return
	}

	ctx := r.Context()
	m, err := h.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load email")
		return
	}

	if !m.IsRead {
		if err := h.store.SetMessageRead(ctx, id, true); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to load email")
			return
		}
		m.IsRead = true
	}
	respondJSON(w, http.StatusOK, m)
}

type markReadRequest struct {
	IsRead *bool `json:"is_read"`
}

// MarkEmailRead sets the local read flag. Defaults to marking read;
// {"is_read": false} flips it back.
func (h *Handlers) MarkEmailRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid email id")
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	read := true
	if req.IsRead != nil {
		read = *req.IsRead
	}

	if err := h.store.SetMessageRead(r.Context(), id, read); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update email")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "is_read": read})
}

type applyRulesRequest struct {
	AccountID *int64 `json:"account_id"`
}

// ApplyRules recomputes labels for stored messages from the current
// rule set. Old labels are discarded; the read flag only upgrades.
// With no rules configured the pass just clears labels.
func (h *Handlers) ApplyRules(w http.ResponseWriter, r *http.Request) {
	var req applyRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if req.AccountID != nil {
		if _, err := h.store.GetAccount(ctx, *req.AccountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusBadRequest, "account_id not found")
				return
			}
			respondSafeError(w, http.StatusInternalServerError, err, "failed to apply rules")
			return
		}
	}

	allRules, err := h.store.ListRules(ctx, nil)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to apply rules")
		return
	}
	messages, err := h.store.ListMessagesForRecompute(ctx, req.AccountID)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to apply rules")
		return
	}

	updated := 0
	if len(allRules) == 0 {
		for _, m := range messages {
			if len(m.Labels) == 0 {
				continue
			}
			if err := h.store.UpdateRuleResult(ctx, m.ID, []string{}, false); err != nil {
				respondSafeError(w, http.StatusInternalServerError, err, "failed to apply rules")
				return
			}
			updated++
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"updated": updated,
			"total":   len(messages),
			"message": "cleared all labels",
		})
		return
	}

	for _, m := range messages {
		scoped := rulesForAccount(allRules, m.AccountID)
		decision := rules.Evaluate(m, scoped, false)
		newRead := m.IsRead || decision.MarkRead
		if equalLabels(m.Labels, decision.AddLabels) && newRead == m.IsRead {
			continue
		}
		if err := h.store.UpdateRuleResult(ctx, m.ID, decision.AddLabels, decision.MarkRead); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to apply rules")
			return
		}
		updated++
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
		"total":   len(messages),
		"message": "recomputed labels from current rules",
	})
}

// rulesForAccount keeps global rules plus the ones scoped to
// accountID, preserving evaluation order.
func rulesForAccount(all []*store.Rule, accountID int64) []*store.Rule {
	out := make([]*store.Rule, 0, len(all))
	for _, r := range all {
		if r.AccountID == nil || *r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FetchOnce runs one on-demand poll pass for an account. A pass
// already in flight turns the call into a no-op.
func (h *Handlers) FetchOnce(w http.ResponseWriter, r *http.Request) {
	if h.fetcher == nil {
		respondError(w, http.StatusServiceUnavailable, "fetcher not configured")
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	ctx := r.Context()
	account, err := h.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to fetch")
		return
	}

	res, err := h.fetcher.RunOnce(ctx, account)
	if err != nil {
		respondError(w, http.StatusBadRequest, "IMAP fetch failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
