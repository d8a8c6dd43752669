package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignite/mail-aggregator/internal/store"
)

type ruleCreateRequest struct {
	Name           string   `json:"name"`
	RuleOrder      int      `json:"rule_order"`
	AccountID      *int64   `json:"account_id"`
	SenderPattern  string   `json:"sender_pattern"`
	SubjectPattern string   `json:"subject_pattern"`
	BodyPattern    string   `json:"body_pattern"`
	AddLabels      []string `json:"add_labels"`
	PushTelegram   *bool    `json:"push_telegram"`
	MarkRead       bool     `json:"mark_read"`
}

type ruleUpdateRequest struct {
	Name           *string  `json:"name"`
	RuleOrder      *int     `json:"rule_order"`
	SenderPattern  *string  `json:"sender_pattern"`
	SubjectPattern *string  `json:"subject_pattern"`
	BodyPattern    *string  `json:"body_pattern"`
	AddLabels      []string `json:"add_labels"`
	PushTelegram   *bool    `json:"push_telegram"`
	MarkRead       *bool    `json:"mark_read"`

	// Distinguishes "leave the scope alone" from "make it global".
	AccountID json.RawMessage `json:"account_id"`
}

// dedupeLabels trims entries and drops duplicates, keeping the first
// occurrence's position.
func dedupeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// ListRules returns rules in evaluation order. With account_id the
// list narrows to global rules plus that account's own.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if q := r.URL.Query().Get("account_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil || id < 1 {
			respondError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		accountID = &id
	}

	ruleList, err := h.store.ListRules(r.Context(), accountID)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list rules")
		return
	}
	if ruleList == nil {
		ruleList = []*store.Rule{}
	}
	respondJSON(w, http.StatusOK, ruleList)
}

// CreateRule adds a mail rule. At least one pattern must constrain
// the match; a rule that matches everything is almost always a
// mistake.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sender := strings.TrimSpace(req.SenderPattern)
	subject := strings.TrimSpace(req.SubjectPattern)
	body := strings.TrimSpace(req.BodyPattern)
	if sender == "" && subject == "" && body == "" {
		respondError(w, http.StatusBadRequest, "at least one of sender_pattern, subject_pattern, body_pattern is required")
		return
	}

	ctx := r.Context()
	if req.AccountID != nil {
		if _, err := h.store.GetAccount(ctx, *req.AccountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusBadRequest, "account_id not found")
				return
			}
			respondSafeError(w, http.StatusInternalServerError, err, "failed to create rule")
			return
		}
	}

	pushTelegram := true
	if req.PushTelegram != nil {
		pushTelegram = *req.PushTelegram
	}

	rule := &store.Rule{
		Name:           req.Name,
		RuleOrder:      req.RuleOrder,
		AccountID:      req.AccountID,
		SenderPattern:  sender,
		SubjectPattern: subject,
		BodyPattern:    body,
		AddLabels:      dedupeLabels(req.AddLabels),
		PushTelegram:   pushTelegram,
		MarkRead:       req.MarkRead,
	}
	if err := h.store.CreateRule(ctx, rule); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to create rule")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial update to a rule.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var req ruleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	rule, err := h.store.GetRule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update rule")
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.RuleOrder != nil {
		rule.RuleOrder = *req.RuleOrder
	}
	if len(req.AccountID) > 0 {
		if string(req.AccountID) == "null" {
			rule.AccountID = nil
		} else {
			var accountID int64
			if err := json.Unmarshal(req.AccountID, &accountID); err != nil {
				respondError(w, http.StatusBadRequest, "account_id must be an integer or null")
				return
			}
			if _, err := h.store.GetAccount(ctx, accountID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					respondError(w, http.StatusBadRequest, "account_id not found")
					return
				}
				respondSafeError(w, http.StatusInternalServerError, err, "failed to update rule")
				return
			}
			rule.AccountID = &accountID
		}
	}
	if req.SenderPattern != nil {
		rule.SenderPattern = strings.TrimSpace(*req.SenderPattern)
	}
	if req.SubjectPattern != nil {
		rule.SubjectPattern = strings.TrimSpace(*req.SubjectPattern)
	}
	if req.BodyPattern != nil {
		rule.BodyPattern = strings.TrimSpace(*req.BodyPattern)
	}
	if req.AddLabels != nil {
		rule.AddLabels = dedupeLabels(req.AddLabels)
	}
	if req.PushTelegram != nil {
		rule.PushTelegram = *req.PushTelegram
	}
	if req.MarkRead != nil {
		rule.MarkRead = *req.MarkRead
	}

	if rule.SenderPattern == "" && rule.SubjectPattern == "" && rule.BodyPattern == "" {
		respondError(w, http.StatusBadRequest, "at least one of sender_pattern, subject_pattern, body_pattern is required")
		return
	}

	if err := h.store.UpdateRule(ctx, rule); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to update rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule and strips the labels it added from
// stored messages, so history does not keep tags no rule produces
// anymore.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	ctx := r.Context()
	rule, err := h.store.GetRule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to delete rule")
		return
	}
	if err := h.store.DeleteRule(ctx, id); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to delete rule")
		return
	}

	if len(rule.AddLabels) > 0 {
		if err := h.removeLabels(r, rule.AddLabels); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to clean up labels")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeLabels drops the given labels from every message that carries
// one of them.
func (h *Handlers) removeLabels(r *http.Request, labels []string) error {
	ctx := r.Context()
	remove := make(map[string]bool, len(labels))
	for _, l := range labels {
		remove[l] = true
	}

	messages, err := h.store.ListMessagesForRecompute(ctx, nil)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if len(m.Labels) == 0 {
			continue
		}
		next := make([]string, 0, len(m.Labels))
		for _, l := range m.Labels {
			if !remove[l] {
				next = append(next, l)
			}
		}
		if len(next) == len(m.Labels) {
			continue
		}
		if err := h.store.UpdateRuleResult(ctx, m.ID, next, false); err != nil {
			return err
		}
	}
	return nil
}
