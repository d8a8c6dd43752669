// Package rules evaluates mail rules and Telegram push filters
// against stored messages. Evaluation is pure: the same message and
// the same ordered rule list always produce the same decision, which
// is what lets the reapply maintenance operation reproduce live
// pipeline results.
package rules

import (
	"strings"

	"github.com/ignite/mail-aggregator/internal/store"
)

// Push filter field and mode values.
const (
	FieldSender  = "sender"
	FieldDomain  = "domain"
	FieldSubject = "subject"
	FieldBody    = "body"

	ModeAllow = "allow"
	ModeDeny  = "deny"
)

// matchBodyLimit bounds how much body text a push filter inspects.
const matchBodyLimit = 2000

// ValidField reports whether f names a filterable message field.
func ValidField(f string) bool {
	switch f {
	case FieldSender, FieldDomain, FieldSubject, FieldBody:
		return true
	}
	return false
}

// ValidMode reports whether m is a recognized filter mode.
func ValidMode(m string) bool {
	return m == ModeAllow || m == ModeDeny
}

// Decision is the aggregate outcome of every matching rule for one
// message.
type Decision struct {
	AddLabels    []string
	PushTelegram bool
	MarkRead     bool
}

// Evaluate folds the matching rules into a Decision. Rules must
// already be sorted in evaluation order (rule_order ASC, id ASC);
// every matching rule contributes, there is no short-circuit.
// pushDefault seeds the Telegram flag from the account; matching
// rules overwrite it, so the last matching rule wins. MarkRead only
// ever turns on.
func Evaluate(m *store.Message, ruleList []*store.Rule, pushDefault bool) Decision {
	d := Decision{AddLabels: []string{}, PushTelegram: pushDefault}
	seen := make(map[string]struct{})

	for _, r := range ruleList {
		if r.AccountID != nil && *r.AccountID != m.AccountID {
			continue
		}
		if !ruleMatches(m, r) {
			continue
		}
		for _, lb := range r.AddLabels {
			lb = strings.TrimSpace(lb)
			if lb == "" {
				continue
			}
			if _, dup := seen[lb]; dup {
				continue
			}
			seen[lb] = struct{}{}
			d.AddLabels = append(d.AddLabels, lb)
		}
		d.PushTelegram = r.PushTelegram
		d.MarkRead = d.MarkRead || r.MarkRead
	}
	return d
}

func ruleMatches(m *store.Message, r *store.Rule) bool {
	return patternMatch(m.Sender, r.SenderPattern) &&
		patternMatch(m.Subject, r.SubjectPattern) &&
		patternMatch(matchBody(m), r.BodyPattern)
}

func matchBody(m *store.Message) string {
	if m.BodyText != "" {
		return m.BodyText
	}
	return m.ContentSummary
}

// patternMatch is a trimmed, case-insensitive substring test. An
// empty pattern constrains nothing.
func patternMatch(text, pattern string) bool {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(p))
}

// ShouldPush applies an account's push filters to a message. The
// account-level disable is a veto nothing overrides. Deny filters
// drop the message on any match; when allow filters exist the
// message must match at least one of them.
func ShouldPush(m *store.Message, account *store.Account, filters []*store.PushFilter) bool {
	if !account.TelegramPushEnabled {
		return false
	}

	for _, f := range filters {
		if f.Mode == ModeDeny && filterMatches(m, f) {
			return false
		}
	}

	anyAllow := false
	for _, f := range filters {
		if f.Mode != ModeAllow {
			continue
		}
		anyAllow = true
		if filterMatches(m, f) {
			return true
		}
	}
	return !anyAllow
}

func filterMatches(m *store.Message, f *store.PushFilter) bool {
	val := strings.ToLower(strings.TrimSpace(f.Value))
	if val == "" {
		return false
	}
	return strings.Contains(filterField(m, f.Field), val)
}

func filterField(m *store.Message, field string) string {
	switch field {
	case FieldSender:
		return strings.ToLower(m.Sender)
	case FieldDomain:
		s := m.Sender
		if i := strings.LastIndex(s, "@"); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		}
		return strings.ToLower(s)
	case FieldSubject:
		return strings.ToLower(m.Subject)
	case FieldBody:
		b := matchBody(m)
		if len(b) > matchBodyLimit {
			b = b[:matchBodyLimit]
		}
		return strings.ToLower(b)
	}
	return ""
}
