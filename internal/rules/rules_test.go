package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/mail-aggregator/internal/store"
)

func msg(sender, subject, body string) *store.Message {
	return &store.Message{
		AccountID:      1,
		Sender:         sender,
		Subject:        subject,
		BodyText:       body,
		ContentSummary: "summary text",
	}
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		pattern string
		want    bool
	}{
		{"empty pattern always matches", "anything", "", true},
		{"whitespace pattern always matches", "anything", "   ", true},
		{"case-insensitive", "Invoice Ready", "invoice", true},
		{"pattern trimmed", "Invoice Ready", "  invoice  ", true},
		{"substring anywhere", "your invoice is ready", "voice", true},
		{"no match", "meeting notes", "invoice", false},
		{"empty text with pattern", "", "invoice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, patternMatch(tt.text, tt.pattern))
		})
	}
}

func TestEvaluateNoRules(t *testing.T) {
	d := Evaluate(msg("a@x.com", "hi", ""), nil, true)
	assert.Empty(t, d.AddLabels)
	assert.True(t, d.PushTelegram, "push inherits the account default")
	assert.False(t, d.MarkRead)

	d = Evaluate(msg("a@x.com", "hi", ""), nil, false)
	assert.False(t, d.PushTelegram)
}

func TestEvaluateAllPredicatesMustMatch(t *testing.T) {
	r := &store.Rule{
		SenderPattern:  "billing@",
		SubjectPattern: "invoice",
		BodyPattern:    "overdue",
		AddLabels:      []string{"money"},
	}

	d := Evaluate(msg("billing@corp.com", "Invoice #12", "payment overdue"), []*store.Rule{r}, false)
	assert.Equal(t, []string{"money"}, d.AddLabels)

	d = Evaluate(msg("billing@corp.com", "Invoice #12", "all settled"), []*store.Rule{r}, false)
	assert.Empty(t, d.AddLabels, "one failing predicate rejects the rule")
}

func TestEvaluateBodyFallsBackToSummary(t *testing.T) {
	r := &store.Rule{BodyPattern: "summary"}
	m := msg("a@x.com", "s", "")
	d := Evaluate(m, []*store.Rule{r}, false)
	assert.False(t, d.MarkRead)
	// Matched via ContentSummary; prove it by checking a label lands.
	r.AddLabels = []string{"hit"}
	d = Evaluate(m, []*store.Rule{r}, false)
	assert.Equal(t, []string{"hit"}, d.AddLabels)
}

func TestEvaluateAccountScoping(t *testing.T) {
	mine := int64(1)
	other := int64(2)
	ruleList := []*store.Rule{
		{AccountID: &other, AddLabels: []string{"foreign"}},
		{AccountID: &mine, AddLabels: []string{"scoped"}},
		{AddLabels: []string{"global"}},
	}

	d := Evaluate(msg("a@x.com", "s", "b"), ruleList, false)
	assert.Equal(t, []string{"scoped", "global"}, d.AddLabels)
}

func TestEvaluateAllMatchesContribute(t *testing.T) {
	ruleList := []*store.Rule{
		{AddLabels: []string{"one", "shared"}, PushTelegram: false, MarkRead: true},
		{AddLabels: []string{"two", " shared ", ""}, PushTelegram: true},
	}

	d := Evaluate(msg("a@x.com", "s", "b"), ruleList, false)
	assert.Equal(t, []string{"one", "shared", "two"}, d.AddLabels, "labels union, order preserved, no duplicates")
	assert.True(t, d.PushTelegram, "last matching rule wins the push flag")
	assert.True(t, d.MarkRead, "mark_read stays on once any rule sets it")
}

func TestEvaluatePushLastWriterWins(t *testing.T) {
	ruleList := []*store.Rule{
		{PushTelegram: true},
		{PushTelegram: false},
	}
	d := Evaluate(msg("a@x.com", "s", "b"), ruleList, true)
	assert.False(t, d.PushTelegram)

	// A non-matching trailing rule leaves the previous winner alone.
	ruleList = append(ruleList, &store.Rule{SenderPattern: "nobody@", PushTelegram: true})
	d = Evaluate(msg("a@x.com", "s", "b"), ruleList, true)
	assert.False(t, d.PushTelegram)
}

func TestShouldPushAccountVeto(t *testing.T) {
	account := &store.Account{TelegramPushEnabled: false}
	m := msg("boss@corp.com", "urgent", "")

	allow := []*store.PushFilter{{Field: FieldSender, Mode: ModeAllow, Value: "boss@"}}
	assert.False(t, ShouldPush(m, account, allow), "disabled account is a veto no filter overrides")

	account.TelegramPushEnabled = true
	assert.True(t, ShouldPush(m, account, allow))
}

func TestShouldPushFilters(t *testing.T) {
	account := &store.Account{TelegramPushEnabled: true}

	tests := []struct {
		name    string
		m       *store.Message
		filters []*store.PushFilter
		want    bool
	}{
		{
			name:    "no filters pushes",
			m:       msg("a@x.com", "s", "b"),
			filters: nil,
			want:    true,
		},
		{
			name: "deny on sender match",
			m:    msg("noreply@shop.com", "sale", ""),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeDeny, Value: "noreply@"},
			},
			want: false,
		},
		{
			name: "deny beats allow",
			m:    msg("noreply@shop.com", "sale", ""),
			filters: []*store.PushFilter{
				{Field: FieldSubject, Mode: ModeAllow, Value: "sale"},
				{Field: FieldSender, Mode: ModeDeny, Value: "noreply@"},
			},
			want: false,
		},
		{
			name: "allow list requires a match",
			m:    msg("random@x.com", "hello", ""),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeAllow, Value: "boss@"},
			},
			want: false,
		},
		{
			name: "allow list passes on match",
			m:    msg("boss@corp.com", "hello", ""),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeAllow, Value: "boss@"},
			},
			want: true,
		},
		{
			name: "domain matches part after the at sign",
			m:    msg("Alerts <alerts@status.example.com>", "down", ""),
			filters: []*store.PushFilter{
				{Field: FieldDomain, Mode: ModeAllow, Value: "example.com"},
			},
			want: true,
		},
		{
			name: "domain does not match the local part",
			m:    msg("example.com@other.net", "s", ""),
			filters: []*store.PushFilter{
				{Field: FieldDomain, Mode: ModeAllow, Value: "example.com"},
			},
			want: false,
		},
		{
			name: "body filter falls back to summary",
			m:    &store.Message{Sender: "a@x.com", ContentSummary: "weekly digest inside"},
			filters: []*store.PushFilter{
				{Field: FieldBody, Mode: ModeDeny, Value: "digest"},
			},
			want: false,
		},
		{
			name: "empty filter value never matches",
			m:    msg("a@x.com", "s", "b"),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeDeny, Value: "   "},
			},
			want: true,
		},
		{
			name: "allow with only empty values blocks",
			m:    msg("a@x.com", "s", "b"),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeAllow, Value: ""},
			},
			want: false,
		},
		{
			name: "filter value is case-insensitive",
			m:    msg("Boss@CORP.com", "s", ""),
			filters: []*store.PushFilter{
				{Field: FieldSender, Mode: ModeAllow, Value: "BOSS@corp"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldPush(tt.m, account, tt.filters))
		})
	}
}

func TestValidFieldAndMode(t *testing.T) {
	for _, f := range []string{FieldSender, FieldDomain, FieldSubject, FieldBody} {
		assert.True(t, ValidField(f))
	}
	assert.False(t, ValidField("header"))
	assert.True(t, ValidMode(ModeAllow))
	assert.True(t, ValidMode(ModeDeny))
	assert.False(t, ValidMode("block"))
}
