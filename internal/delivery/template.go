package delivery

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/mail-aggregator/internal/store"
)

// Notification template names, in increasing verbosity.
const (
	TemplateTitleOnly = "title_only"
	TemplateShort     = "short"
	TemplateFull      = "full"
	TemplateFullEmail = "full_email"
)

const (
	// maxMessageRunes is Telegram's hard per-message limit.
	maxMessageRunes = 4096
	// shortSummaryRunes bounds the summary in the short template.
	shortSummaryRunes = 120
	// fullEmailBodyRunes keeps the full_email body inside one message.
	fullEmailBodyRunes = 3500
)

var presets = map[string]string{
	TemplateTitleOnly: `📬 <b>{{ subject | tg_escape }}</b>`,

	TemplateShort: `📬 <b>{{ subject | tg_escape }}</b>
From: <code>{{ sender | tg_escape }}</code>{% if summary_short != "" %}
{{ summary_short | tg_escape }}{% endif %}`,

	TemplateFull: `📬 <b>{{ subject | tg_escape }}</b>
From: <code>{{ sender | tg_escape }}</code>
Account: <code>{{ account | tg_escape }}</code>
Time: {{ time }}{% if summary != "" %}

{{ summary | tg_escape }}{% endif %}`,

	TemplateFullEmail: `📬 <b>{{ subject | tg_escape }}</b>
From: <code>{{ sender | tg_escape }}</code>
Account: <code>{{ account | tg_escape }}</code>
Time: {{ time }}{% if body != "" %}

{{ body | tg_escape }}{% endif %}`,
}

// ValidTemplate reports whether name is a known notification
// template.
func ValidTemplate(name string) bool {
	_, ok := presets[name]
	return ok
}

// NormalizeTemplate maps unknown or empty names to the short
// default.
func NormalizeTemplate(name string) string {
	if ValidTemplate(name) {
		return name
	}
	return TemplateShort
}

// Renderer turns a stored message into Telegram-ready HTML using the
// preset Liquid templates, parsed once up front.
type Renderer struct {
	engine    *liquid.Engine
	templates map[string]*liquid.Template
}

// NewRenderer builds the engine and parses every preset.
func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()
	// Telegram's HTML mode only understands a handful of tags;
	// everything user-controlled gets its <, > and & escaped.
	engine.RegisterFilter("tg_escape", func(s string) string {
		s = strings.ReplaceAll(s, "&", "&amp;")
		s = strings.ReplaceAll(s, "<", "&lt;")
		return strings.ReplaceAll(s, ">", "&gt;")
	})

	templates := make(map[string]*liquid.Template, len(presets))
	for name, src := range presets {
		tpl, err := engine.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		templates[name] = tpl
	}
	return &Renderer{engine: engine, templates: templates}, nil
}

// Render produces the notification text for m under the named
// template. Output never exceeds Telegram's message limit.
func (r *Renderer) Render(templateName string, m *store.Message, accountEmail string) (string, error) {
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	summary := strings.TrimSpace(m.ContentSummary)
	body := strings.TrimSpace(m.BodyText)
	if body == "" {
		body = summary
	}

	bindings := map[string]interface{}{
		"subject":       subject,
		"sender":        m.Sender,
		"account":       accountEmail,
		"time":          m.ReceivedAt.Format("2006-01-02 15:04"),
		"summary":       summary,
		"summary_short": capRunes(summary, shortSummaryRunes),
		"body":          capRunes(body, fullEmailBodyRunes),
	}

	tpl := r.templates[NormalizeTemplate(templateName)]
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return capRunes(strings.TrimSpace(out), maxMessageRunes), nil
}

// capRunes truncates by runes, not bytes, so multi-byte subjects and
// bodies never get cut mid-character.
func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
