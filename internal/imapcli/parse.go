package imapcli

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

const (
	// summaryRunes caps the stored content summary.
	summaryRunes = 200
	// headerRunes caps subject and sender.
	headerRunes = 255
)

// Parsed is a fetched message normalized for storage.
type Parsed struct {
	MessageID  string
	Subject    string
	Sender     string
	BodyText   string
	BodyHTML   string
	Summary    string
	ReceivedAt time.Time
}

// Parse decodes a raw RFC 822 message into storable fields. host is the
// account's IMAP host, used to synthesize a Message-ID when the original
// carries none. Parse never fails: unparseable structure degrades to the
// envelope fields plus a raw-text salvage of the body.
func Parse(raw *RawMessage, host string) *Parsed {
	p := &Parsed{}

	mr, err := mail.CreateReader(bytes.NewReader(raw.Body))
	if mr != nil {
		readHeader(mr.Header, p)
		readParts(mr, p)
	} else if err != nil {
		p.BodyText = rawBodyText(raw.Body)
	}

	if env := raw.Envelope; env != nil {
		if p.Subject == "" {
			p.Subject = strings.TrimSpace(env.Subject)
		}
		if p.Sender == "" && len(env.From) > 0 {
			p.Sender = formatEnvelopeAddress(env.From[0])
		}
		if p.MessageID == "" {
			p.MessageID = strings.TrimSpace(env.MessageId)
		}
		if p.ReceivedAt.IsZero() {
			p.ReceivedAt = env.Date
		}
	}

	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = raw.InternalDate
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}
	p.ReceivedAt = p.ReceivedAt.UTC()

	if p.MessageID == "" {
		p.MessageID = fmt.Sprintf("<%d@%s>", raw.UID, host)
	}

	if p.BodyText == "" && p.BodyHTML != "" {
		p.BodyText = HTMLToText(p.BodyHTML)
	}

	p.Subject = truncateRunes(p.Subject, headerRunes)
	p.Sender = truncateRunes(p.Sender, headerRunes)
	p.Summary = Summarize(p.BodyText, p.Subject)
	return p
}

func readHeader(h mail.Header, p *Parsed) {
	if subj, err := h.Subject(); err == nil && subj != "" {
		p.Subject = strings.TrimSpace(subj)
	} else if raw := h.Get("Subject"); raw != "" {
		p.Subject = strings.TrimSpace(raw)
	}
	if from, err := h.Text("From"); err == nil && from != "" {
		p.Sender = strings.TrimSpace(from)
	} else if raw := h.Get("From"); raw != "" {
		p.Sender = strings.TrimSpace(raw)
	}
	if mid, err := h.MessageID(); err == nil && mid != "" {
		p.MessageID = "<" + mid + ">"
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		p.ReceivedAt = date
	}
}

func readParts(mr *mail.Reader, p *Parsed) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			// Unknown charsets leave the part readable as raw bytes; the
			// replacement pass below keeps the result valid UTF-8.
			if part == nil || !message.IsUnknownCharset(err) {
				return
			}
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		text := strings.ToValidUTF8(string(b), "�")
		switch {
		case ct == "text/plain" && p.BodyText == "":
			p.BodyText = text
		case ct == "text/html" && p.BodyHTML == "":
			p.BodyHTML = text
		}
	}
}

// rawBodyText salvages everything after the header block of a message the
// MIME reader could not parse, so the record is still searchable.
func rawBodyText(raw []byte) string {
	s := string(raw)
	if i := strings.Index(s, "\r\n\r\n"); i >= 0 {
		s = s[i+4:]
	} else if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[i+2:]
	}
	return strings.ToValidUTF8(strings.TrimSpace(s), "�")
}

func formatEnvelopeAddress(a *imap.Address) string {
	addr := a.Address()
	if a.PersonalName != "" {
		return a.PersonalName + " <" + addr + ">"
	}
	return addr
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
)

// HTMLToText reduces an HTML body to plain text: script and style blocks
// are dropped, remaining tags become line breaks, entities are unescaped,
// and blank lines are removed.
func HTMLToText(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(s)

	var lines []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}
	return strings.Join(lines, "\n")
}

// Summarize derives the stored content summary from the body text, with
// the subject standing in when the body is empty.
func Summarize(bodyText, subject string) string {
	src := bodyText
	if strings.TrimSpace(src) == "" {
		src = subject
	}
	src = strings.ReplaceAll(src, "\r", "")
	return truncateRunes(strings.TrimSpace(src), summaryRunes)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
