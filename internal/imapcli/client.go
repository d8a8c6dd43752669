// Package imapcli wraps the IMAP client used to poll mailboxes. A Session
// is a single authenticated connection: dial, search for UIDs above the
// account watermark, fetch raw messages, optionally mirror the read flag,
// log out. Sessions are not safe for concurrent use; the fetcher opens one
// per poll pass and closes it before the pass ends.
package imapcli

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/ignite/mail-aggregator/internal/config"
)

func init() {
	// Headers in the wild arrive RFC 2047-encoded in legacy charsets.
	imap.CharsetReader = message.CharsetReader
}

// AuthError marks a login rejection, as opposed to a transport failure.
// Callers surface it differently: a bad app password needs operator action,
// a flaky network does not.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("imap login rejected: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// RawMessage is one fetched message before MIME parsing. Envelope carries
// the server-parsed header fields as a fallback for bodies the parser
// cannot make sense of.
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Envelope     *imap.Envelope
	Body         []byte
}

// Dialer opens authenticated IMAP sessions with the configured timeouts.
type Dialer struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewDialer creates a Dialer from the IMAP timeout configuration.
func NewDialer(cfg config.IMAPConfig) *Dialer {
	return &Dialer{
		connectTimeout: cfg.ConnectTimeout(),
		commandTimeout: cfg.CommandTimeout(),
	}
}

// Session is a live IMAP connection with INBOX selected.
type Session struct {
	c    *client.Client
	host string
}

// Open dials host:port over TLS, logs in, and selects INBOX. The mailbox is
// opened read-only unless the caller intends to mirror read flags back.
// Login rejections come back as *AuthError.
func (d *Dialer) Open(host string, port int, email, password string, readonly bool) (*Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: d.connectTimeout}, addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	c.Timeout = d.commandTimeout

	if err := c.Login(email, password); err != nil {
		_ = c.Logout()
		return nil, &AuthError{Err: err}
	}
	if _, err := c.Select("INBOX", readonly); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select INBOX: %w", err)
	}
	return &Session{c: c, host: host}, nil
}

// Host returns the server hostname the session is connected to.
func (s *Session) Host() string { return s.host }

// Close logs out and drops the connection.
func (s *Session) Close() error {
	return s.c.Logout()
}

// SearchNew returns the UIDs of messages newer than sinceUID, ascending.
// When sinceUID is zero (no watermark yet) the search is bounded by
// lookback instead, so a freshly added account does not ingest years of
// history on its first poll.
func (s *Session) SearchNew(sinceUID uint32, lookback time.Duration) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	if sinceUID > 0 {
		set := new(imap.SeqSet)
		set.AddRange(sinceUID+1, 0)
		criteria.Uid = set
	} else {
		criteria.Since = time.Now().Add(-lookback)
	}

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	// Servers resolve "n:*" to the highest existing UID even when n exceeds
	// it, so an up-to-date mailbox echoes back its newest message.
	fresh := uids[:0]
	for _, uid := range uids {
		if uid > sinceUID {
			fresh = append(fresh, uid)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	return fresh, nil
}

// Fetch retrieves envelope, internal date, and full body for the given
// UIDs, returned in ascending UID order. The body fetch uses PEEK so the
// server's \Seen flags stay untouched; mirroring is an explicit MarkSeen.
func (s *Session) Fetch(uids []uint32) ([]*RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seq := new(imap.SeqSet)
	for _, uid := range uids {
		seq.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}

	msgs := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seq, items, msgs)
	}()

	var out []*RawMessage
	for msg := range msgs {
		if msg == nil {
			continue
		}
		raw := &RawMessage{
			UID:          msg.Uid,
			InternalDate: msg.InternalDate,
			Envelope:     msg.Envelope,
		}
		if lit := msg.GetBody(section); lit != nil {
			if b, err := io.ReadAll(lit); err == nil {
				raw.Body = b
			}
		}
		out = append(out, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// MarkSeen adds \Seen to the given UIDs on the server.
func (s *Session) MarkSeen(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seq := new(imap.SeqSet)
	for _, uid := range uids {
		seq.AddNum(uid)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seq, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap mark seen: %w", err)
	}
	return nil
}

// ParseWatermark converts a stored watermark to a UID. Empty or corrupt
// values come back as zero, which SearchNew treats as "no watermark".
func ParseWatermark(lastUID *string) uint32 {
	if lastUID == nil || *lastUID == "" {
		return 0
	}
	n, err := strconv.ParseUint(*lastUID, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// FormatWatermark converts a UID back to its stored string form.
func FormatWatermark(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}
