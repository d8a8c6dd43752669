// Package fetcher runs the per-account poll pipeline: open an IMAP
// session, pull everything above the stored watermark, persist each new
// message exactly once, then fan out notifications. Persistence commits
// before any side effect runs, so a failed push never rolls back a stored
// message.
package fetcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-aggregator/internal/cipher"
	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/delivery"
	"github.com/ignite/mail-aggregator/internal/imapcli"
	"github.com/ignite/mail-aggregator/internal/pkg/distlock"
	"github.com/ignite/mail-aggregator/internal/pkg/logger"
	"github.com/ignite/mail-aggregator/internal/rules"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/status"
	"github.com/ignite/mail-aggregator/internal/store"
)

// Session is the slice of an IMAP session the pipeline uses.
type Session interface {
	SearchNew(sinceUID uint32, lookback time.Duration) ([]uint32, error)
	Fetch(uids []uint32) ([]*imapcli.RawMessage, error)
	MarkSeen(uids []uint32) error
	Host() string
	Close() error
}

// SessionDialer opens authenticated sessions.
type SessionDialer interface {
	Open(host string, port int, email, password string, readonly bool) (Session, error)
}

type imapDialer struct {
	d *imapcli.Dialer
}

func (a imapDialer) Open(host string, port int, email, password string, readonly bool) (Session, error) {
	return a.d.Open(host, port, email, password, readonly)
}

// Result reports one poll pass.
type Result struct {
	Inserted int  `json:"inserted"`
	Skipped  bool `json:"skipped,omitempty"`
}

// Fetcher executes poll passes. Safe for concurrent use across accounts;
// the per-account guard serializes passes for the same account.
type Fetcher struct {
	store    *store.Store
	keychain *cipher.Keychain
	settings *settings.Service
	tracker  *status.Tracker
	renderer *delivery.Renderer
	telegram *delivery.TelegramClient
	webhook  *delivery.WebhookClient
	locks    *distlock.Table
	redis    *redis.Client
	dialer   SessionDialer
	lookback time.Duration
	lockTTL  time.Duration
}

// NewFetcher wires the poll pipeline.
func NewFetcher(
	st *store.Store,
	keychain *cipher.Keychain,
	svc *settings.Service,
	tracker *status.Tracker,
	renderer *delivery.Renderer,
	telegram *delivery.TelegramClient,
	webhook *delivery.WebhookClient,
	locks *distlock.Table,
	redisClient *redis.Client,
	dialer *imapcli.Dialer,
	pollCfg config.PollConfig,
	imapCfg config.IMAPConfig,
) *Fetcher {
	return &Fetcher{
		store:    st,
		keychain: keychain,
		settings: svc,
		tracker:  tracker,
		renderer: renderer,
		telegram: telegram,
		webhook:  webhook,
		locks:    locks,
		redis:    redisClient,
		dialer:   imapDialer{d: dialer},
		lookback: time.Duration(pollCfg.InitialLookbackDays) * 24 * time.Hour,
		// The lease outlives any single hung command; the guard's
		// heartbeat renews it for passes that run longer.
		lockTTL: 2 * imapCfg.CommandTimeout(),
	}
}

// RunOnce polls one account. Overlapping calls for the same account are
// no-ops: the second caller gets Skipped=true immediately. The returned
// error is also recorded on the account's poll status.
func (f *Fetcher) RunOnce(ctx context.Context, account *store.Account) (*Result, error) {
	guard := f.guardFor(account.ID)
	ok, err := guard.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire poll lock: %w", err)
	}
	if !ok {
		return &Result{Skipped: true}, nil
	}
	defer guard.Release(ctx)

	runID := uuid.NewString()
	logger.Debug("poll pass starting", "run_id", runID, "account", account.Email)

	if err := f.tracker.MarkStarted(ctx, account.ID); err != nil {
		log.Printf("[Fetcher] account %d: record poll start: %v", account.ID, err)
	}

	inserted, runErr := f.poll(ctx, account)

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := f.tracker.MarkFinished(ctx, account.ID, errMsg); err != nil {
		log.Printf("[Fetcher] account %d: record poll finish: %v", account.ID, err)
	}

	if runErr != nil {
		return nil, runErr
	}
	if inserted > 0 {
		logger.Info("poll pass complete", "run_id", runID, "account", account.Email, "inserted", inserted)
	}
	return &Result{Inserted: inserted}, nil
}

func (f *Fetcher) guardFor(accountID int64) *distlock.Guard {
	var db *sql.DB
	if !f.store.IsSQLite() {
		db = f.store.DB()
	}
	return distlock.NewGuard(f.locks, f.redis, db, fmt.Sprintf("poll:%d", accountID), f.lockTTL)
}

func (f *Fetcher) poll(ctx context.Context, account *store.Account) (int, error) {
	// Rules are loaded up front: they decide both the stored label/read
	// state and whether the mailbox needs a read-write select.
	ruleList, err := f.store.ListRules(ctx, &account.ID)
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}
	filters, err := f.store.ListPushFilters(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("load push filters: %w", err)
	}

	mirror := f.settings.GetBool(settings.KeyMirrorMarkRead, true)
	readonly := !(mirror && anyMarkRead(ruleList))

	// The password is decrypted here and nowhere else.
	password, err := f.keychain.Decrypt(account.EncryptedPwd)
	if err != nil {
		return 0, fmt.Errorf("decrypt account password: %w", err)
	}
	sess, err := f.dialer.Open(account.Host, account.Port, account.Email, password, readonly)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	sinceUID := imapcli.ParseWatermark(account.LastUID)
	uids, err := sess.SearchNew(sinceUID, f.lookback)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}

	raws, err := sess.Fetch(uids)
	if err != nil {
		return 0, err
	}

	maxUID := sinceUID
	inserted := 0
	var mirrorUIDs []uint32

	for _, raw := range raws {
		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		default:
		}

		if raw.UID > maxUID {
			maxUID = raw.UID
		}

		parsed := imapcli.Parse(raw, account.Host)
		msg := &store.Message{
			AccountID:      account.ID,
			MessageID:      parsed.MessageID,
			Subject:        parsed.Subject,
			Sender:         parsed.Sender,
			ContentSummary: parsed.Summary,
			BodyText:       parsed.BodyText,
			BodyHTML:       parsed.BodyHTML,
			ReceivedAt:     parsed.ReceivedAt,
		}

		// The decision is computed before the insert so the stored row
		// carries its labels and read flag atomically.
		decision := rules.Evaluate(msg, ruleList, account.TelegramPushEnabled)
		msg.Labels = decision.AddLabels
		msg.IsRead = decision.MarkRead

		ok, err := f.store.InsertMessageIfNew(ctx, msg)
		if err != nil {
			return inserted, fmt.Errorf("insert message: %w", err)
		}
		if !ok {
			// Duplicate: side effects already ran in a prior pass.
			continue
		}
		inserted++

		if decision.MarkRead && !readonly {
			mirrorUIDs = append(mirrorUIDs, raw.UID)
		}

		f.notify(ctx, account, msg, filters, decision)
	}

	if len(mirrorUIDs) > 0 {
		if err := sess.MarkSeen(mirrorUIDs); err != nil {
			log.Printf("[Fetcher] account %d: mirror mark read: %v", account.ID, err)
		}
	}

	if maxUID > sinceUID {
		if err := f.store.UpdateWatermark(ctx, account.ID, imapcli.FormatWatermark(maxUID)); err != nil {
			return inserted, fmt.Errorf("persist watermark: %w", err)
		}
	}
	return inserted, nil
}

// notify fans one freshly inserted message out to Telegram and the
// webhook. Failures are logged, never returned: the message is already
// persisted and a retry would double-send.
func (f *Fetcher) notify(ctx context.Context, account *store.Account, msg *store.Message, filters []*store.PushFilter, decision rules.Decision) {
	if decision.PushTelegram && rules.ShouldPush(msg, account, filters) {
		token := f.settings.Get(settings.KeyTelegramBotToken)
		chatID := f.settings.Get(settings.KeyTelegramChatID)
		text, err := f.renderer.Render(account.PushTemplate, msg, account.Email)
		if err != nil {
			log.Printf("[Fetcher] account %d: render push: %v", account.ID, err)
		} else if err := f.telegram.SendMessage(ctx, token, chatID, text); err != nil && !errors.Is(err, delivery.ErrNotConfigured) {
			log.Printf("[Fetcher] account %d: telegram push: %v", account.ID, err)
		}
	}

	if url := f.settings.Get(settings.KeyWebhookURL); url != "" {
		if err := f.webhook.Send(ctx, url, delivery.NewWebhookPayload(msg, account.Email)); err != nil {
			log.Printf("[Fetcher] account %d: webhook post: %v", account.ID, err)
		}
	}
}

func anyMarkRead(ruleList []*store.Rule) bool {
	for _, r := range ruleList {
		if r.MarkRead {
			return true
		}
	}
	return false
}
