// Package status tracks per-account poll health. Reads come from an
// in-memory snapshot so /health and the status endpoint never touch the
// database; every transition is written through to the store so history
// survives restarts.
package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mail-aggregator/internal/store"
)

// Tracker holds the live poll status snapshot.
type Tracker struct {
	store *store.Store

	mu   sync.RWMutex
	rows map[int64]*store.PollStatus

	// Poller-wide bookkeeping for /health.
	lastStartedAt  *time.Time
	lastFinishedAt *time.Time
	lastError      *string
}

// PollerHealth is the poller-wide summary served by /health.
type PollerHealth struct {
	LastStartedAt  *time.Time `json:"last_started_at"`
	LastFinishedAt *time.Time `json:"last_finished_at"`
	LastError      *string    `json:"last_error"`
}

// NewTracker creates an empty tracker backed by the given store.
func NewTracker(st *store.Store) *Tracker {
	return &Tracker{store: st, rows: make(map[int64]*store.PollStatus)}
}

// Load primes the snapshot from persisted rows. Called once at boot.
func (t *Tracker) Load(ctx context.Context) error {
	rows, err := t.store.ListPollStatus(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		t.rows[row.AccountID] = row
		if row.LastStartedAt != nil && (t.lastStartedAt == nil || row.LastStartedAt.After(*t.lastStartedAt)) {
			t.lastStartedAt = row.LastStartedAt
		}
		if row.LastFinishedAt != nil && (t.lastFinishedAt == nil || row.LastFinishedAt.After(*t.lastFinishedAt)) {
			t.lastFinishedAt = row.LastFinishedAt
			t.lastError = row.LastError
		}
	}
	return nil
}

// MarkStarted records the beginning of a poll pass.
func (t *Tracker) MarkStarted(ctx context.Context, accountID int64) error {
	now := time.Now().UTC()

	t.mu.Lock()
	row := t.row(accountID)
	row.LastStartedAt = &now
	t.lastStartedAt = &now
	t.mu.Unlock()

	return t.store.MarkPollStarted(ctx, accountID, now)
}

// MarkFinished records the end of a poll pass. A nil errMsg means the pass
// was fully clean: last_success_at advances and last_error clears. A non-nil
// errMsg keeps the previous success timestamp so it stays monotonic.
func (t *Tracker) MarkFinished(ctx context.Context, accountID int64, errMsg *string) error {
	now := time.Now().UTC()

	t.mu.Lock()
	row := t.row(accountID)
	row.LastFinishedAt = &now
	if errMsg == nil {
		row.LastSuccessAt = &now
		row.LastError = nil
		t.lastError = nil
	} else {
		msg := *errMsg
		row.LastError = &msg
		t.lastError = &msg
	}
	t.lastFinishedAt = &now
	t.mu.Unlock()

	return t.store.MarkPollFinished(ctx, accountID, now, errMsg)
}

// row returns the snapshot row for an account, creating it if needed.
// Caller holds t.mu.
func (t *Tracker) row(accountID int64) *store.PollStatus {
	row, ok := t.rows[accountID]
	if !ok {
		row = &store.PollStatus{AccountID: accountID}
		t.rows[accountID] = row
	}
	return row
}

// Get returns a copy of one account's status.
func (t *Tracker) Get(accountID int64) (store.PollStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[accountID]
	if !ok {
		return store.PollStatus{}, false
	}
	return *row, true
}

// Snapshot returns copies of all rows ordered by account id.
func (t *Tracker) Snapshot() []store.PollStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]store.PollStatus, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Forget drops an account's row from the snapshot after the account is
// deleted. The persisted row is gone already via cascade.
func (t *Tracker) Forget(accountID int64) {
	t.mu.Lock()
	delete(t.rows, accountID)
	t.mu.Unlock()
}

// Health reports the poller-wide summary: the most recent start and
// finish across all accounts, and the error of the latest finished pass
// (nil when it was clean).
func (t *Tracker) Health() PollerHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return PollerHealth{
		LastStartedAt:  t.lastStartedAt,
		LastFinishedAt: t.lastFinishedAt,
		LastError:      t.lastError,
	}
}
