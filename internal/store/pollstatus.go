package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkPollStarted records the start of a fetch pass.
func (s *Store) MarkPollStarted(ctx context.Context, accountID int64, at time.Time) error {
	query := `INSERT INTO account_poll_status (account_id, last_started_at) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET last_started_at = EXCLUDED.last_started_at`
	if _, err := s.db.ExecContext(ctx, query, accountID, at.UTC()); err != nil {
		return fmt.Errorf("mark poll started: %w", err)
	}
	return nil
}

// MarkPollFinished records the end of a fetch pass. A nil errMsg
// means the pass completed cleanly, which also advances
// last_success_at; otherwise the error is stored and the success
// timestamp keeps its previous value.
func (s *Store) MarkPollFinished(ctx context.Context, accountID int64, at time.Time, errMsg *string) error {
	at = at.UTC()
	if errMsg == nil {
		query := `INSERT INTO account_poll_status (account_id, last_finished_at, last_success_at, last_error)
			VALUES ($1, $2, $3, NULL)
			ON CONFLICT (account_id) DO UPDATE SET
				last_finished_at = EXCLUDED.last_finished_at,
				last_success_at = EXCLUDED.last_success_at,
				last_error = NULL`
		if _, err := s.db.ExecContext(ctx, query, accountID, at, at); err != nil {
			return fmt.Errorf("mark poll finished: %w", err)
		}
		return nil
	}

	query := `INSERT INTO account_poll_status (account_id, last_finished_at, last_error)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			last_finished_at = EXCLUDED.last_finished_at,
			last_error = EXCLUDED.last_error`
	if _, err := s.db.ExecContext(ctx, query, accountID, at, *errMsg); err != nil {
		return fmt.Errorf("mark poll finished: %w", err)
	}
	return nil
}

func scanPollStatus(row rowScanner) (*PollStatus, error) {
	ps := &PollStatus{}
	var started, finished, success sql.NullTime
	var lastErr sql.NullString
	if err := row.Scan(&ps.AccountID, &started, &finished, &success, &lastErr); err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		ps.LastStartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		ps.LastFinishedAt = &t
	}
	if success.Valid {
		t := success.Time
		ps.LastSuccessAt = &t
	}
	if lastErr.Valid {
		v := lastErr.String
		ps.LastError = &v
	}
	return ps, nil
}

// GetPollStatus returns one account's persisted poll health, or
// ErrNotFound if the account has never been polled.
func (s *Store) GetPollStatus(ctx context.Context, accountID int64) (*PollStatus, error) {
	query := `SELECT account_id, last_started_at, last_finished_at, last_success_at, last_error
		FROM account_poll_status WHERE account_id = $1`
	ps, err := scanPollStatus(s.db.QueryRowContext(ctx, query, accountID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll status: %w", err)
	}
	return ps, nil
}

// ListPollStatus returns poll health for every tracked account.
func (s *Store) ListPollStatus(ctx context.Context) ([]*PollStatus, error) {
	query := `SELECT account_id, last_started_at, last_finished_at, last_success_at, last_error
		FROM account_poll_status ORDER BY account_id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list poll status: %w", err)
	}
	defer rows.Close()

	var statuses []*PollStatus
	for rows.Next() {
		ps, err := scanPollStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll status: %w", err)
		}
		statuses = append(statuses, ps)
	}
	return statuses, rows.Err()
}
