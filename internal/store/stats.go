package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Counts returns the overview totals: messages, unread messages and
// accounts.
func (s *Store) Counts(ctx context.Context) (emails, unread, accounts int, err error) {
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails`).Scan(&emails); err != nil {
		return 0, 0, 0, fmt.Errorf("count emails: %w", err)
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE is_read = FALSE`).Scan(&unread); err != nil {
		return 0, 0, 0, fmt.Errorf("count unread: %w", err)
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts`).Scan(&accounts); err != nil {
		return 0, 0, 0, fmt.Errorf("count accounts: %w", err)
	}
	return emails, unread, accounts, nil
}

// ReceivedBounds returns the oldest and newest received_at across
// all messages; nils when the table is empty.
func (s *Store) ReceivedBounds(ctx context.Context) (oldest, newest *time.Time, err error) {
	var lo, hi sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(received_at), MAX(received_at) FROM emails`).Scan(&lo, &hi)
	if err != nil {
		return nil, nil, fmt.Errorf("received bounds: %w", err)
	}
	if lo.Valid {
		t := lo.Time
		oldest = &t
	}
	if hi.Valid {
		t := hi.Time
		newest = &t
	}
	return oldest, newest, nil
}

// ReceivedSince streams the received_at instants of messages at or
// after start. Day and week bucketing happens in the caller, which
// keeps the SQL identical across both backends.
func (s *Store) ReceivedSince(ctx context.Context, start time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT received_at FROM emails WHERE received_at >= $1`, start.UTC())
	if err != nil {
		return nil, fmt.Errorf("received since: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan received_at: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// AccountMessageStats returns per-account totals, busiest first.
// Accounts with no messages still appear with zero counts.
func (s *Store) AccountMessageStats(ctx context.Context) ([]*AccountStat, error) {
	query := `SELECT a.id, a.email, COUNT(e.id) AS total,
		COALESCE(SUM(CASE WHEN e.is_read = FALSE THEN 1 ELSE 0 END), 0) AS unread
		FROM accounts a
		LEFT JOIN emails e ON e.account_id = a.id
		GROUP BY a.id, a.email
		ORDER BY COUNT(e.id) DESC, a.email ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("account stats: %w", err)
	}
	defer rows.Close()

	var stats []*AccountStat
	for rows.Next() {
		st := &AccountStat{}
		if err := rows.Scan(&st.AccountID, &st.AccountEmail, &st.Total, &st.Unread); err != nil {
			return nil, fmt.Errorf("scan account stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
