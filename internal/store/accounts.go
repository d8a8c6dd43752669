package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const accountColumns = `id, email, provider, encrypted_pwd, host, port, is_active, sort_order,
	telegram_push_enabled, push_template, poll_interval_seconds, last_uid, created_at, updated_at`

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var interval sql.NullInt64
	var lastUID sql.NullString
	err := row.Scan(&a.ID, &a.Email, &a.Provider, &a.EncryptedPwd, &a.Host, &a.Port,
		&a.IsActive, &a.SortOrder, &a.TelegramPushEnabled, &a.PushTemplate,
		&interval, &lastUID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if interval.Valid {
		v := int(interval.Int64)
		a.PollIntervalSeconds = &v
	}
	if lastUID.Valid {
		v := lastUID.String
		a.LastUID = &v
	}
	return a, nil
}

// CreateAccount inserts a new account and fills in its ID and
// timestamps. Returns ErrDuplicate when the email is already
// registered.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `INSERT INTO accounts (email, provider, encrypted_pwd, host, port, is_active, sort_order,
		telegram_push_enabled, push_template, poll_interval_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query, a.Email, a.Provider, a.EncryptedPwd, a.Host, a.Port,
		a.IsActive, a.SortOrder, a.TelegramPushEnabled, a.PushTemplate,
		a.PollIntervalSeconds, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail retrieves an account by its mailbox address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts ordered for display.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.listAccounts(ctx, false)
}

// ListActiveAccounts returns the accounts the scheduler should poll.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	return s.listAccounts(ctx, true)
}

func (s *Store) listAccounts(ctx context.Context, activeOnly bool) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY sort_order ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccount writes every mutable column of a. Email is fixed at
// creation and not part of the update.
func (s *Store) UpdateAccount(ctx context.Context, a *Account) error {
	a.UpdatedAt = time.Now().UTC()

	query := `UPDATE accounts SET provider = $1, encrypted_pwd = $2, host = $3, port = $4,
		is_active = $5, sort_order = $6, telegram_push_enabled = $7, push_template = $8,
		poll_interval_seconds = $9, updated_at = $10
		WHERE id = $11`

	res, err := s.db.ExecContext(ctx, query, a.Provider, a.EncryptedPwd, a.Host, a.Port,
		a.IsActive, a.SortOrder, a.TelegramPushEnabled, a.PushTemplate,
		a.PollIntervalSeconds, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWatermark advances the per-account UID high-water mark after
// a successful fetch pass.
func (s *Store) UpdateWatermark(ctx context.Context, accountID int64, lastUID string) error {
	query := `UPDATE accounts SET last_uid = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, lastUID, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}

// DeleteAccount removes an account. Messages, account-scoped rules,
// push filters and poll status cascade via foreign keys.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NextSortOrder returns one past the current maximum, used as the
// default position for a new account.
func (s *Store) NextSortOrder(ctx context.Context) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), 0) + 1 FROM accounts`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sort order: %w", err)
	}
	return next, nil
}
