package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListPushFilters returns an account's Telegram push filters in
// evaluation order.
func (s *Store) ListPushFilters(ctx context.Context, accountID int64) ([]*PushFilter, error) {
	query := `SELECT id, account_id, field, mode, value, rule_order
		FROM telegram_filter_rules
		WHERE account_id = $1
		ORDER BY rule_order ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list push filters: %w", err)
	}
	defer rows.Close()

	var filters []*PushFilter
	for rows.Next() {
		f := &PushFilter{}
		if err := rows.Scan(&f.ID, &f.AccountID, &f.Field, &f.Mode, &f.Value, &f.RuleOrder); err != nil {
			return nil, fmt.Errorf("scan push filter: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// CreatePushFilter inserts a filter and fills in its ID.
func (s *Store) CreatePushFilter(ctx context.Context, f *PushFilter) error {
	query := `INSERT INTO telegram_filter_rules (account_id, field, mode, value, rule_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query, f.AccountID, f.Field, f.Mode, f.Value, f.RuleOrder).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("create push filter: %w", err)
	}
	return nil
}

// GetPushFilter retrieves a filter by its own ID.
func (s *Store) GetPushFilter(ctx context.Context, id int64) (*PushFilter, error) {
	query := `SELECT id, account_id, field, mode, value, rule_order
		FROM telegram_filter_rules WHERE id = $1`

	f := &PushFilter{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.AccountID, &f.Field, &f.Mode, &f.Value, &f.RuleOrder)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get push filter: %w", err)
	}
	return f, nil
}

// UpdatePushFilter writes every column of f.
func (s *Store) UpdatePushFilter(ctx context.Context, f *PushFilter) error {
	query := `UPDATE telegram_filter_rules SET field = $1, mode = $2, value = $3, rule_order = $4
		WHERE id = $5`

	res, err := s.db.ExecContext(ctx, query, f.Field, f.Mode, f.Value, f.RuleOrder, f.ID)
	if err != nil {
		return fmt.Errorf("update push filter: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePushFilter removes a filter by its own ID.
func (s *Store) DeletePushFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telegram_filter_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete push filter: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePushFilters swaps an account's filter set wholesale, used
// by settings import.
func (s *Store) ReplacePushFilters(ctx context.Context, accountID int64, filters []*PushFilter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace push filters: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM telegram_filter_rules WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clear push filters: %w", err)
	}
	for _, f := range filters {
		f.AccountID = accountID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO telegram_filter_rules (account_id, field, mode, value, rule_order)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			f.AccountID, f.Field, f.Mode, f.Value, f.RuleOrder).Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("insert push filter: %w", err)
		}
	}
	return tx.Commit()
}
