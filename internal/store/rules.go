package store

import (
	"context"
	"database/sql"
	"fmt"
)

const ruleColumns = `id, name, rule_order, account_id, sender_pattern, subject_pattern,
	body_pattern, add_labels, push_telegram, mark_read`

func scanRule(row rowScanner) (*Rule, error) {
	r := &Rule{}
	var accountID sql.NullInt64
	var labels sql.NullString
	err := row.Scan(&r.ID, &r.Name, &r.RuleOrder, &accountID, &r.SenderPattern,
		&r.SubjectPattern, &r.BodyPattern, &labels, &r.PushTelegram, &r.MarkRead)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		v := accountID.Int64
		r.AccountID = &v
	}
	r.AddLabels = unmarshalLabels(labels)
	return r, nil
}

// ListRules returns rules in evaluation order. With accountID set
// the result is the global rules plus that account's rules, which is
// exactly the candidate set the engine walks for one message.
func (s *Store) ListRules(ctx context.Context, accountID *int64) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mail_rules`
	var args []interface{}
	if accountID != nil {
		query += ` WHERE account_id IS NULL OR account_id = $1`
		args = append(args, *accountID)
	}
	query += ` ORDER BY rule_order ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule retrieves a single rule by ID.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mail_rules WHERE id = $1`
	r, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// CreateRule inserts a rule and fills in its ID.
func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	query := `INSERT INTO mail_rules (name, rule_order, account_id, sender_pattern,
		subject_pattern, body_pattern, add_labels, push_telegram, mark_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query, r.Name, r.RuleOrder, r.AccountID,
		r.SenderPattern, r.SubjectPattern, r.BodyPattern, marshalLabels(r.AddLabels),
		r.PushTelegram, r.MarkRead).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// UpdateRule writes every column of r.
func (s *Store) UpdateRule(ctx context.Context, r *Rule) error {
	query := `UPDATE mail_rules SET name = $1, rule_order = $2, account_id = $3,
		sender_pattern = $4, subject_pattern = $5, body_pattern = $6, add_labels = $7,
		push_telegram = $8, mark_read = $9
		WHERE id = $10`

	res, err := s.db.ExecContext(ctx, query, r.Name, r.RuleOrder, r.AccountID,
		r.SenderPattern, r.SubjectPattern, r.BodyPattern, marshalLabels(r.AddLabels),
		r.PushTelegram, r.MarkRead, r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mail_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
