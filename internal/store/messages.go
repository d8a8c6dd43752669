package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertMessageIfNew stores m unless the (account_id, message_id)
// pair already exists. Returns true and fills m.ID when a row was
// inserted; returns false with no error on a duplicate. Labels and
// is_read carry any rule decision computed before the insert, so the
// stored row lands atomically with its rule outcome.
func (s *Store) InsertMessageIfNew(ctx context.Context, m *Message) (bool, error) {
	m.ReceivedAt = m.ReceivedAt.UTC()

	query := `INSERT INTO emails (account_id, message_id, subject, sender, content_summary,
		body_text, body_html, received_at, is_read, labels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, message_id) DO NOTHING
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query, m.AccountID, m.MessageID, m.Subject, m.Sender,
		m.ContentSummary, m.BodyText, m.BodyHTML, m.ReceivedAt, m.IsRead,
		marshalLabels(m.Labels)).Scan(&m.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

// GetMessage retrieves one message with bodies and the owning
// account's email joined in.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	query := `SELECT e.id, e.account_id, e.message_id, e.subject, e.sender, e.content_summary,
		e.body_text, e.body_html, e.received_at, e.is_read, e.labels, a.email
		FROM emails e
		JOIN accounts a ON a.id = e.account_id
		WHERE e.id = $1`

	m := &Message{}
	var bodyText, bodyHTML, labels sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.AccountID, &m.MessageID,
		&m.Subject, &m.Sender, &m.ContentSummary, &bodyText, &bodyHTML,
		&m.ReceivedAt, &m.IsRead, &labels, &m.AccountEmail)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.BodyText = bodyText.String
	m.BodyHTML = bodyHTML.String
	m.Labels = unmarshalLabels(labels)
	return m, nil
}

// SetMessageRead sets the local read flag.
func (s *Store) SetMessageRead(ctx context.Context, id int64, read bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE emails SET is_read = $1 WHERE id = $2`, read, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns one page of messages matching q, newest
// first, plus the total match count. List rows omit bodies.
func (s *Store) ListMessages(ctx context.Context, q MessageQuery) ([]*Message, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}
	if q.PageSize > 200 {
		q.PageSize = 200
	}

	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.AccountID != nil {
		conds = append(conds, "e.account_id = "+next(*q.AccountID))
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		pat := "%" + strings.ToLower(kw) + "%"
		conds = append(conds, fmt.Sprintf(
			"(LOWER(e.subject) LIKE %s OR LOWER(e.sender) LIKE %s OR LOWER(e.content_summary) LIKE %s)",
			next(pat), next(pat), next(pat)))
	}
	if q.DateFrom != nil {
		conds = append(conds, "e.received_at >= "+next(*utcPtr(q.DateFrom)))
	}
	if q.DateTo != nil {
		conds = append(conds, "e.received_at < "+next(*utcPtr(q.DateTo)))
	}
	if q.IsRead != nil {
		conds = append(conds, "e.is_read = "+next(*q.IsRead))
	}
	if lb := strings.TrimSpace(q.Label); lb != "" {
		conds = append(conds, "e.labels LIKE "+next(`%"`+lb+`"%`))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM emails e` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := `SELECT e.id, e.account_id, e.message_id, e.subject, e.sender, e.content_summary,
		e.received_at, e.is_read, e.labels, a.email
		FROM emails e
		JOIN accounts a ON a.id = e.account_id` + where +
		` ORDER BY e.received_at DESC, e.id DESC LIMIT ` + next(q.PageSize) +
		` OFFSET ` + next((q.Page-1)*q.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var labels sql.NullString
		if err := rows.Scan(&m.ID, &m.AccountID, &m.MessageID, &m.Subject, &m.Sender,
			&m.ContentSummary, &m.ReceivedAt, &m.IsRead, &labels, &m.AccountEmail); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		m.Labels = unmarshalLabels(labels)
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

// ListMessagesForRecompute loads the fields the rule engine needs
// for a full reapply pass, oldest first. accountID nil means all
// accounts.
func (s *Store) ListMessagesForRecompute(ctx context.Context, accountID *int64) ([]*Message, error) {
	query := `SELECT id, account_id, message_id, subject, sender, content_summary,
		body_text, is_read, labels FROM emails`
	var args []interface{}
	if accountID != nil {
		query += ` WHERE account_id = $1`
		args = append(args, *accountID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for recompute: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var bodyText, labels sql.NullString
		if err := rows.Scan(&m.ID, &m.AccountID, &m.MessageID, &m.Subject, &m.Sender,
			&m.ContentSummary, &bodyText, &m.IsRead, &labels); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.BodyText = bodyText.String
		m.Labels = unmarshalLabels(labels)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateRuleResult replaces a message's labels with a freshly
// computed set. The read flag only upgrades; a recompute never flips
// a read message back to unread.
func (s *Store) UpdateRuleResult(ctx context.Context, id int64, labels []string, markRead bool) error {
	query := `UPDATE emails SET labels = $1, is_read = (is_read OR $2) WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, marshalLabels(labels), markRead, id)
	if err != nil {
		return fmt.Errorf("update rule result: %w", err)
	}
	return nil
}

const overflowRanked = `SELECT id, ROW_NUMBER() OVER (
	PARTITION BY account_id ORDER BY received_at DESC, id DESC) AS rn FROM emails`

// CleanupMessages deletes messages older than cutoff and/or beyond
// the newest keepPerAccount rows of each account. Either bound may
// be absent. With dryRun the counts are computed and nothing is
// deleted.
func (s *Store) CleanupMessages(ctx context.Context, cutoff *time.Time, keepPerAccount int, dryRun bool) (*CleanupResult, error) {
	if cutoff == nil && keepPerAccount <= 0 {
		return nil, fmt.Errorf("cleanup requires keep_days or keep_per_account")
	}
	cutoff = utcPtr(cutoff)

	result := &CleanupResult{DryRun: dryRun}

	if cutoff != nil {
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM emails WHERE received_at < $1`, *cutoff).Scan(&result.ByDays)
		if err != nil {
			return nil, fmt.Errorf("count by days: %w", err)
		}
	}
	if keepPerAccount > 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM (`+overflowRanked+`) ranked WHERE rn > $1`,
			keepPerAccount).Scan(&result.ByOverflow)
		if err != nil {
			return nil, fmt.Errorf("count by overflow: %w", err)
		}
	}

	switch {
	case cutoff != nil && keepPerAccount > 0:
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM (
				SELECT id FROM emails WHERE received_at < $1
				UNION
				SELECT id FROM (`+overflowRanked+`) ranked WHERE rn > $2
			) ids`, *cutoff, keepPerAccount).Scan(&result.WouldDelete)
		if err != nil {
			return nil, fmt.Errorf("count cleanup candidates: %w", err)
		}
	case cutoff != nil:
		result.WouldDelete = result.ByDays
	default:
		result.WouldDelete = result.ByOverflow
	}

	if dryRun {
		return result, nil
	}

	var res sql.Result
	var err error
	switch {
	case cutoff != nil && keepPerAccount > 0:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM emails WHERE id IN (
				SELECT id FROM emails WHERE received_at < $1
				UNION
				SELECT id FROM (`+overflowRanked+`) ranked WHERE rn > $2
			)`, *cutoff, keepPerAccount)
	case cutoff != nil:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM emails WHERE received_at < $1`, *cutoff)
	default:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM emails WHERE id IN (
				SELECT id FROM (`+overflowRanked+`) ranked WHERE rn > $1
			)`, keepPerAccount)
	}
	if err != nil {
		return nil, fmt.Errorf("cleanup delete: %w", err)
	}
	n, _ := res.RowsAffected()
	result.Deleted = int(n)
	return result, nil
}

// ArchiveCandidates returns messages older than cutoff, oldest
// first, with the owning account's email. limit 0 means unbounded.
func (s *Store) ArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error) {
	query := `SELECT e.id, e.account_id, e.message_id, e.subject, e.sender, e.content_summary,
		e.received_at, e.is_read, e.labels, a.email
		FROM emails e
		JOIN accounts a ON a.id = e.account_id
		WHERE e.received_at < $1
		ORDER BY e.received_at ASC, e.id ASC`
	args := []interface{}{cutoff.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive candidates: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var labels sql.NullString
		if err := rows.Scan(&m.ID, &m.AccountID, &m.MessageID, &m.Subject, &m.Sender,
			&m.ContentSummary, &m.ReceivedAt, &m.IsRead, &labels, &m.AccountEmail); err != nil {
			return nil, fmt.Errorf("scan archive candidate: %w", err)
		}
		m.Labels = unmarshalLabels(labels)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessagesByID removes the given rows, chunked to stay under
// SQLite's bound-parameter ceiling.
func (s *Store) DeleteMessagesByID(ctx context.Context, ids []int64) (int64, error) {
	const chunkSize = 500
	var deleted int64
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM emails WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete messages: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}
