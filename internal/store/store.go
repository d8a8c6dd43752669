// Package store persists accounts, messages, rules, push filters,
// settings and poll status behind a single *sql.DB. It speaks both
// Postgres (lib/pq, DATABASE_URL with a postgres:// scheme) and the
// default embedded SQLite file. Every query uses $1..$n placeholders
// in strictly ascending first-use order with no reuse, which binds
// positionally on both drivers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"
)

// Sentinel errors for the store layer.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Store provides database operations for aggregator entities.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore wraps an existing connection. Used by tests that supply
// their own *sql.DB.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Open connects to the database named by databaseURL. A postgres://
// or postgresql:// URL selects Postgres; anything else is treated as
// a SQLite file path (an optional sqlite:// prefix is stripped, and
// the parent directory is created if missing).
func Open(databaseURL string) (*Store, error) {
	driver, dsn := resolveDSN(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == driverPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite serializes writers; one connection avoids
		// SQLITE_BUSY under concurrent poll loops.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

func resolveDSN(databaseURL string) (driver, dsn string) {
	u := strings.TrimSpace(databaseURL)
	if u == "" {
		u = "data/mail.db"
	}
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return driverPostgres, u
	}

	path := strings.TrimPrefix(u, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	if !strings.Contains(path, "?") {
		path += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	return driverSQLite, path
}

// DB exposes the underlying handle for advisory locks and helpers.
func (s *Store) DB() *sql.DB { return s.db }

// Driver reports the active driver name ("postgres" or "sqlite3").
func (s *Store) Driver() string { return s.driver }

// IsSQLite reports whether the store runs on the embedded backend.
func (s *Store) IsSQLite() bool { return s.driver == driverSQLite }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema when missing. Statements are idempotent
// so Migrate is safe to run on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS accounts (
			id %s,
			email TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL DEFAULT 'custom',
			encrypted_pwd TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT 'imap.gmail.com',
			port INTEGER NOT NULL DEFAULT 993,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			sort_order INTEGER NOT NULL DEFAULT 0,
			telegram_push_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			push_template TEXT NOT NULL DEFAULT 'short',
			poll_interval_seconds INTEGER,
			last_uid TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS emails (
			id %s,
			account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			content_summary TEXT NOT NULL DEFAULT '',
			body_text TEXT,
			body_html TEXT,
			received_at TIMESTAMP NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			labels TEXT NOT NULL DEFAULT '[]',
			UNIQUE (account_id, message_id)
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mail_rules (
			id %s,
			name TEXT NOT NULL DEFAULT '',
			rule_order INTEGER NOT NULL DEFAULT 0,
			account_id BIGINT REFERENCES accounts(id) ON DELETE CASCADE,
			sender_pattern TEXT NOT NULL DEFAULT '',
			subject_pattern TEXT NOT NULL DEFAULT '',
			body_pattern TEXT NOT NULL DEFAULT '',
			add_labels TEXT NOT NULL DEFAULT '[]',
			push_telegram BOOLEAN NOT NULL DEFAULT TRUE,
			mark_read BOOLEAN NOT NULL DEFAULT FALSE
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS telegram_filter_rules (
			id %s,
			account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			field TEXT NOT NULL,
			mode TEXT NOT NULL,
			value TEXT NOT NULL,
			rule_order INTEGER NOT NULL DEFAULT 0
		)`, serial),
		`CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS account_poll_status (
			account_id BIGINT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			last_started_at TIMESTAMP,
			last_finished_at TIMESTAMP,
			last_success_at TIMESTAMP,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_account_received ON emails (account_id, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_received ON emails (received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_mail_rules_order ON mail_rules (rule_order, id)`,
		`CREATE INDEX IF NOT EXISTS idx_telegram_filter_rules_account ON telegram_filter_rules (account_id, rule_order, id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Vacuum reclaims file space after bulk deletes. SQLite only; a
// no-op on Postgres where autovacuum owns this.
func (s *Store) Vacuum(ctx context.Context) error {
	if s.driver != driverSQLite {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalLabels(labels []string) string {
	if len(labels) == 0 {
		return "[]"
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalLabels(raw sql.NullString) []string {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// utcPtr normalizes an optional time to UTC so SQLite's textual
// timestamp ordering stays chronological.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
