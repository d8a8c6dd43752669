package store

import "time"

// Account is a mailbox the poller watches. EncryptedPwd holds the
// app password sealed by the cipher keychain; it never serializes
// into API responses.
type Account struct {
	ID                  int64      `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	Provider            string     `json:"provider" db:"provider"`
	EncryptedPwd        string     `json:"-" db:"encrypted_pwd"`
	Host                string     `json:"host" db:"host"`
	Port                int        `json:"port" db:"port"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	SortOrder           int        `json:"sort_order" db:"sort_order"`
	TelegramPushEnabled bool       `json:"telegram_push_enabled" db:"telegram_push_enabled"`
	PushTemplate        string     `json:"push_template" db:"push_template"`
	PollIntervalSeconds *int       `json:"poll_interval_seconds" db:"poll_interval_seconds"`
	LastUID             *string    `json:"last_uid,omitempty" db:"last_uid"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Message is one stored email. (AccountID, MessageID) is the
// deduplication key. Labels round-trips through a JSON text column.
type Message struct {
	ID             int64     `json:"id" db:"id"`
	AccountID      int64     `json:"account_id" db:"account_id"`
	MessageID      string    `json:"message_id" db:"message_id"`
	Subject        string    `json:"subject" db:"subject"`
	Sender         string    `json:"sender" db:"sender"`
	ContentSummary string    `json:"content_summary" db:"content_summary"`
	BodyText       string    `json:"body_text,omitempty" db:"body_text"`
	BodyHTML       string    `json:"body_html,omitempty" db:"body_html"`
	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
	IsRead         bool      `json:"is_read" db:"is_read"`
	Labels         []string  `json:"labels" db:"labels"`

	// AccountEmail is joined in on read paths for display.
	AccountEmail string `json:"account_email,omitempty" db:"-"`
}

// Rule is a mail rule. AccountID nil means the rule applies to every
// account. Patterns are case-insensitive substring matches; an empty
// pattern matches everything.
type Rule struct {
	ID             int64    `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	RuleOrder      int      `json:"rule_order" db:"rule_order"`
	AccountID      *int64   `json:"account_id" db:"account_id"`
	SenderPattern  string   `json:"sender_pattern" db:"sender_pattern"`
	SubjectPattern string   `json:"subject_pattern" db:"subject_pattern"`
	BodyPattern    string   `json:"body_pattern" db:"body_pattern"`
	AddLabels      []string `json:"add_labels" db:"add_labels"`
	PushTelegram   bool     `json:"push_telegram" db:"push_telegram"`
	MarkRead       bool     `json:"mark_read" db:"mark_read"`
}

// PushFilter is a per-account allow/deny gate applied before a
// Telegram push. Field is one of sender|domain|subject|body, Mode is
// allow|deny.
type PushFilter struct {
	ID        int64  `json:"id" db:"id"`
	AccountID int64  `json:"account_id" db:"account_id"`
	Field     string `json:"field" db:"field"`
	Mode      string `json:"mode" db:"mode"`
	Value     string `json:"value" db:"value"`
	RuleOrder int    `json:"rule_order" db:"rule_order"`
}

// PollStatus is the persisted per-account poll health row.
type PollStatus struct {
	AccountID      int64      `json:"account_id" db:"account_id"`
	LastStartedAt  *time.Time `json:"last_started_at" db:"last_started_at"`
	LastFinishedAt *time.Time `json:"last_finished_at" db:"last_finished_at"`
	LastSuccessAt  *time.Time `json:"last_success_at" db:"last_success_at"`
	LastError      *string    `json:"last_error" db:"last_error"`
}

// MessageQuery narrows ListMessages. Zero values mean "no filter".
// DateTo is exclusive.
type MessageQuery struct {
	AccountID *int64
	Keyword   string
	IsRead    *bool
	Label     string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// CleanupResult reports what a retention pass deleted, or would
// delete when dry-run.
type CleanupResult struct {
	DryRun      bool `json:"dry_run"`
	WouldDelete int  `json:"would_delete"`
	Deleted     int  `json:"deleted"`
	ByDays      int  `json:"by_days"`
	ByOverflow  int  `json:"by_overflow"`
}

// AccountStat is the per-account slice of the stats overview.
type AccountStat struct {
	AccountID    int64  `json:"account_id"`
	AccountEmail string `json:"account_email"`
	Total        int    `json:"total"`
	Unread       int    `json:"unread"`
}
