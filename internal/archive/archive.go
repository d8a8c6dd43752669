// Package archive exports old messages to JSONL files, one JSON object
// per line, with an optional S3 mirror. The local file is authoritative;
// a failed mirror upload only logs a warning.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/mail-aggregator/internal/store"
)

// Row is one archived message line.
type Row struct {
	ID             int64    `json:"id"`
	MessageID      string   `json:"message_id"`
	AccountID      int64    `json:"account_id"`
	AccountEmail   string   `json:"account_email"`
	Subject        string   `json:"subject"`
	Sender         string   `json:"sender"`
	ContentSummary string   `json:"content_summary"`
	ReceivedAt     string   `json:"received_at"`
	IsRead         bool     `json:"is_read"`
	Labels         []string `json:"labels"`
}

// Result reports one archive run. FileName and DownloadURL are nil when
// nothing matched and no file was written.
type Result struct {
	Count       int     `json:"count"`
	Deleted     int64   `json:"deleted"`
	FileName    *string `json:"file_name"`
	DownloadURL *string `json:"download_url"`
	Cutoff      string  `json:"cutoff"`
}

// Mirror uploads a finished archive file to secondary storage.
type Mirror interface {
	Upload(ctx context.Context, name, path string) error
}

// Archiver writes archive files under dir.
type Archiver struct {
	store  *store.Store
	dir    string
	mirror Mirror
}

// NewArchiver creates an archiver. mirror may be nil.
func NewArchiver(st *store.Store, dir string, mirror Mirror) *Archiver {
	return &Archiver{store: st, dir: dir, mirror: mirror}
}

// Run archives messages received before now minus olderThanDays, oldest
// first. limit bounds the batch (0 = unbounded); deleteAfter removes the
// archived rows once the file is safely on disk.
func (a *Archiver) Run(ctx context.Context, olderThanDays, limit int, deleteAfter bool) (*Result, error) {
	if olderThanDays < 1 {
		return nil, fmt.Errorf("older_than_days must be at least 1")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result := &Result{Cutoff: cutoff.Format(time.RFC3339)}

	messages, err := a.store.ArchiveCandidates(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	name := fmt.Sprintf("emails_archive_%s.jsonl", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(a.dir, name)

	ids, err := writeFile(path, messages)
	if err != nil {
		return nil, err
	}

	result.Count = len(ids)
	result.FileName = &name
	url := "/api/stats/archive/" + name
	result.DownloadURL = &url

	if a.mirror != nil {
		if err := a.mirror.Upload(ctx, name, path); err != nil {
			log.Printf("[Archive] mirror upload of %s failed: %v", name, err)
		}
	}

	if deleteAfter {
		deleted, err := a.store.DeleteMessagesByID(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("delete archived rows: %w", err)
		}
		result.Deleted = deleted
	}
	return result, nil
}

func writeFile(path string, messages []*store.Message) ([]int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		labels := m.Labels
		if labels == nil {
			labels = []string{}
		}
		row := Row{
			ID:             m.ID,
			MessageID:      m.MessageID,
			AccountID:      m.AccountID,
			AccountEmail:   m.AccountEmail,
			Subject:        m.Subject,
			Sender:         m.Sender,
			ContentSummary: m.ContentSummary,
			ReceivedAt:     m.ReceivedAt.UTC().Format(time.RFC3339),
			IsRead:         m.IsRead,
			Labels:         labels,
		}
		if err := enc.Encode(&row); err != nil {
			return nil, fmt.Errorf("write archive row: %w", err)
		}
		ids = append(ids, m.ID)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush archive file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive file: %w", err)
	}
	return ids, nil
}

// ValidName rejects names that could escape the archive directory.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, "/\\") && !strings.Contains(name, "..")
}

// FilePath resolves a validated archive file name to its on-disk path.
func (a *Archiver) FilePath(name string) string {
	return filepath.Join(a.dir, name)
}
