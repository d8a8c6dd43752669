package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-aggregator/internal/archive"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/store"
)

const dayFormat = "2006-01-02"

type dayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type weekCount struct {
	WeekStart string `json:"week_start"`
	Count     int    `json:"count"`
}

type accountOverview struct {
	*store.AccountStat
	Share float64 `json:"share"`
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mondayOf(t time.Time) time.Time {
	return t.AddDate(0, 0, -((int(t.Weekday()) + 6) % 7))
}

// StatsOverview aggregates totals, a daily/weekly received trend over
// the requested window, per-account counts and database file info.
func (h *Handlers) StatsOverview(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil {
		days = v
	}
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	ctx := r.Context()
	now := time.Now().UTC()
	startDay := midnight(now.AddDate(0, 0, -(days - 1)))

	emails, unread, accounts, err := h.store.Counts(ctx)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load stats")
		return
	}
	oldest, newest, err := h.store.ReceivedBounds(ctx)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load stats")
		return
	}
	received, err := h.store.ReceivedSince(ctx, startDay)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load stats")
		return
	}

	perDay := make(map[string]int)
	for _, t := range received {
		perDay[t.UTC().Format(dayFormat)]++
	}
	daily := make([]dayCount, 0, days)
	perWeek := make(map[string]int)
	for i := 0; i < days; i++ {
		day := startDay.AddDate(0, 0, i)
		key := day.Format(dayFormat)
		n := perDay[key]
		daily = append(daily, dayCount{Date: key, Count: n})
		perWeek[mondayOf(day).Format(dayFormat)] += n
	}
	weekStarts := make([]string, 0, len(perWeek))
	for k := range perWeek {
		weekStarts = append(weekStarts, k)
	}
	sort.Strings(weekStarts)
	weekly := make([]weekCount, 0, len(weekStarts))
	for _, k := range weekStarts {
		weekly = append(weekly, weekCount{WeekStart: k, Count: perWeek[k]})
	}

	stats, err := h.store.AccountMessageStats(ctx)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load stats")
		return
	}
	byAccount := make([]accountOverview, 0, len(stats))
	for _, s := range stats {
		share := float64(s.Total) / float64(max(1, emails))
		byAccount = append(byAccount, accountOverview{AccountStat: s, Share: share})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"totals": map[string]interface{}{
			"emails":             emails,
			"unread":             unread,
			"accounts":           accounts,
			"oldest_received_at": rfc3339OrNil(oldest),
			"newest_received_at": rfc3339OrNil(newest),
		},
		"trend": map[string]interface{}{
			"daily":  daily,
			"weekly": weekly,
		},
		"by_account": byAccount,
		"db":         h.dbFileInfo(),
	})
}

func rfc3339OrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// dbFileInfo reports the backing file for SQLite deployments. Postgres
// has no meaningful local file, so both fields stay null there.
func (h *Handlers) dbFileInfo() map[string]interface{} {
	info := map[string]interface{}{"path": nil, "size_bytes": nil}
	if h.cfg == nil || !h.store.IsSQLite() {
		return info
	}
	path := h.cfg.Database.URL
	info["path"] = path
	if fi, err := os.Stat(path); err == nil {
		info["size_bytes"] = fi.Size()
	}
	return info
}

type cleanupRequest struct {
	KeepDays            *int  `json:"keep_days"`
	KeepPerAccount      *int  `json:"keep_per_account"`
	UseSettingsDefaults *bool `json:"use_settings_defaults"`
	DryRun              bool  `json:"dry_run"`
	Vacuum              bool  `json:"vacuum"`
}

// CleanupEmails deletes (or previews deleting) messages past the
// retention bounds. Bounds come from the request; absent ones fall back
// to the retention settings unless use_settings_defaults is false.
func (h *Handlers) CleanupEmails(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{DryRun: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	useDefaults := req.UseSettingsDefaults == nil || *req.UseSettingsDefaults

	keepDays := 0
	if req.KeepDays != nil {
		if *req.KeepDays < 1 {
			respondError(w, http.StatusBadRequest, "keep_days must be at least 1")
			return
		}
		keepDays = *req.KeepDays
	} else if useDefaults {
		keepDays = h.settings.GetInt(settings.KeyRetentionDays, 0)
	}
	keepPerAccount := 0
	if req.KeepPerAccount != nil {
		if *req.KeepPerAccount < 1 {
			respondError(w, http.StatusBadRequest, "keep_per_account must be at least 1")
			return
		}
		keepPerAccount = *req.KeepPerAccount
	} else if useDefaults {
		keepPerAccount = h.settings.GetInt(settings.KeyRetentionPerAcct, 0)
	}
	if keepDays <= 0 && keepPerAccount <= 0 {
		respondError(w, http.StatusBadRequest,
			"provide keep_days or keep_per_account, or set retention defaults in settings")
		return
	}

	ctx := r.Context()
	var cutoff *time.Time
	if keepDays > 0 {
		t := midnight(time.Now().UTC()).AddDate(0, 0, -keepDays)
		cutoff = &t
	}

	res, err := h.store.CleanupMessages(ctx, cutoff, keepPerAccount, req.DryRun)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "cleanup failed")
		return
	}

	if req.Vacuum && !req.DryRun && h.store.IsSQLite() {
		if err := h.store.Vacuum(ctx); err != nil {
			log.Printf("[API] vacuum: %v", err)
		}
	}

	out := map[string]interface{}{
		"dry_run":          req.DryRun,
		"keep_days":        intOrNil(keepDays),
		"keep_per_account": intOrNil(keepPerAccount),
		"cutoff":           rfc3339OrNil(cutoff),
		"details": map[string]interface{}{
			"by_days":     res.ByDays,
			"by_overflow": res.ByOverflow,
		},
	}
	if req.DryRun {
		out["would_delete"] = res.WouldDelete
	} else {
		out["deleted"] = res.Deleted
		out["vacuumed"] = req.Vacuum && h.store.IsSQLite()
	}
	respondJSON(w, http.StatusOK, out)
}

func intOrNil(n int) interface{} {
	if n <= 0 {
		return nil
	}
	return n
}

type archiveRequest struct {
	OlderThanDays int  `json:"older_than_days"`
	DeleteAfter   bool `json:"delete_after"`
	Limit         int  `json:"limit"`
}

// ArchiveEmails exports old messages to a JSONL file, optionally
// deleting them afterwards.
func (h *Handlers) ArchiveEmails(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respondError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OlderThanDays < 1 || req.OlderThanDays > 36500 {
		respondError(w, http.StatusBadRequest, "older_than_days must be between 1 and 36500")
		return
	}
	if req.Limit < 0 || req.Limit > 200000 {
		respondError(w, http.StatusBadRequest, "limit must be between 0 and 200000")
		return
	}

	res, err := h.archiver.Run(r.Context(), req.OlderThanDays, req.Limit, req.DeleteAfter)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "archive failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DownloadArchive streams a previously written archive file.
func (h *Handlers) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respondError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if !archive.ValidName(name) {
		respondError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := h.archiver.FilePath(name)
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/jsonl")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}
