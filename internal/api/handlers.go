// Package api exposes the HTTP surface: account and rule management,
// the stored-mail browser, settings, stats and maintenance, and admin
// auth. Handlers validate and translate; everything stateful lives in
// the packages they call into.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-aggregator/internal/archive"
	"github.com/ignite/mail-aggregator/internal/auth"
	"github.com/ignite/mail-aggregator/internal/cipher"
	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/fetcher"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/status"
	"github.com/ignite/mail-aggregator/internal/store"
)

// FetchRunner triggers one poll pass for an account. *fetcher.Fetcher
// is the production implementation.
type FetchRunner interface {
	RunOnce(ctx context.Context, account *store.Account) (*fetcher.Result, error)
}

// Reconciler spawns poll loops for accounts created or re-activated
// while the process runs. *scheduler.Scheduler is the production
// implementation.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	store      *store.Store
	keychain   *cipher.Keychain
	settings   *settings.Service
	tracker    *status.Tracker
	cfg        *config.Config
	fetcher    FetchRunner
	archiver   *archive.Archiver
	reconciler Reconciler
	auth       *auth.AuthManager
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, keychain *cipher.Keychain, svc *settings.Service,
	tracker *status.Tracker, cfg *config.Config) *Handlers {
	return &Handlers{
		store:    st,
		keychain: keychain,
		settings: svc,
		tracker:  tracker,
		cfg:      cfg,
	}
}

// SetFetchRunner wires the on-demand fetch path.
func (h *Handlers) SetFetchRunner(f FetchRunner) {
	h.fetcher = f
}

// SetArchiver wires the JSONL archive exporter.
func (h *Handlers) SetArchiver(a *archive.Archiver) {
	h.archiver = a
}

// SetReconciler wires the scheduler so account create/activate spawns
// a poll loop without waiting for a restart.
func (h *Handlers) SetReconciler(rec Reconciler) {
	h.reconciler = rec
}

// SetAuthManager wires admin login and session checks.
func (h *Handlers) SetAuthManager(am *auth.AuthManager) {
	h.auth = am
}

// reconcileLoops nudges the scheduler after an account change. Best
// effort; the loop would also appear on the next process start.
func (h *Handlers) reconcileLoops(ctx context.Context) {
	if h.reconciler == nil {
		return
	}
	if err := h.reconciler.Reconcile(ctx); err != nil {
		log.Printf("[API] reconcile poll loops: %v", err)
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondSafeError logs the internal error and sends a generic
// message, keeping driver and file-path detail out of responses.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		log.Printf("ERROR [%d]: %s: %v", code, publicMsg, internalErr)
	}
	respondError(w, code, publicMsg)
}

// idParam reads the {id} URL parameter as a positive integer.
func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
