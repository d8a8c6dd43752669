// Package scheduler runs one polling loop per active account. Each loop
// sleeps its effective interval, wakes, re-reads its account, and runs a
// fetch pass. Deactivation, deletion, and interval changes are observed
// at the next wake; nothing is interrupted mid-pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/mail-aggregator/internal/fetcher"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/store"
)

// defaultMinInterval is the floor for any effective polling interval.
const defaultMinInterval = 5 * time.Second

// Runner executes one poll pass for one account. *fetcher.Fetcher is
// the production implementation.
type Runner interface {
	RunOnce(ctx context.Context, account *store.Account) (*fetcher.Result, error)
}

// Scheduler owns the set of account poll loops.
type Scheduler struct {
	store       *store.Store
	runner      Runner
	settings    *settings.Service
	grace       time.Duration
	minInterval time.Duration

	mu      sync.Mutex
	running bool
	loops   map[int64]struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. grace bounds how long Stop
// waits for in-flight passes.
func NewScheduler(st *store.Store, runner Runner, svc *settings.Service, grace time.Duration) *Scheduler {
	return &Scheduler{
		store:       st,
		runner:      runner,
		settings:    svc,
		grace:       grace,
		minInterval: defaultMinInterval,
		loops:       make(map[int64]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns a loop for every active account.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	log.Println("[Scheduler] starting account loops...")
	return s.Reconcile(ctx)
}

// Reconcile spawns loops for active accounts that do not have one yet.
// Called at start and after account creation, activation, or import.
// Loops for deactivated or deleted accounts exit on their own at the
// next wake, so there is nothing to stop here.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	for _, account := range accounts {
		if _, ok := s.loops[account.ID]; ok {
			continue
		}
		s.loops[account.ID] = struct{}{}
		s.wg.Add(1)
		go s.runLoop(ctx, account)
		log.Printf("[Scheduler] account %d (%s): loop started", account.ID, account.Email)
	}
	return nil
}

// Stop signals every loop and waits up to the grace period for in-flight
// passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	log.Println("[Scheduler] stopping account loops...")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		log.Printf("[Scheduler] shutdown grace of %s elapsed with polls still running", s.grace)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) runLoop(ctx context.Context, account *store.Account) {
	defer s.wg.Done()
	defer s.dropLoop(account.ID)

	id := account.ID
	interval := s.effectiveInterval(account)

	for {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		fresh, err := s.store.GetAccount(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[Scheduler] account %d: deleted, loop exiting", id)
			return
		}
		if err != nil {
			log.Printf("[Scheduler] account %d: reload: %v", id, err)
			continue
		}
		if !fresh.IsActive {
			log.Printf("[Scheduler] account %d: deactivated, loop exiting", id)
			return
		}

		if res, err := s.runner.RunOnce(ctx, fresh); err != nil {
			log.Printf("[Scheduler] account %d: poll: %v", id, err)
		} else if res.Inserted > 0 {
			log.Printf("[Scheduler] account %d: stored %d new messages", id, res.Inserted)
		}

		interval = s.effectiveInterval(fresh)
	}
}

func (s *Scheduler) dropLoop(accountID int64) {
	s.mu.Lock()
	delete(s.loops, accountID)
	s.mu.Unlock()
}

// effectiveInterval resolves the per-account override against the global
// setting, floored at the minimum interval.
func (s *Scheduler) effectiveInterval(account *store.Account) time.Duration {
	seconds := s.settings.GetInt(settings.KeyPollInterval, 300)
	if account.PollIntervalSeconds != nil && *account.PollIntervalSeconds > 0 {
		seconds = *account.PollIntervalSeconds
	}
	d := time.Duration(seconds) * time.Second
	if d < s.minInterval {
		return s.minInterval
	}
	return d
}

// LoopCount reports how many account loops are live.
func (s *Scheduler) LoopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}
