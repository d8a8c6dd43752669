// Package distlock provides the single-flight guard used around mailbox
// polls: at most one fetch per account key may be in flight at a time.
// The in-process table is the baseline guarantee; when Redis or Postgres
// is available, a distributed layer extends the guarantee across replicas.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the single-flight primitive. Acquire is non-blocking: a false
// return means another holder is in flight and the caller should skip.
type Lock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Table is an in-process registry of named locks. The zero value is not
// usable; create with NewTable. One Table is shared by the scheduler and
// the on-demand fetch path so both honor the same guard.
type Table struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{held: make(map[string]struct{})}
}

// TryAcquire claims the named lock. Returns false when already held.
func (t *Table) TryAcquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[key]; ok {
		return false
	}
	t.held[key] = struct{}{}
	return true
}

// Release frees the named lock. Releasing an unheld lock is a no-op.
func (t *Table) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, key)
}

// Held reports whether the named lock is currently claimed.
func (t *Table) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}

// extender is implemented by distributed backends whose claim expires and
// must be renewed while held. Advisory locks are session-scoped and need
// no renewal.
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Guard layers the local table with an optional distributed lock. The local
// claim always happens first; the distributed claim only follows when the
// local one succeeded, and is rolled back if the distributed claim fails.
// While held, an expiring distributed claim is renewed on a heartbeat so a
// pass that runs past the lease TTL keeps its lock.
type Guard struct {
	table *Table
	key   string
	dist  Lock
	ttl   time.Duration

	stopBeat chan struct{}
	beatDone chan struct{}
}

// NewGuard builds the guard for one key. redisClient takes precedence as
// the distributed backend; a non-nil db is used for Postgres advisory locks
// when Redis is absent. Both nil means in-process only.
func NewGuard(table *Table, redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) *Guard {
	g := &Guard{table: table, key: key, ttl: ttl}
	if redisClient != nil {
		g.dist = NewRedisLock(redisClient, key, ttl)
	} else if db != nil {
		g.dist = NewPGAdvisoryLock(db, key)
	}
	return g
}

// Acquire claims the guard. False means a fetch for this key is already in
// flight, locally or on another replica.
func (g *Guard) Acquire(ctx context.Context) (bool, error) {
	if !g.table.TryAcquire(g.key) {
		return false, nil
	}
	if g.dist == nil {
		return true, nil
	}
	ok, err := g.dist.Acquire(ctx)
	if err != nil || !ok {
		g.table.Release(g.key)
		return false, err
	}
	if ext, isExt := g.dist.(extender); isExt {
		g.stopBeat = make(chan struct{})
		g.beatDone = make(chan struct{})
		go g.heartbeat(ctx, ext)
	}
	return true, nil
}

// heartbeat renews the lease at a third of its TTL until Release. A failed
// renewal is not retried; once the lease lapses another replica may take
// over and the insert-if-new gate absorbs the overlap.
func (g *Guard) heartbeat(ctx context.Context, ext extender) {
	defer close(g.beatDone)
	interval := g.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopBeat:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ext.Extend(ctx, g.ttl); err != nil {
				return
			}
		}
	}
}

// Release frees both layers.
func (g *Guard) Release(ctx context.Context) error {
	if g.stopBeat != nil {
		close(g.stopBeat)
		<-g.beatDone
		g.stopBeat = nil
	}
	g.table.Release(g.key)
	if g.dist == nil {
		return nil
	}
	return g.dist.Release(ctx)
}

// PGAdvisoryLock implements Lock using PostgreSQL advisory locks.
// pg_try_advisory_lock is session-scoped: the lock is automatically
// released if the DB connection drops, similar to Redis TTL expiration.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
