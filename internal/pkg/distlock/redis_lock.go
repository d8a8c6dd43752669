package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it, so a
// replica whose lease expired cannot free a lock re-acquired elsewhere.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript renews the TTL under the same ownership check.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock is the cross-replica lease: SET NX with a TTL, renewed by the
// guard's heartbeat while the pass runs. Each instance carries a random
// owner token; release is a no-op once the lease has expired and moved on.
type RedisLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLock creates a lease for the named key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("poll-lock:%s", key),
		owner:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lease. False means another replica holds it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Extend renews the lease. It fails once the lease has expired and another
// replica may have taken over.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return fmt.Errorf("extend lock %s: lease lost", l.key)
	}
	return nil
}

// Release frees the lease if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Result()
	return err
}
