// Package lock provides the per-project advisory Locker SPEC_FULL.md §4.7
// requires for multi-instance deployments: several daemon processes
// sharing one Task Store database and one Temporal namespace still need
// mutating operations on a project to serialize, which taskstore.Locker
// abstracts and the single-instance default (an in-process mutex) cannot
// provide across processes. RedisLocker implements taskstore.Locker with a
// SET NX PX / Lua-guarded DEL pair, the pattern goadesign-goa-ai's registry
// package uses its *redis.Client for.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if its value still matches the token
// the caller was granted, so a lock that expired and was re-acquired by a
// different holder is never released out from under that new holder.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisLocker implements taskstore.Locker on top of a shared Redis
// instance.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// New constructs a RedisLocker. ttl bounds how long a lock is held before
// it auto-expires, guarding against a crashed holder leaking the lock
// forever.
func New(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

// Lock implements taskstore.Locker: it blocks until projectID's lock is
// acquired or ctx is cancelled, polling at a fixed interval between
// attempts, and returns a release function that deletes the lock only if
// it is still held by this caller's token.
func (l *RedisLocker) Lock(ctx context.Context, projectID string) (func(), error) {
	key := lockKey(projectID)
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = l.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func lockKey(projectID string) string {
	return "yokeflow:lock:project:" + projectID
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
