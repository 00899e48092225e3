package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "sync:leader"

// releaseScript deletes the lease only if this holder still owns it, so a
// slow cycle cannot release a lease that already expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a redis SETNX lease that keeps concurrent sync cycles from
// interleaving. With no redis configured it degrades to a no-op, which is
// correct for the single-instance default deployment. Lock itself holds no
// per-acquisition state, so one instance can safely serve the ticker
// worker and the HTTP trigger at once: each successful Acquire hands its
// holder a token that only that holder's Release consumes.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Lock{client: client, ttl: ttl}
}

// Acquire tries to take the lease. ok=false means another cycle holds it;
// on success the returned token identifies this acquisition.
func (l *Lock) Acquire(ctx context.Context) (token string, ok bool, err error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("sync: acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back, but only while token still owns it. A
// holder that outlived the TTL finds its token gone and leaves the next
// holder's live lease untouched. Safe to call with the empty token from a
// failed Acquire.
func (l *Lock) Release(ctx context.Context, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("sync: release lock: %w", err)
	}
	return nil
}
