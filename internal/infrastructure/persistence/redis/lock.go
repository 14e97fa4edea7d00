package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants exclusive ownership of a key for a bounded time.
type Locker struct {
	client redis.Scripter
	set    func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// NewLocker creates a locker backed by SET NX PX.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client: client,
		set: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return client.SetNX(ctx, key, token, ttl).Result()
		},
	}
}

// Acquire takes the lock or returns shared.ErrLocked if someone holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}

	token := uuid.NewString()
	lockKey := LockKey(key)

	ok, err := l.set(ctx, lockKey, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, shared.WrapError("lock", "Acquire", shared.ErrLocked, key+" is held", nil)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
