package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisUnlockScript deletes the lock key only if it still holds our token,
// so an expired lock that was re-acquired by another instance is left alone.
// KEYS[1] = lock key
// ARGV[1] = owner token
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const redisLockPrefix = "ledger:lock:"

// RedisLocker is a Locker shared by every ledgerd instance pointing at the
// same Redis. Each lock carries a TTL so a crashed holder cannot wedge a
// project forever; the TTL must comfortably exceed one append.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a RedisLocker. ttl defaults to 10 seconds.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 25 * time.Millisecond, logger: logger}
}

// Lock implements Locker. It polls SET NX until the key is free or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: lock %q: %w", ErrConcurrencyConflict, key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: redis lock %q: %w", ErrPersistence, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %q: %w", ErrConcurrencyConflict, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(redisKey, token) })
	}, nil
}

func (l *RedisLocker) unlock(redisKey, token string) {
	// The caller's context may already be done; unlock on its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisUnlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("redis unlock failed; lock will expire",
			zap.String("key", redisKey),
			zap.Duration("ttl", l.ttl),
			zap.Error(err),
		)
	}
}
