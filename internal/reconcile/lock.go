package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock guards ticks across processes sharing one database.
type TickLock interface {
	// Acquire tries to take the lock for at most ttl. acquired is false when
	// another holder has it.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// DefaultLockKey is the Redis key used by NewRedisLock when none is given.
const DefaultLockKey = "phxbot:reconcile:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a TickLock backed by a single Redis key.
type RedisLock struct {
	client *redis.Client
	key    string
}

// NewRedisLock creates a RedisLock on key.
func NewRedisLock(client *redis.Client, key string) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key}
}

// Acquire sets the key if absent with a random token. Release deletes the
// key only while it still holds that token.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("set lock key: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock key: %w", err)
		}
		return nil
	}
	return release, true, nil
}
