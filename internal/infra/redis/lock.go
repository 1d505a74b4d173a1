package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"video-analysis-pipeline/internal/domain"
)

// Locker is a best-effort mutual exclusion across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

// TryLock takes key for ttl without waiting. It returns domain.ErrLockHeld
// when another owner has it.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

// NoopLocker always grants the lock; used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (string, error) { return "local", nil }
func (NoopLocker) Unlock(context.Context, string, string) error                   { return nil }

const LiveTickLockKey = "lock:live_tick"
