package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards a submission across processes. TryLock reports false when
// another holder owns key; the returned unlock is safe to call once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lease never removes a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	redis  *redis.Client
	prefix string
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if client == nil {
		panic("intake: redis client required")
	}
	if prefix == "" {
		prefix = "intake:submit"
	}
	return &RedisLocker{redis: client, prefix: prefix}
}

func (l *RedisLocker) key(name string) string {
	return fmt.Sprintf("%s:%s", l.prefix, name)
}

// TryLock attempts to take the lease for name.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	key := l.key(name)
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("intake: acquire submit lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("intake: release submit lock: %w", err)
		}
		return nil
	}
	return unlock, true, nil
}
