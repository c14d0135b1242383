package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
)

// unlockScript deletes the lock only if it still holds our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a stream.Locker shared by every API and worker process.
// The TTL must outlast the longest critical section (a restart).
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
}

var _ stream.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker with the given lease
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retryEvery: 50 * time.Millisecond}
}

// Lock polls SET NX until the key is free or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "vision:lock:" + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(l.retryEvery):
		}
	}

	return func() {
		// Release even when the caller's context is already done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		unlockScript.Run(ctx, l.client, []string{redisKey}, token)
	}, nil
}
