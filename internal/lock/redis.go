package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "loan-lock:"

// Deletes the key only if it still carries our token, so an expired lock
// that another instance has since taken is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every engine instance pointing at the same
// Redis. Locks expire after ttl if the holder dies.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
}

func NewRedis(client redis.UniversalClient, ttl, retryWait time.Duration) *Redis {
	if retryWait <= 0 {
		retryWait = 50 * time.Millisecond
	}
	return &Redis{client: client, ttl: ttl, retryWait: retryWait}
}

func OpenRedis(addr string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", addr, err)
	}
	return r, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("unable to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; the lock must still go.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				zap.L().Warn("Failed to release loan lock",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}, nil
}
