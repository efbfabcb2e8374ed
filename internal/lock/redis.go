package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/teris-io/shortid"
)

// RedisLocker implements Locker on a shared Redis so multiple service
// instances serialize mutations of the same name. Acquisition is SET NX with
// a per-holder token; release only deletes the key if the token still
// matches, so an expired lock re-acquired by someone else is never released
// out from under them. The check + delete happens in a lua script so that
// redis performs it atomically.
type RedisLocker struct {
	client *redis.Client
}

const releaseLuaScript = `
local expectedToken = ARGV[1]
local actualToken = redis.call('GET', KEYS[1])
if expectedToken == actualToken then
  redis.call('DEL', KEYS[1])
  return 1
else
  return 0
end
`

func NewRedisLocker(redisAddress string) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr: redisAddress,
		}),
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := shortid.Generate()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	acquired, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := r.client.Eval(ctx, releaseLuaScript, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
