package bruteforce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares lockout state across instances. Failure counts expire
// with the lockout window; the lock itself is a separate key whose TTL is the
// remaining lockout.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "lockout"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) failKey(key string) string { return r.prefix + ":fail:" + key }
func (r *RedisBackend) lockKey(key string) string { return r.prefix + ":lock:" + key }

func (r *RedisBackend) Fail(ctx context.Context, key string, now time.Time, threshold int, lockout time.Duration) (Status, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.failKey(key))
	pipe.ExpireNX(ctx, r.failKey(key), lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		return Status{}, err
	}

	failures := int(incr.Val())
	if failures >= threshold {
		until := now.Add(lockout)
		if err := r.client.Set(ctx, r.lockKey(key), until.Unix(), lockout).Err(); err != nil {
			return Status{}, err
		}
		return Status{Locked: true, LockedUntil: until, Failures: failures}, nil
	}
	return Status{Failures: failures}, nil
}

func (r *RedisBackend) Status(ctx context.Context, key string, now time.Time) (Status, error) {
	until, err := r.client.Get(ctx, r.lockKey(key)).Int64()
	if err == redis.Nil {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	lockedUntil := time.Unix(until, 0)
	if !now.Before(lockedUntil) {
		return Status{}, nil
	}
	return Status{Locked: true, LockedUntil: lockedUntil}, nil
}

func (r *RedisBackend) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.failKey(key), r.lockKey(key)).Err()
}
