package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares windows across instances. The window boundary lives in
// the key TTL, so every instance sees the same resetAt.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "rate"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	k := r.prefix + ":" + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// NX keeps the original window boundary for subsequent hits.
	pipe.ExpireNX(ctx, k, window)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	ttl, err := pttl.Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return incr.Val(), now.Add(ttl), nil
}
