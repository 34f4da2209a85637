package limiter

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCounters satisfies CounterStore with INCR + expiry. The bucket
// TTL outlives the window so a bucket can never be resurrected after a
// boundary crossing read it.
type RedisCounters struct {
	client *redis.Client
}

func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

var _ CounterStore = (*RedisCounters)(nil)

func (r *RedisCounters) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
