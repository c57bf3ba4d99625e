package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore counts windows in Redis so limits hold across gateway
// replicas. Keys embed the window start, and expiry is set on first
// increment.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "gateway:ratelimit:"}
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := windowStart(time.Now(), window)
	resetAt := start.Add(window)
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, start.UnixMilli())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, resetAt, err
	}
	return incr.Val(), resetAt, nil
}
