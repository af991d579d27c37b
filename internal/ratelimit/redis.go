package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed windows between instances through redis.
type RedisLimiter struct {
	client   *redis.Client
	policies Policies
	prefix   string
	now      func() time.Time
}

// NewRedisLimiter builds a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, policies Policies) *RedisLimiter {
	return &RedisLimiter{client: client, policies: policies, prefix: "ratelimit", now: time.Now}
}

// Allow implements Limiter. The counter key embeds the window start, so each
// window starts from zero and expires on its own.
func (l *RedisLimiter) Allow(ctx context.Context, class Class, key string) (Result, error) {
	policy, ok := l.policies[class]
	if !ok {
		return unlimited(), nil
	}
	start := l.now().Truncate(policy.Window)
	redisKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, class, key, start.Unix())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}
	return result(policy, int(incr.Val()), start.Add(policy.Window)), nil
}
