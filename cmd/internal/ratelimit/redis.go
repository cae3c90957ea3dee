package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript prunes, counts, and conditionally appends in one atomic step.
// KEYS[1] = sorted set; ARGV = now_ms, window_ms, limit, member.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  redis.call('PEXPIRE', key, window)
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter is a sliding-window limiter backed by one sorted set per key.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// RedisOption configures RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix sets the Redis key namespace (default "ratelimit:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

// WithRedisClock overrides the time source (tests).
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client redis.Scripter, opts ...RedisOption) (*RedisLimiter, error) {
	if client == nil {
		return nil, ErrInvalidInput
	}
	l := &RedisLimiter{client: client, prefix: "ratelimit:", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if err := validate(key, limit, window); err != nil {
		return false, err
	}

	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	res, err := allowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit redis: %w", err)
	}
	return res == 1, nil
}
