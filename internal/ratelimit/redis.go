// ABOUTME: Rolling-window limiter shared across gateway instances through Redis
// ABOUTME: One sorted set per key, pruned and checked atomically in a Lua script

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// allowScript returns 0 when the attempt is admitted, otherwise the number
// of milliseconds until the oldest attempt leaves the window.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return tonumber(oldest[2]) + window - now
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 0
`)

// RedisLimiter implements Limiter on a Redis sorted set per key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	URL    string
	Prefix string
	Limit  int
	Window time.Duration
	// Now overrides time.Now; tests use it to move through windows.
	Now func() time.Time
}

// NewRedis connects to the Redis server at opts.URL and verifies it answers.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisLimiter, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l := &RedisLimiter{
		client: client,
		prefix: opts.Prefix,
		limit:  opts.Limit,
		window: opts.Window,
		now:    opts.Now,
	}
	if l.prefix == "" {
		l.prefix = "blvckwall:ratelimit:"
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	now := l.now().UnixMilli()
	wait, err := allowScript.Run(ctx, l.client, []string{l.prefix + key},
		now, l.window.Milliseconds(), l.limit, uuid.New().String(),
	).Int64()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if wait > 0 {
		return &record.RateLimitedError{RetryAfter: time.Duration(wait) * time.Millisecond}
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
