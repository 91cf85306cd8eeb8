package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RedisRateLimitStore implements RateLimitStore as a fixed window counter
// shared by every API instance. Each request runs INCR and, on the first hit
// of a window, PEXPIRE in one pipeline.
//
// Redis errors fail open: the request is allowed with the full quota and the
// error is counted.
type RedisRateLimitStore struct {
	client  *redis.Client
	metrics *Metrics
}

// NewRedisRateLimitStore creates a store backed by client.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics sets the metrics used to count fail-open events.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	redisKey := rateLimitKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX keeps the window anchored at its first request.
	pipe.Do(ctx, "pexpire", redisKey, config.WindowDuration.Milliseconds(), "nx")
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		s.failOpen(ctx, key, err)
		return true, config.RequestsPerWindow, 0
	}

	count := int(incr.Val())
	if count <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - count, 0
	}

	remainingTTL := ttl.Val()
	if remainingTTL <= 0 {
		remainingTTL = config.WindowDuration
	}
	now := time.Now()
	return false, 0, secondsUntil(now.Add(remainingTTL), now)
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, key string, err error) {
	slog.WarnContext(ctx, "rate limit store unavailable, allowing request",
		"key", key,
		"error", err,
	)
	s.metrics.IncRateLimitRedisErrors()
}
