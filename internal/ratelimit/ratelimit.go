// Package ratelimit implements a sliding-window request limiter keyed by
// principal+route, backed by a Redis ZSET with an in-process fallback when
// Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter is the sliding-window rate limiter contract.
type Limiter interface {
	IsAllowed(ctx context.Context, key string, max int, window time.Duration) (bool, error)
}

// RedisLimiter implements the sliding-window-log algorithm against a Redis
// ZSET: on each request, expired entries are trimmed, the remaining count is
// checked against max, and the request's timestamp is recorded.
type RedisLimiter struct {
	client   *redis.Client
	fallback *MemoryLimiter
	logger   *zap.Logger
}

// NewRedisLimiter wraps a Redis client, falling back to an in-memory limiter
// when Redis is unreachable. Per spec, the store being unreachable fails
// open: availability outranks precision for a gateway.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, fallback: NewMemoryLimiter(), logger: logger}
}

func (r *RedisLimiter) IsAllowed(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limiter redis unreachable, failing open", zap.Error(err), zap.String("key", key))
		return r.fallback.IsAllowed(ctx, key, max, window)
	}

	count := countCmd.Val()
	return count < int64(max), nil
}

// MemoryLimiter is the in-process fallback, using the same sliding-window
// algorithm over a per-key slice of timestamps.
type MemoryLimiter struct {
	mu   sync.Mutex
	data map[string][]time.Time
}

// NewMemoryLimiter returns an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{data: map[string][]time.Time{}}
}

func (m *MemoryLimiter) IsAllowed(_ context.Context, key string, max int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	timestamps := m.data[key]
	kept := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= max {
		m.data[key] = kept
		return false, nil
	}
	m.data[key] = append(kept, now)
	return true, nil
}
