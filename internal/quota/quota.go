// Package quota implements per-user daily export counters with tier-based
// caps, atomically incremented in Redis with a 24-hour expiry.
package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tier names a user's quota class.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// DailyCaps maps tier to its daily export cap. Enterprise and admin are
// unbounded.
var DailyCaps = map[Tier]int64{
	TierFree:       10_000,
	TierPro:        1_000_000,
	TierEnterprise: math.MaxInt64,
	TierAdmin:      math.MaxInt64,
}

// Manager tracks daily usage per user and enforces tier caps.
type Manager struct {
	client *redis.Client
}

// New wraps a Redis client for quota tracking.
func New(client *redis.Client) *Manager {
	return &Manager{client: client}
}

func dayKey(userID string, t time.Time) string {
	return fmt.Sprintf("quota:%s:%s", userID, t.UTC().Format("2006-01-02"))
}

// Consume atomically increments today's counter for userID by amount and
// reports whether the tier's cap still permits it. The increment is applied
// regardless of the result, matching an atomic INCRBY-then-check contract;
// callers that must not overshoot should check Remaining before consuming.
func (m *Manager) Consume(ctx context.Context, userID string, tier Tier, amount int64) (allowed bool, used int64, err error) {
	key := dayKey(userID, time.Now())

	pipe := m.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("quota increment: %w", err)
	}

	used = incr.Val()
	limit := DailyCaps[tier]
	return used <= limit, used, nil
}

// Remaining reports how much of today's cap is left for userID at tier.
func (m *Manager) Remaining(ctx context.Context, userID string, tier Tier) (int64, error) {
	key := dayKey(userID, time.Now())
	used, err := m.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("quota read: %w", err)
	}
	limit := DailyCaps[tier]
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
