// Package ratelimit enforces per-organization monthly request quotas.
//
// The fast path is a shared Redis counter keyed by organization and
// billing month. When Redis is unreachable the limiter falls back to the
// authoritative usage log; when both are down it fails closed, because a
// billing-relevant limiter that fails open hands out unmetered capacity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// ErrUnavailable reports that neither the counter store nor the usage
// log could answer a quota question. Surfaced as 503, never as an admit.
var ErrUnavailable = errors.New("rate limit stores unavailable")

// The fast counter outlives the month it covers by a few days so a
// late-arriving request against an old key still sees real data.
const counterTTL = 32 * 24 * time.Hour

// UsageStore answers the authoritative aggregate query over the usage log.
type UsageStore interface {
	RequestsSince(ctx context.Context, orgID string, since time.Time) (int64, error)
}

// Result carries the quota decision plus the header values for
// X-RateLimit-Limit/Remaining/Reset.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

type RateLimiter struct {
	client *redis.Client
	store  UsageStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter connects the limiter to Redis and the usage log.
func NewRateLimiter(redisURL string, store UsageStore, logger *zap.Logger) (*RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRateLimiterWithClient(redis.NewClient(opt), store, logger), nil
}

// NewRateLimiterWithClient wraps an existing Redis client.
func NewRateLimiterWithClient(client *redis.Client, store UsageStore, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{client: client, store: store, logger: logger, now: time.Now}
}

// Allow decides whether the identity may make one more request this
// period and, on admit, records it in the fast counter. Enterprise
// bypasses the quota entirely and never touches a counter.
func (rl *RateLimiter) Allow(ctx context.Context, identity *models.Identity) (*Result, error) {
	if identity.Tier == models.TierEnterprise {
		return &Result{Allowed: true}, nil
	}

	limit := identity.MonthlyQuota
	if limit <= 0 {
		limit = identity.Tier.MonthlyQuota()
	}

	now := rl.now().UTC()
	periodStart, resetAt := monthWindow(now)
	key := rl.counterKey(identity.OrganizationID.String(), now)

	used, err := rl.fastCount(ctx, key)
	if err != nil {
		rl.logger.Warn("rate limit fast path failed, falling back to usage log", zap.Error(err))
		used, err = rl.store.RequestsSince(ctx, identity.OrganizationID.String(), periodStart)
		if err != nil {
			rl.logger.Error("rate limit fallback failed, rejecting", zap.Error(err))
			return nil, ErrUnavailable
		}
	}

	if used >= limit {
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	rl.recordAdmit(ctx, key)

	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - used - 1,
		ResetAt:   resetAt,
	}, nil
}

func (rl *RateLimiter) fastCount(ctx context.Context, key string) (int64, error) {
	count, err := rl.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

// recordAdmit bumps the shared counter. The counter is approximate by
// design; a failed increment is logged and the usage log stays the
// authoritative record.
func (rl *RateLimiter) recordAdmit(ctx context.Context, key string) {
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		rl.logger.Warn("rate limit counter increment failed", zap.String("key", key), zap.Error(err))
		return
	}
	if count == 1 {
		rl.client.Expire(ctx, key, counterTTL)
	}
}

func (rl *RateLimiter) counterKey(orgID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", orgID, now.Format("2006-01"))
}

// monthWindow returns the UTC start of the current billing month and the
// instant it rolls over.
func monthWindow(now time.Time) (start, reset time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	reset = start.AddDate(0, 1, 0)
	return start, reset
}

// Close releases the Redis connection.
func (rl *RateLimiter) Close() error {
	return rl.client.Close()
}
