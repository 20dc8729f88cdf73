package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/models"
)

type fakeUsageStore struct {
	count int64
	err   error
	calls int
}

func (f *fakeUsageStore) RequestsSince(ctx context.Context, orgID string, since time.Time) (int64, error) {
	f.calls++
	return f.count, f.err
}

func testIdentity(tier models.Tier, quota int64) *models.Identity {
	return &models.Identity{
		OrganizationID: uuid.New(),
		APIKeyID:       uuid.New(),
		Tier:           tier,
		MonthlyQuota:   quota,
		Active:         true,
	}
}

func newTestLimiter(t *testing.T, store UsageStore) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiterWithClient(client, store, zap.NewNop())
	rl.now = func() time.Time {
		return time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return rl, mr
}

func TestQuotaBoundary(t *testing.T) {
	rl, _ := newTestLimiter(t, &fakeUsageStore{})
	identity := testIdentity(models.TierFree, 3)
	ctx := context.Background()

	// Requests 1..N admit.
	for i := 0; i < 3; i++ {
		result, err := rl.Allow(ctx, identity)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d within quota must admit", i+1)
		assert.Equal(t, int64(3), result.Limit)
		assert.Equal(t, int64(3-i-1), result.Remaining)
	}

	// Request N+1 rejects with retry-after until period reset.
	result, err := rl.Allow(ctx, identity)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), result.ResetAt)
	assert.Equal(t, result.ResetAt.Sub(rl.now()), result.RetryAfter)
}

func TestQuotaResetsAtPeriodRollover(t *testing.T) {
	rl, _ := newTestLimiter(t, &fakeUsageStore{})
	identity := testIdentity(models.TierFree, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := rl.Allow(ctx, identity)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err := rl.Allow(ctx, identity)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// New month, new counter key: the first request of the new period admits.
	rl.now = func() time.Time {
		return time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC)
	}
	result, err = rl.Allow(ctx, identity)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.Remaining)
}

func TestEnterpriseBypassesQuota(t *testing.T) {
	store := &fakeUsageStore{}
	rl, mr := newTestLimiter(t, store)
	identity := testIdentity(models.TierEnterprise, 0)
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		result, err := rl.Allow(ctx, identity)
		require.NoError(t, err)
		require.True(t, result.Allowed, "enterprise request %d must never reject on quota", i+1)
	}

	// No counter was ever touched.
	assert.Empty(t, mr.Keys())
	assert.Zero(t, store.calls)
}

func TestFallbackToUsageLogWhenRedisDown(t *testing.T) {
	store := &fakeUsageStore{count: 1}
	rl, mr := newTestLimiter(t, store)
	mr.Close()
	identity := testIdentity(models.TierFree, 3)

	result, err := rl.Allow(context.Background(), identity)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.Remaining)
	assert.Equal(t, 1, store.calls)

	// Aggregate at quota: reject.
	store.count = 3
	result, err = rl.Allow(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestFailsClosedWhenBothStoresDown(t *testing.T) {
	store := &fakeUsageStore{err: errors.New("connection refused")}
	rl, mr := newTestLimiter(t, store)
	mr.Close()

	_, err := rl.Allow(context.Background(), testIdentity(models.TierFree, 3))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTierDefaultQuotaApplies(t *testing.T) {
	rl, _ := newTestLimiter(t, &fakeUsageStore{})
	identity := testIdentity(models.TierPro, 0)

	result, err := rl.Allow(context.Background(), identity)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, models.QuotaPro, result.Limit)
}

func TestCounterExpiryIsSet(t *testing.T) {
	rl, mr := newTestLimiter(t, &fakeUsageStore{})
	identity := testIdentity(models.TierFree, 10)

	_, err := rl.Allow(context.Background(), identity)
	require.NoError(t, err)

	key := rl.counterKey(identity.OrganizationID.String(), rl.now())
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))
}
