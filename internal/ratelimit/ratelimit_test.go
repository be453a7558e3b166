package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewIngestLimiter(config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEnabledWithoutRedisFallsBackToUnthrottled(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, IngestRate: 1, IngestBurst: 1}}
	limiter, err := NewIngestLimiter(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())
}

func TestNilLocker(t *testing.T) {
	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())

	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "token"))
}

func TestEvaluateReply(t *testing.T) {
	allowed := evaluateReply([]any{int64(1), "4.5", int64(0)}, 2, 10)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 4, allowed.Remaining)
	assert.Equal(t, 10, allowed.Limit)
	assert.Zero(t, allowed.RetryAfter)

	denied := evaluateReply([]any{int64(0), "0.5", int64(0)}, 2, 10)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketTTL(10, 50))
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}
