package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewUsageTrackLimiter(config.Config{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.AllowTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEnabledLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, UsageTrackTenantRate: 1, UsageTrackTenantBurst: 1}}
	_, err := NewUsageTrackLimiter(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNilInvoiceLockIsNoop(t *testing.T) {
	lock := NewInvoiceLock(config.Config{InvoiceLock: config.InvoiceLockConfig{Enabled: true}}, nil)
	assert.Nil(t, lock)

	release, err := lock.Acquire(context.Background(), "42")
	require.NoError(t, err)
	release()
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, defaultBucketTTL(50, 100))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestNewTokenBucketValidates(t *testing.T) {
	_, err := NewTokenBucket(nil, 1, 1)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = NewTokenBucket(client, 0, 10)
	assert.Error(t, err)
	_, err = NewTokenBucket(client, 5, 0)
	assert.Error(t, err)

	bucket, err := NewTokenBucket(client, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, bucket.ttl)
}

func TestParseBucketReply(t *testing.T) {
	allowed, remaining, ts, err := parseBucketReply([]any{int64(1), "2.75", int64(1700000000000)})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2.75, remaining)
	assert.Equal(t, int64(1700000000000), ts)

	allowed, remaining, _, err = parseBucketReply([]any{int64(0), int64(0), int64(1)})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	for _, reply := range [][]any{
		nil,
		{int64(1), "2"},
		{"1", "2", int64(1)},
		{int64(1), "x", int64(1)},
		{int64(1), 2.0, int64(1)},
	} {
		_, _, _, err := parseBucketReply(reply)
		assert.ErrorIs(t, err, errInvalidBucketReply)
	}
}

func TestBucketResultRetryAfter(t *testing.T) {
	bucket := &TokenBucket{rate: 4, burst: 20}
	now := time.UnixMilli(1700000000000)

	denied := bucket.result(false, 0.5, now)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 125*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, now.Add(125*time.Millisecond), denied.ResetTime)
	assert.Equal(t, 20, denied.Limit)
	assert.Equal(t, 0, denied.Remaining)

	allowed := bucket.result(true, 12.9, now)
	assert.True(t, allowed.Allowed)
	assert.Zero(t, allowed.RetryAfter)
	assert.Equal(t, 12, allowed.Remaining)
}
