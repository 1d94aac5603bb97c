package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/observability/metrics"
)

const keyUsageTrackTenant = "usage:track:tenant:%s"

// UsageTrackLimiter throttles POST /usage/track per tenant. A nil limiter
// allows everything.
type UsageTrackLimiter struct {
	bucket  *TokenBucket
	metrics *metrics.Metrics
}

func NewUsageTrackLimiter(cfg config.Config, client *redis.Client, m *metrics.Metrics) (*UsageTrackLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	bucket, err := NewTokenBucket(client, limitCfg.UsageTrackTenantRate, limitCfg.UsageTrackTenantBurst)
	if err != nil {
		return nil, fmt.Errorf("usage track rate limit: %w", err)
	}

	return &UsageTrackLimiter{bucket: bucket, metrics: m}, nil
}

func (l *UsageTrackLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UsageTrackLimiter) AllowTenant(ctx context.Context, tenantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := l.bucket.Take(ctx, fmt.Sprintf(keyUsageTrackTenant, strings.TrimSpace(tenantID)))
	if err != nil {
		return nil, err
	}
	if res.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, "usage_track")
	} else {
		l.metrics.RecordRateLimitDenied(ctx, "usage_track", "tenant_bucket")
	}
	return res, nil
}
