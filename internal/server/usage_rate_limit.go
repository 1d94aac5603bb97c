package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonTenantRate = "tenant-rate"

type usageTrackRateLimitKey struct {
	TenantID string `json:"tenant_id"`
}

// UsageTrackRateLimit applies the per-tenant token bucket. Requests without a
// readable tenant id pass through and fail validation in the handler.
func (s *Server) UsageTrackRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		tenantID, err := readUsageTrackKey(c)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("usage track rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if tenantID == "" {
			c.Next()
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), tenantID)
		c.Request = c.Request.WithContext(ctx)

		res, err := s.usageLimiter.AllowTenant(ctx, tenantID)
		if err != nil {
			logger.FromContext(ctx).Warn("usage track rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denyUsageTrackRateLimit(c, normalizeRateLimitEndpoint(c), res.RetryAfter)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}

func denyUsageTrackRateLimit(c *gin.Context, endpoint string, retryAfter time.Duration) {
	logger.FromContext(c.Request.Context()).Warn("usage track rate limit exceeded",
		zap.String("reason", rateLimitReasonTenantRate),
		zap.String("endpoint", endpoint),
		zap.Duration("retry_after", retryAfter),
	)

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonTenantRate)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func readUsageTrackKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload usageTrackRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.TenantID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
