package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refills from redis TIME so every replica shares one clock. Tokens are
// returned as a string because redis truncates Lua numbers to integers.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

var errInvalidBucketReply = errors.New("invalid token bucket reply")

// TokenBucket is a redis-backed bucket with a fixed refill rate (tokens per
// second) and burst size shared by every key it is asked about.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client, rate float64, burst int) (*TokenBucket, error) {
	if client == nil {
		return nil, errors.New("token bucket requires a redis client")
	}
	if rate <= 0 || burst <= 0 {
		return nil, fmt.Errorf("token bucket rate and burst must be positive, got %v/%d", rate, burst)
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    defaultBucketTTL(rate, burst),
	}, nil
}

// Take removes one token for key.
func (b *TokenBucket) Take(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("token bucket key is empty")
	}

	reply, err := b.script.Run(ctx, b.client, []string{key},
		b.rate,
		b.burst,
		b.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	allowed, remaining, nowMs, err := parseBucketReply(reply)
	if err != nil {
		return nil, err
	}

	return b.result(allowed, remaining, time.UnixMilli(nowMs)), nil
}

func (b *TokenBucket) result(allowed bool, remaining float64, now time.Time) *RateLimitResult {
	var retryAfter time.Duration
	if !allowed && remaining < 1 {
		retryAfter = time.Duration((1 - remaining) / b.rate * float64(time.Second))
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      b.burst,
		Remaining:  int(math.Floor(remaining)),
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

// defaultBucketTTL keeps idle bucket state for twice the time a full refill
// takes.
func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}

func parseBucketReply(reply []any) (bool, float64, int64, error) {
	if len(reply) < 3 {
		return false, 0, 0, errInvalidBucketReply
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return false, 0, 0, errInvalidBucketReply
	}
	var remaining float64
	switch v := reply[1].(type) {
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, 0, 0, errInvalidBucketReply
		}
		remaining = parsed
	case int64:
		remaining = float64(v)
	default:
		return false, 0, 0, errInvalidBucketReply
	}
	nowMs, ok := reply[2].(int64)
	if !ok {
		return false, 0, 0, errInvalidBucketReply
	}
	return allowed == 1, remaining, nowMs, nil
}
