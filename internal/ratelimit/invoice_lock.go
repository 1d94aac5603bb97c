package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
)

const keyInvoiceGenerate = "invoice:generate:%s"

// Deletes the key only while it still holds our token, so an expired lock
// taken over by another replica is left alone.
const invoiceLockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockBusy = errors.New("lock_busy")

// InvoiceLock serializes invoice generation per subscription across
// replicas. A nil lock is a no-op; the database guards still apply.
type InvoiceLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

func NewInvoiceLock(cfg config.Config, client *redis.Client) *InvoiceLock {
	if !cfg.InvoiceLock.Enabled || client == nil {
		return nil
	}
	ttl := cfg.InvoiceLock.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &InvoiceLock{
		client:  client,
		release: redis.NewScript(invoiceLockReleaseScript),
		ttl:     ttl,
	}
}

// Acquire returns a release func. ErrLockBusy means another replica is
// generating for the same subscription.
func (l *InvoiceLock) Acquire(ctx context.Context, subscriptionID string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}

	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, errors.New("invoice lock: subscription id is empty")
	}

	key := fmt.Sprintf(keyInvoiceGenerate, subscriptionID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("invoice lock: %w", err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return func() {
		_ = l.release.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}, nil
}
