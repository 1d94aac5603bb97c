package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type TrackRequest struct {
	TenantID       string         `json:"tenant_id"`
	SubscriptionID string         `json:"subscription_id"`
	SiteID         string         `json:"site_id,omitempty"`
	AssetID        string         `json:"asset_id,omitempty"`
	EventType      string         `json:"event_type"`
	Units          *float64       `json:"units,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type TrackResult struct {
	EventID          snowflake.ID `json:"event_id"`
	CreditsBurned    int64        `json:"credits_burned"`
	RemainingCredits int64        `json:"remaining_credits"`
	OverageCredits   int64        `json:"overage_credits"`
	UsagePercent     float64      `json:"usage_percent"`
	Alert            Alert        `json:"alert"`
	Replayed         bool         `json:"replayed"`
}

type SummaryRequest struct {
	SubscriptionID string
	Period         string
}

type TypeSummary struct {
	Count   int64   `json:"count"`
	Units   float64 `json:"units"`
	Credits int64   `json:"credits"`
}

type Summary struct {
	SubscriptionID string                 `json:"subscription_id"`
	Period         string                 `json:"period"`
	TotalCredits   int64                  `json:"total_credits"`
	ByType         map[string]TypeSummary `json:"by_type"`
}

type ListEventsRequest struct {
	pagination.Pagination
	SubscriptionID string `form:"subscription_id"`
	EventType      string `form:"event_type"`
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []UsageEvent `json:"events"`
}

type RebuildResult struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	Before         int64        `json:"before"`
	After          int64        `json:"after"`
	Drift          int64        `json:"drift"`
}

type Service interface {
	Track(ctx context.Context, req TrackRequest) (*TrackResult, error)
	Summary(ctx context.Context, req SummaryRequest) (*Summary, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
	// RebuildBalance rewrites the cached balance from the event log.
	RebuildBalance(ctx context.Context, subscriptionID string) (*RebuildResult, error)
	CheckConsistency(ctx context.Context, subscriptionID snowflake.ID) (*Consistency, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID, key string) (*UsageEvent, error)
	// DecrementCredits subtracts in a single UPDATE; it never reads first.
	DecrementCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, credits int64, now time.Time) (int64, error)
	RemainingCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, forUpdate bool) (included int64, remaining int64, err error)
	SetRemainingCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, remaining int64, now time.Time) error
	SumCredits(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) (int64, error)
	AggregateByType(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) ([]TypeAggregate, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*UsageEvent, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant_id")
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrInvalidEventType      = errors.New("invalid_event_type")
	ErrInvalidPeriod         = errors.New("invalid_period")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrLedgerWriteFailed     = errors.New("ledger_write_failed")
	ErrIdempotencyKeyReused  = errors.New("idempotency_key_reused")
)
