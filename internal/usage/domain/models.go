// Package domain contains the usage ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is an append-only ledger entry. CreditsConsumed is frozen at
// write time and BalanceAfter records the cached balance right after the
// decrement, so an idempotent replay can answer with the original result.
type UsageEvent struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID        string            `gorm:"type:text;not null;uniqueIndex:ux_usage_events_idempotency,priority:1" json:"tenant_id"`
	SubscriptionID  snowflake.ID      `gorm:"not null;index:ix_usage_events_subscription_occurred,priority:1" json:"subscription_id"`
	SiteID          *string           `gorm:"type:text" json:"site_id,omitempty"`
	AssetID         *string           `gorm:"type:text" json:"asset_id,omitempty"`
	EventType       string            `gorm:"type:text;not null" json:"event_type"`
	Units           float64           `gorm:"not null" json:"units"`
	CreditsConsumed int64             `gorm:"not null" json:"credits_consumed"`
	BalanceAfter    int64             `gorm:"not null" json:"balance_after"`
	IdempotencyKey  *string           `gorm:"type:text;uniqueIndex:ux_usage_events_idempotency,priority:2" json:"idempotency_key,omitempty"`
	Meta            datatypes.JSONMap `gorm:"type:jsonb" json:"meta,omitempty"`
	OccurredAt      time.Time         `gorm:"not null;index:ix_usage_events_subscription_occurred,priority:2" json:"occurred_at"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

type Alert string

const (
	AlertNone     Alert = ""
	AlertWarning  Alert = "WARNING"
	AlertCritical Alert = "CRITICAL"
	AlertOverage  Alert = "OVERAGE"
)

// TypeAggregate is one GROUP BY event_type row.
type TypeAggregate struct {
	EventType string  `json:"event_type"`
	Count     int64   `json:"count"`
	Units     float64 `json:"units"`
	Credits   int64   `json:"credits"`
}

type UsageCursor struct {
	ID         snowflake.ID
	OccurredAt time.Time
}

type ListFilter struct {
	SubscriptionID snowflake.ID
	EventType      string
	Cursor         *UsageCursor
	Limit          int
}
