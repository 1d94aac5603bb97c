// Package domain contains subscription and credit allowance models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Live reports whether the subscription still accrues usage and invoices.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// Subscription binds a tenant to a plan version for a billing period
// [CurrentPeriodStart, CurrentPeriodEnd).
type Subscription struct {
	ID                  snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID            string             `gorm:"type:text;not null;index" json:"tenant_id"`
	PlanID              snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	PlanCode            string             `gorm:"type:text;not null" json:"plan_code"`
	Status              SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	Currency            string             `gorm:"type:text;not null" json:"currency"`
	BillingAnchorDay    int                `gorm:"not null" json:"billing_anchor_day"`
	CurrentPeriodStart  time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd    time.Time          `gorm:"not null;index" json:"current_period_end"`
	ProcessorCustomerID *string            `gorm:"type:text" json:"processor_customer_id,omitempty"`
	CancelledAt         *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionLimits caches the credit balance for the current period.
// RemainingCredits goes negative once the tenant is in overage.
type SubscriptionLimits struct {
	SubscriptionID   snowflake.ID `gorm:"primaryKey" json:"subscription_id"`
	IncludedCredits  int64        `gorm:"not null" json:"included_credits"`
	RemainingCredits int64        `gorm:"not null" json:"remaining_credits"`
	LastResetAt      time.Time    `gorm:"not null" json:"last_reset_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (SubscriptionLimits) TableName() string { return "subscription_limits" }

// Detail is a subscription joined with its limits.
type Detail struct {
	Subscription
	Limits *SubscriptionLimits `json:"limits,omitempty"`
}
