// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusPaymentFailed InvoiceStatus = "payment_failed"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// SyncStatus tracks the downstream mirror of an invoice at the payment
// processor. The local row stays authoritative whatever this says.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

// Line keys, also used as processor idempotency key suffixes.
const (
	LineBase         = "base"
	LineAssetUplift  = "asset_uplift"
	LineUsageOverage = "usage_overage"
)

// Invoice is a frozen snapshot of one billing period.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID       string        `gorm:"type:text;not null;index" json:"tenant_id"`
	SubscriptionID snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_subscription_period" json:"subscription_id"`
	PlanID         snowflake.ID  `gorm:"not null" json:"plan_id"`
	PlanCode       string        `gorm:"type:text;not null" json:"plan_code"`
	Currency       string        `gorm:"type:text;not null" json:"currency"`
	PeriodStart    time.Time     `gorm:"not null;uniqueIndex:ux_invoices_subscription_period" json:"period_start"`
	PeriodEnd      time.Time     `gorm:"not null" json:"period_end"`
	Status         InvoiceStatus `gorm:"type:text;not null" json:"status"`

	BaseAmount         decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"base_amount"`
	AssetUpliftAmount  decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"asset_uplift_amount"`
	UsageOverageAmount decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"usage_overage_amount"`
	Subtotal           decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"subtotal"`
	Tax                decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"tax"`
	Total              decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total"`

	AssetCount      int64             `gorm:"not null" json:"asset_count"`
	CreditsConsumed int64             `gorm:"not null" json:"credits_consumed"`
	Meta            datatypes.JSONMap `gorm:"type:jsonb" json:"meta"`

	ProcessorInvoiceID    *string    `gorm:"type:text;index" json:"processor_invoice_id,omitempty"`
	ProcessorHostedURL    *string    `gorm:"type:text" json:"processor_hosted_url,omitempty"`
	ProcessorSyncStatus   SyncStatus `gorm:"type:text;not null;index" json:"processor_sync_status"`
	ProcessorSyncError    *string    `gorm:"type:text" json:"processor_sync_error,omitempty"`
	ProcessorSyncAttempts int        `gorm:"not null;default:0" json:"processor_sync_attempts"`
	ProcessorSyncedAt     *time.Time `json:"processor_synced_at,omitempty"`

	IssuedAt  time.Time  `gorm:"not null" json:"issued_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one priced component of an invoice. Lines with a zero
// amount are not stored.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoice_lines_key" json:"invoice_id"`
	Key         string          `gorm:"type:text;not null;uniqueIndex:ux_invoice_lines_key" json:"key"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitAmount  decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"unit_amount"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"amount"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

type Breakdown struct {
	Base         decimal.Decimal `json:"base"`
	AssetUplift  decimal.Decimal `json:"asset_uplift"`
	UsageOverage decimal.Decimal `json:"usage_overage"`
	Tax          decimal.Decimal `json:"tax"`
}

func (i Invoice) Breakdown() Breakdown {
	return Breakdown{
		Base:         i.BaseAmount,
		AssetUplift:  i.AssetUpliftAmount,
		UsageOverage: i.UsageOverageAmount,
		Tax:          i.Tax,
	}
}

type InvoiceCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	SubscriptionID snowflake.ID
	Cursor         *InvoiceCursor
	Limit          int
}
