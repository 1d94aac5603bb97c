// Package domain holds KPI baselines, measurements and gain-share runs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// KPIBaseline is valid over [EffectiveFrom, EffectiveTo). A nil EffectiveTo
// means the baseline is still open.
type KPIBaseline struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID      string          `gorm:"type:text;not null;index:ix_kpi_baselines_metric;uniqueIndex:ux_kpi_baselines_start" json:"tenant_id"`
	Metric        string          `gorm:"type:text;not null;index:ix_kpi_baselines_metric;uniqueIndex:ux_kpi_baselines_start" json:"metric"`
	BaselineValue decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"baseline_value"`
	CostPerUnit   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"cost_per_unit"`
	EffectiveFrom time.Time       `gorm:"not null;uniqueIndex:ux_kpi_baselines_start" json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (KPIBaseline) TableName() string { return "kpi_baselines" }

type KPIMeasurement struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID   string          `gorm:"type:text;not null;index:ix_kpi_measurements_metric" json:"tenant_id"`
	Metric     string          `gorm:"type:text;not null;index:ix_kpi_measurements_metric" json:"metric"`
	Value      decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"value"`
	MeasuredAt time.Time       `gorm:"not null;index:ix_kpi_measurements_metric" json:"measured_at"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (KPIMeasurement) TableName() string { return "kpi_measurements" }

type RunStatus string

const (
	RunStatusPendingApproval RunStatus = "pending_approval"
	RunStatusApproved        RunStatus = "approved"
	RunStatusRejected        RunStatus = "rejected"
)

// GainShareRun is immutable apart from the approval decision.
type GainShareRun struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID          string            `gorm:"type:text;not null;index" json:"tenant_id"`
	PeriodStart       time.Time         `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time         `gorm:"not null" json:"period_end"`
	CalculatedSavings decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"calculated_savings"`
	SharePct          decimal.Decimal   `gorm:"type:numeric(5,2);not null" json:"share_pct"`
	Fee               decimal.Decimal   `gorm:"type:numeric(18,6);not null" json:"fee"`
	Status            RunStatus         `gorm:"type:text;not null;index" json:"status"`
	Report            datatypes.JSONMap `gorm:"type:jsonb" json:"report"`
	DecidedBy         *string           `gorm:"type:text" json:"decided_by,omitempty"`
	DecidedAt         *time.Time        `json:"decided_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (GainShareRun) TableName() string { return "gainshare_runs" }

type RunCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type RunFilter struct {
	TenantID string
	Status   RunStatus
	Cursor   *RunCursor
	Limit    int
}
