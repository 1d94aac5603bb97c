package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateBaselineRequest struct {
	TenantID      string          `json:"tenant_id"`
	Metric        string          `json:"metric"`
	BaselineValue decimal.Decimal `json:"baseline_value"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	EffectiveFrom *time.Time      `json:"effective_from,omitempty"`
}

type RecordMeasurementRequest struct {
	TenantID   string          `json:"tenant_id"`
	Metric     string          `json:"metric"`
	Value      decimal.Decimal `json:"value"`
	MeasuredAt *time.Time      `json:"measured_at,omitempty"`
}

type CalculateRequest struct {
	TenantID    string          `json:"tenant_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	SharePct    decimal.Decimal `json:"share_pct"`
}

type DecisionRequest struct {
	RunID string
	Actor string
}

type ListRunsRequest struct {
	pagination.Pagination
	TenantID string `form:"tenant_id"`
	Status   string `form:"status"`
}

type ListRunsResponse struct {
	pagination.PageInfo
	Runs []GainShareRun `json:"runs"`
}

type Service interface {
	CreateBaseline(ctx context.Context, req CreateBaselineRequest) (*KPIBaseline, error)
	RecordMeasurement(ctx context.Context, req RecordMeasurementRequest) (*KPIMeasurement, error)
	Calculate(ctx context.Context, req CalculateRequest) (*GainShareRun, error)
	Approve(ctx context.Context, req DecisionRequest) (*GainShareRun, error)
	Reject(ctx context.Context, req DecisionRequest) (*GainShareRun, error)
	GetByID(ctx context.Context, id string) (*GainShareRun, error)
	List(ctx context.Context, req ListRunsRequest) (ListRunsResponse, error)
}

type Repository interface {
	InsertBaseline(ctx context.Context, db *gorm.DB, baseline *KPIBaseline) error
	// CloseOpenBaselines ends every baseline of the metric still valid at
	// from, so the new one is the only valid baseline from then on.
	CloseOpenBaselines(ctx context.Context, db *gorm.DB, tenantID, metric string, from time.Time) error
	NextBaselineStart(ctx context.Context, db *gorm.DB, tenantID, metric string, after time.Time) (*time.Time, error)
	BaselineStartsAt(ctx context.Context, db *gorm.DB, tenantID, metric string, at time.Time) (bool, error)
	// FindEffectiveBaseline returns the most recent baseline overlapping [start, end).
	FindEffectiveBaseline(ctx context.Context, db *gorm.DB, tenantID, metric string, start, end time.Time) (*KPIBaseline, error)
	InsertMeasurement(ctx context.Context, db *gorm.DB, measurement *KPIMeasurement) error
	ListMeasurementValues(ctx context.Context, db *gorm.DB, tenantID, metric string, start, end time.Time) ([]decimal.Decimal, error)

	InsertRun(ctx context.Context, db *gorm.DB, run *GainShareRun) error
	FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GainShareRun, error)
	// DecideRun moves a run out of pending_approval. It reports false when
	// the run was not pending.
	DecideRun(ctx context.Context, db *gorm.DB, id snowflake.ID, status RunStatus, actor string, now time.Time) (bool, error)
	ListRuns(ctx context.Context, db *gorm.DB, filter RunFilter) ([]*GainShareRun, error)
}

var (
	ErrInvalidTenant           = errors.New("invalid_tenant_id")
	ErrInvalidMetric           = errors.New("invalid_metric")
	ErrInvalidBaseline         = errors.New("invalid_baseline")
	ErrBaselineExists          = errors.New("baseline_exists")
	ErrInvalidPeriod           = errors.New("invalid_period")
	ErrInvalidSharePct         = errors.New("invalid_share_pct")
	ErrInvalidRunID            = errors.New("invalid_run_id")
	ErrInvalidActor            = errors.New("invalid_actor")
	ErrRunNotFound             = errors.New("gainshare_run_not_found")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrInvalidPageToken        = errors.New("invalid_page_token")
)
