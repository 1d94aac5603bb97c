package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AssetSnapshot is a point-in-time count of a tenant's monitored assets.
type AssetSnapshot struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   string       `gorm:"type:text;not null;index:ix_asset_snapshots_tenant_captured,priority:1" json:"tenant_id"`
	AssetCount int64        `gorm:"not null" json:"asset_count"`
	CapturedAt time.Time    `gorm:"not null;index:ix_asset_snapshots_tenant_captured,priority:2" json:"captured_at"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (AssetSnapshot) TableName() string { return "asset_snapshots" }

type RecordSnapshotRequest struct {
	TenantID   string     `json:"tenant_id"`
	AssetCount int64      `json:"asset_count"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type Service interface {
	Record(ctx context.Context, req RecordSnapshotRequest) (*AssetSnapshot, error)
	// LatestAssetCount returns 0 when the tenant has no snapshot yet.
	LatestAssetCount(ctx context.Context, tenantID string) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, snapshot *AssetSnapshot) error
	FindLatest(ctx context.Context, db *gorm.DB, tenantID string) (*AssetSnapshot, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant_id")
	ErrInvalidAssetCount = errors.New("invalid_asset_count")
)
