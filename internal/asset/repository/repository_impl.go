package repository

import (
	"context"

	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() assetdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, snapshot *assetdomain.AssetSnapshot) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO asset_snapshots (id, tenant_id, asset_count, captured_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snapshot.ID,
		snapshot.TenantID,
		snapshot.AssetCount,
		snapshot.CapturedAt,
		snapshot.CreatedAt,
	).Error
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, tenantID string) (*assetdomain.AssetSnapshot, error) {
	var snapshot assetdomain.AssetSnapshot
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, asset_count, captured_at, created_at
		 FROM asset_snapshots
		 WHERE tenant_id = ?
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		tenantID,
	).Scan(&snapshot).Error
	if err != nil {
		return nil, err
	}
	if snapshot.ID == 0 {
		return nil, nil
	}
	return &snapshot, nil
}
