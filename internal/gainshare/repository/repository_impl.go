package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() gainsharedomain.Repository {
	return &repo{}
}

func (r *repo) InsertBaseline(ctx context.Context, db *gorm.DB, baseline *gainsharedomain.KPIBaseline) error {
	return db.WithContext(ctx).Create(baseline).Error
}

func (r *repo) CloseOpenBaselines(ctx context.Context, db *gorm.DB, tenantID, metric string, from time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE kpi_baselines
		 SET effective_to = ?
		 WHERE tenant_id = ? AND metric = ? AND effective_from < ?
		   AND (effective_to IS NULL OR effective_to > ?)`,
		from,
		tenantID,
		metric,
		from,
		from,
	).Error
}

func (r *repo) NextBaselineStart(ctx context.Context, db *gorm.DB, tenantID, metric string, after time.Time) (*time.Time, error) {
	var rows []gainsharedomain.KPIBaseline
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND metric = ? AND effective_from > ?", tenantID, metric, after).
		Order("effective_from asc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	next := rows[0].EffectiveFrom
	return &next, nil
}

func (r *repo) BaselineStartsAt(ctx context.Context, db *gorm.DB, tenantID, metric string, at time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&gainsharedomain.KPIBaseline{}).
		Where("tenant_id = ? AND metric = ? AND effective_from = ?", tenantID, metric, at).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) FindEffectiveBaseline(ctx context.Context, db *gorm.DB, tenantID, metric string, start, end time.Time) (*gainsharedomain.KPIBaseline, error) {
	var rows []gainsharedomain.KPIBaseline
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND metric = ? AND effective_from < ?", tenantID, metric, end).
		Where("effective_to IS NULL OR effective_to > ?", start).
		Order("effective_from desc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertMeasurement(ctx context.Context, db *gorm.DB, measurement *gainsharedomain.KPIMeasurement) error {
	return db.WithContext(ctx).Create(measurement).Error
}

func (r *repo) ListMeasurementValues(ctx context.Context, db *gorm.DB, tenantID, metric string, start, end time.Time) ([]decimal.Decimal, error) {
	var rows []gainsharedomain.KPIMeasurement
	err := db.WithContext(ctx).
		Select("value").
		Where("tenant_id = ? AND metric = ? AND measured_at >= ? AND measured_at < ?", tenantID, metric, start, end).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	values := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.Value)
	}
	return values, nil
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *gainsharedomain.GainShareRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*gainsharedomain.GainShareRun, error) {
	var rows []gainsharedomain.GainShareRun
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) DecideRun(ctx context.Context, db *gorm.DB, id snowflake.ID, status gainsharedomain.RunStatus, actor string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE gainshare_runs
		 SET status = ?, decided_by = ?, decided_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		actor,
		now,
		now,
		id,
		gainsharedomain.RunStatusPendingApproval,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, filter gainsharedomain.RunFilter) ([]*gainsharedomain.GainShareRun, error) {
	var runs []*gainsharedomain.GainShareRun
	stmt := db.WithContext(ctx).Model(&gainsharedomain.GainShareRun{})
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
