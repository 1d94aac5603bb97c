package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

const planColumns = `id, code, version, name, currency, base_price, included_assets, included_credits,
	asset_uplift_rate, overage_per_credit_rate, max_sites, created_at`

func (r *repo) FindLatestByCode(ctx context.Context, db *gorm.DB, code plandomain.Code) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+`
		 FROM plans
		 WHERE code = ?
		 ORDER BY version DESC
		 LIMIT 1`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code, version) DO NOTHING`,
		plan.ID,
		plan.Code,
		plan.Version,
		plan.Name,
		plan.Currency,
		plan.BasePrice,
		plan.IncludedAssets,
		plan.IncludedCredits,
		plan.AssetUpliftRate,
		plan.OveragePerCreditRate,
		plan.MaxSites,
		plan.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
