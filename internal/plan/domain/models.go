// Package domain contains plan catalog models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Code string

const (
	CodeStarter    Code = "STARTER"
	CodePro        Code = "PRO"
	CodeEnterprise Code = "ENTERPRISE"
)

// Plan is an immutable pricing template. A price change is a new version row.
type Plan struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code                 Code            `gorm:"type:text;not null;uniqueIndex:ux_plans_code_version" json:"code"`
	Version              int             `gorm:"not null;uniqueIndex:ux_plans_code_version" json:"version"`
	Name                 string          `gorm:"type:text;not null" json:"name"`
	Currency             string          `gorm:"type:text;not null" json:"currency"`
	BasePrice            decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"base_price"`
	IncludedAssets       int64           `gorm:"not null" json:"included_assets"`
	IncludedCredits      int64           `gorm:"not null" json:"included_credits"`
	AssetUpliftRate      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"asset_uplift_rate"`
	OveragePerCreditRate decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"overage_per_credit_rate"`
	MaxSites             int             `gorm:"not null" json:"max_sites"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
