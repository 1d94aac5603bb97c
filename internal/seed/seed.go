package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	planrepository "github.com/smallbiznis/creditledger/internal/plan/repository"
	"gorm.io/gorm"
)

const defaultPlanVersion = 1

type planSeed struct {
	code            plandomain.Code
	name            string
	basePrice       string
	includedAssets  int64
	includedCredits int64
	assetUplift     string
	overagePerUnit  string
	maxSites        int
}

var defaultPlans = []planSeed{
	{plandomain.CodeStarter, "Starter", "499.00", 200, 250000, "3.00", "0.002", 1},
	{plandomain.CodePro, "Pro", "1499.00", 1000, 1000000, "2.50", "0.0015", 5},
	{plandomain.CodeEnterprise, "Enterprise", "4999.00", 5000, 5000000, "2.00", "0.001", 50},
}

// EnsureDefaultPlans provisions version 1 of the standard plans. Existing
// rows are left untouched so repeated startups are no-ops.
func EnsureDefaultPlans(db *gorm.DB, node *snowflake.Node, currency string) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}
	if node == nil {
		var err error
		node, err = snowflake.NewNode(1)
		if err != nil {
			return 0, err
		}
	}
	if currency == "" {
		currency = "CAD"
	}

	repo := planrepository.Provide()
	ctx := context.Background()
	inserted := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, def := range defaultPlans {
			plan := &plandomain.Plan{
				ID:                   node.Generate(),
				Code:                 def.code,
				Version:              defaultPlanVersion,
				Name:                 def.name,
				Currency:             currency,
				BasePrice:            decimal.RequireFromString(def.basePrice),
				IncludedAssets:       def.includedAssets,
				IncludedCredits:      def.includedCredits,
				AssetUpliftRate:      decimal.RequireFromString(def.assetUplift),
				OveragePerCreditRate: decimal.RequireFromString(def.overagePerUnit),
				MaxSites:             def.maxSites,
				CreatedAt:            now,
			}
			ok, err := repo.Insert(ctx, tx, plan)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}
