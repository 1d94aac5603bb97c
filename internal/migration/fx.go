package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			return nil
		}
		return Run(conn, cfg, node, log)
	}),
)

// Run migrates the schema and seeds the plan catalog.
func Run(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
	if err := Migrate(conn); err != nil {
		return err
	}
	created, err := seed.EnsureDefaultPlans(conn, node, cfg.DefaultCurrency)
	if err != nil {
		return err
	}
	log.Named("migration").Info("schema up to date", zap.Int("plans_seeded", created))
	return nil
}
