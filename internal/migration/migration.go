package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionLimits{},
		&usagedomain.UsageEvent{},
		&assetdomain.AssetSnapshot{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&gainsharedomain.KPIBaseline{},
		&gainsharedomain.KPIMeasurement{},
		&gainsharedomain.GainShareRun{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres uses the versioned SQL
// files; the other dialects are created from the models.
func Migrate(conn *gorm.DB) error {
	if dbpkg.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}

	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if dbpkg.IsSQLite(conn) {
		return conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_live_tenant
			 ON subscriptions (tenant_id)
			 WHERE status IN ('active', 'past_due')`,
		).Error
	}
	return nil
}
