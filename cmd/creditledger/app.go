package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/asset"
	"github.com/smallbiznis/creditledger/internal/audit"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/creditrule"
	"github.com/smallbiznis/creditledger/internal/gainshare"
	"github.com/smallbiznis/creditledger/internal/invoice"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/observability"
	"github.com/smallbiznis/creditledger/internal/plan"
	"github.com/smallbiznis/creditledger/internal/providers"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"github.com/smallbiznis/creditledger/internal/scheduler"
	"github.com/smallbiznis/creditledger/internal/server"
	"github.com/smallbiznis/creditledger/internal/subscription"
	"github.com/smallbiznis/creditledger/internal/usage"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 10 * time.Second
)

// infraModules wires config, storage and ids. Observability is chosen by the
// caller so CLI tasks can skip exporters.
func infraModules(obs fx.Option) fx.Option {
	return fx.Options(
		config.Module,
		obs,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func domainModules() fx.Option {
	return fx.Options(
		creditrule.Module,
		plan.Module,
		subscription.Module,
		usage.Module,
		asset.Module,
		invoice.Module,
		gainshare.Module,
		audit.Module,
		providers.Module,
		ratelimit.Module,
	)
}

func serveModules() fx.Option {
	return fx.Options(
		infraModules(observability.Module),
		domainModules(),
		migration.Module,
		server.Module,
		scheduler.Module,
	)
}

func taskModules() fx.Option {
	return fx.Options(
		infraModules(observability.Minimal),
		domainModules(),
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runTask starts a short-lived app, populates targets and runs fn before
// stopping the app again.
func runTask(ctx context.Context, modules fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		modules,
		fx.Populate(targets...),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}
