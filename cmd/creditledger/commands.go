package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/config"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/observability"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSyncLimit = 100

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "creditledger",
		Short:         "Usage metering, invoicing and gain-share billing",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newInvoiceCmd(),
		newLedgerCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(serveModules()).Run()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg  config.Config
				conn *gorm.DB
				node *snowflake.Node
				log  *zap.Logger
			)
			modules := fx.Options(
				config.Module,
				observability.Minimal,
				fx.Provide(RegisterSnowflake),
				db.Module,
			)
			return runTask(cmd.Context(), modules, func(context.Context) error {
				return migration.Run(conn, cfg, node, log)
			}, &cfg, &conn, &node, &log)
		},
	}
}

func newInvoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Invoice reconciliation tasks",
	}

	generate := &cobra.Command{
		Use:   "generate <subscription_id>",
		Short: "Close the current period of a subscription and issue its invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc invoicedomain.Service
			return runTask(cmd.Context(), taskModules(), func(ctx context.Context) error {
				result, err := svc.Generate(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"invoice_id":            result.Invoice.ID.String(),
					"total":                 result.Invoice.Total,
					"stripe_invoice_id":     result.Invoice.ProcessorInvoiceID,
					"processor_sync_status": result.Invoice.ProcessorSyncStatus,
					"breakdown":             result.Invoice.Breakdown(),
					"existing":              result.Existing,
				})
			}, &svc)
		},
	}

	var limit int
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Retry pushing unsynced invoices to the payment processor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			var svc invoicedomain.Service
			return runTask(cmd.Context(), taskModules(), func(ctx context.Context) error {
				result, err := svc.SyncPending(ctx, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}, &svc)
		},
	}
	sync.Flags().IntVar(&limit, "limit", defaultSyncLimit, "maximum invoices to push")

	cmd.AddCommand(generate, sync)
	return cmd
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Usage ledger maintenance",
	}

	rebuild := &cobra.Command{
		Use:   "rebuild <subscription_id>",
		Short: "Recompute the cached credit balance from the event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc usagedomain.Service
			return runTask(cmd.Context(), taskModules(), func(ctx context.Context) error {
				result, err := svc.RebuildBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}, &svc)
		},
	}

	cmd.AddCommand(rebuild)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "creditledger %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
