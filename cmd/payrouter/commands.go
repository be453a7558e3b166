package main

import (
	"context"
	"fmt"

	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/smallbiznis/payrouter/internal/scheduler"
	"github.com/smallbiznis/payrouter/internal/seed"
	"github.com/smallbiznis/payrouter/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var withoutScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infrastructure(),
				domains(),
				server.Module,
			}
			if !withoutScheduler {
				opts = append(opts, scheduler.Module)
			}
			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withoutScheduler, "no-scheduler", false, "serve HTTP only and leave jobs to a dedicated scheduler process")
	return cmd
}

func schedulerCmd() *cobra.Command {
	var (
		once bool
		job  string
	)

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run background jobs without the HTTP API",
		Long: `Run the webhook retry sweep, analytics retention and provider health jobs.

With --once every enabled job runs a single time and the process exits.
--job narrows a single run to one job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !once {
				if job != "" {
					return fmt.Errorf("--job requires --once")
				}
				fx.New(infrastructure(), domains(), scheduler.Module).Run()
				return nil
			}

			var sched *scheduler.Scheduler
			app := fx.New(
				infrastructure(),
				domains(),
				fx.Provide(scheduler.NewRetryPublisher),
				fx.Provide(scheduler.New),
				fx.Populate(&sched),
			)
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(app, func(ctx context.Context) error {
				if job != "" {
					return sched.RunJob(ctx, job)
				}
				return sched.RunOnce(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run each enabled job once and exit")
	cmd.Flags().StringVar(&job, "job", "", "run only the named job (with --once)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(infrastructure())
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(app, func(context.Context) error { return nil })
		},
	}
}

func cleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete analytics events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc analyticsdomain.Service
			app := fx.New(
				infrastructure(),
				domains(),
				fx.Populate(&svc),
			)
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(app, func(ctx context.Context) error {
				deleted, err := svc.CleanupOldData(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d analytics events\n", deleted)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "days of events to keep; 0 uses the configured retention")
	return cmd
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create providers and routing rules from a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := seed.LoadCatalog(file)
			if err != nil {
				return err
			}

			var (
				providers providerdomain.Service
				routing   routingdomain.Service
				log       *zap.Logger
			)
			app := fx.New(
				infrastructure(),
				domains(),
				fx.Populate(&providers, &routing, &log),
			)
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(app, func(ctx context.Context) error {
				result, err := seed.Apply(ctx, providers, routing, catalog, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "providers: %d created, %d existing; rules: %d created, %d existing\n",
					result.ProvidersCreated, result.ProvidersSkipped, result.RulesCreated, result.RulesSkipped)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yml", "catalog file (yaml or json)")
	return cmd
}
