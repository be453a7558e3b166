package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/analytics"
	"github.com/smallbiznis/payrouter/internal/cache"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/delivery"
	"github.com/smallbiznis/payrouter/internal/migration"
	"github.com/smallbiznis/payrouter/internal/observability"
	"github.com/smallbiznis/payrouter/internal/provider"
	"github.com/smallbiznis/payrouter/internal/ratelimit"
	"github.com/smallbiznis/payrouter/internal/routing"
	"github.com/smallbiznis/payrouter/pkg/db"
	"go.uber.org/fx"
)

const oneShotTimeout = 5 * time.Minute

// infrastructure is what every command needs to reach the store.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	)
}

// domains wires the engine services on top of infrastructure.
func domains() fx.Option {
	return fx.Options(
		cache.Module,
		condition.Module,
		provider.Module,
		routing.Module,
		delivery.Module,
		analytics.Module,
		ratelimit.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// runOnce starts the app, runs fn and stops the app again. Lifecycle hooks
// such as the database pool shutdown still run.
func runOnce(app *fx.App, fn func(ctx context.Context) error) error {
	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ctx, cancelRun := context.WithTimeout(context.Background(), oneShotTimeout)
	runErr := fn(ctx)
	cancelRun()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
