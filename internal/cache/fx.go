package cache

import (
	"context"

	"github.com/smallbiznis/payrouter/internal/config"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewInvalidationBus),
	fx.Provide(
		fx.Annotate(
			provideProviderCache,
			fx.As(new(ProviderCache)),
			fx.As(new(providerdomain.Invalidator)),
		),
	),
	fx.Invoke(startInvalidationListener),
)

func startInvalidationListener(lc fx.Lifecycle, bus *InvalidationBus) {
	if !bus.Enabled() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go bus.Listen(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func provideProviderCache(
	lc fx.Lifecycle,
	conn *gorm.DB,
	repo providerdomain.Repository,
	engine *config.EngineConfigHolder,
	bus *InvalidationBus,
	log *zap.Logger,
) (*SnapshotCache, error) {
	c, err := NewProviderCache(conn, repo, engine, bus, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			c.Close()
			return nil
		},
	})
	return c, nil
}
