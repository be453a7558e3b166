package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const snapshotKey = "providers:active"

// ProviderCache hands out read-only snapshots of the active provider set.
// Callers must not mutate the returned slice.
type ProviderCache interface {
	Snapshot(ctx context.Context) ([]providerdomain.Provider, error)
	Invalidate(ctx context.Context)
}

// SnapshotCache keeps the active provider set in an otter cache under a
// single key. The TTL is read from engine configuration on every fill.
type SnapshotCache struct {
	db      *gorm.DB
	repo    providerdomain.Repository
	engine  *config.EngineConfigHolder
	log     *zap.Logger
	bus     *InvalidationBus
	entries otter.CacheWithVariableTTL[string, []providerdomain.Provider]

	loadMu     sync.Mutex
	generation atomic.Uint64
}

func NewProviderCache(
	conn *gorm.DB,
	repo providerdomain.Repository,
	engine *config.EngineConfigHolder,
	bus *InvalidationBus,
	log *zap.Logger,
) (*SnapshotCache, error) {
	entries, err := otter.MustBuilder[string, []providerdomain.Provider](16).
		Cost(func(_ string, _ []providerdomain.Provider) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}
	c := &SnapshotCache{
		db:      conn,
		repo:    repo,
		engine:  engine,
		log:     log.Named("cache.providers"),
		bus:     bus,
		entries: entries,
	}
	bus.OnRemoteInvalidate(c.clear)
	return c, nil
}

func (c *SnapshotCache) Snapshot(ctx context.Context) ([]providerdomain.Provider, error) {
	if providers, ok := c.entries.Get(snapshotKey); ok {
		return providers, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if providers, ok := c.entries.Get(snapshotKey); ok {
		return providers, nil
	}

	generation := c.generation.Load()
	providers, err := c.repo.List(ctx, c.db, true)
	if err != nil {
		return nil, db.Unavailable("load provider snapshot", err)
	}

	// An invalidation during the load means the rows may already be stale.
	if c.generation.Load() == generation {
		c.entries.Set(snapshotKey, providers, ttlOrDefault(c.engine.Get().ProviderCache.TTL))
	}
	return providers, nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context) {
	c.clear()
	if err := c.bus.Publish(ctx); err != nil {
		logger.WithContext(ctx, c.log).Warn("publish provider invalidation failed", zap.Error(err))
	}
}

func (c *SnapshotCache) clear() {
	c.generation.Add(1)
	c.entries.Delete(snapshotKey)
}

// Close releases the otter maintenance goroutines.
func (c *SnapshotCache) Close() {
	c.entries.Close()
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return config.DefaultEngineConfig().ProviderCache.TTL
	}
	return ttl
}
