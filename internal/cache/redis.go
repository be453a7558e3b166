package cache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const invalidationChannel = "payrouter:providers:invalidate"

// NewRedisClient returns nil when Redis is disabled; every consumer treats a
// nil client as "single replica".
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// InvalidationBus fans provider cache invalidations out to other replicas.
// With a nil client it is a no-op.
type InvalidationBus struct {
	client     *redis.Client
	instanceID string
	log        *zap.Logger

	mu       sync.Mutex
	handlers []func()
}

func NewInvalidationBus(client *redis.Client, log *zap.Logger) *InvalidationBus {
	return &InvalidationBus{
		client:     client,
		instanceID: uuid.NewString(),
		log:        log.Named("cache.bus"),
	}
}

func (b *InvalidationBus) Enabled() bool {
	return b != nil && b.client != nil
}

func (b *InvalidationBus) OnRemoteInvalidate(fn func()) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

func (b *InvalidationBus) Publish(ctx context.Context) error {
	if !b.Enabled() {
		return nil
	}
	return b.client.Publish(ctx, invalidationChannel, b.instanceID).Err()
}

// Listen blocks until ctx is cancelled, running local handlers for every
// invalidation published by another replica.
func (b *InvalidationBus) Listen(ctx context.Context) {
	if !b.Enabled() {
		return
	}
	sub := b.client.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *InvalidationBus) deliver(origin string) {
	if origin == b.instanceID {
		return
	}
	b.mu.Lock()
	handlers := append([]func(){}, b.handlers...)
	b.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	b.log.Debug("provider cache invalidated by peer", zap.String("origin", origin))
}
