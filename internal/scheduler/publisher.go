package scheduler

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	deliverydomain "github.com/smallbiznis/payrouter/internal/delivery/domain"
	"go.uber.org/zap"
)

const (
	RetryStream       = "payrouter:webhooks:retry"
	retryStreamMaxLen = 100000
)

// RetryPublisher hands webhooks that are due for another attempt to the
// external notifier.
type RetryPublisher interface {
	PublishDue(ctx context.Context, webhooks []deliverydomain.Webhook) (int, error)
}

// NewRetryPublisher writes to a Redis stream when a client is configured and
// only logs otherwise.
func NewRetryPublisher(client *redis.Client, log *zap.Logger) RetryPublisher {
	log = log.Named("scheduler.retry")
	if client == nil {
		return &logPublisher{log: log}
	}
	return &streamPublisher{client: client, stream: RetryStream, log: log}
}

type streamPublisher struct {
	client *redis.Client
	stream string
	log    *zap.Logger
}

func (p *streamPublisher) PublishDue(ctx context.Context, webhooks []deliverydomain.Webhook) (int, error) {
	if len(webhooks) == 0 {
		return 0, nil
	}
	pipe := p.client.Pipeline()
	for _, w := range webhooks {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: retryStreamMaxLen,
			Approx: true,
			Values: retryMessage(w),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(webhooks), nil
}

type logPublisher struct {
	log *zap.Logger
}

func (p *logPublisher) PublishDue(ctx context.Context, webhooks []deliverydomain.Webhook) (int, error) {
	for _, w := range webhooks {
		p.log.Info("webhook due for retry",
			zap.String("webhook_id", w.ID.String()),
			zap.String("config_id", w.ConfigID.String()),
			zap.Int("retry_count", w.RetryCount),
			zap.Int("max_retries", w.MaxRetries),
		)
	}
	return len(webhooks), nil
}

func retryMessage(w deliverydomain.Webhook) map[string]any {
	return map[string]any{
		"webhook_id":   w.ID.String(),
		"config_id":    w.ConfigID.String(),
		"event_type":   w.EventType,
		"webhook_type": w.WebhookType,
		"url":          w.URL,
		"retry_count":  w.RetryCount,
		"max_retries":  w.MaxRetries,
	}
}
