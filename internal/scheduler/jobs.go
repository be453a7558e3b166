package scheduler

import (
	"context"
	"errors"

	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	"github.com/smallbiznis/payrouter/internal/config"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"go.uber.org/zap"
)

// RetrySweepJob publishes one batch of webhooks whose cool-down elapsed.
// Webhooks stay due until the notifier reports back through RecordTrigger,
// so a lost message is picked up on a later sweep.
func (s *Scheduler) RetrySweepJob(ctx context.Context, run *jobRun) error {
	due, err := s.delivery.DueForRetry(ctx, 0)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.retry.query_failed", err)
		return err
	}
	published, err := s.publisher.PublishDue(ctx, due)
	run.AddProcessed(published)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.retry.publish_failed", err, zap.Int("due", len(due)))
		return err
	}
	return nil
}

func (s *Scheduler) RetentionJob(ctx context.Context, run *jobRun) error {
	deleted, err := s.analytics.CleanupOldData(ctx, 0)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.retention.failed", err)
		return err
	}
	run.AddProcessed(int(deleted))
	return nil
}

// ProviderHealthJob derives each provider's health from its recent
// settled events and writes back changes. A degraded or unhealthy status
// set by an administrator is left alone. A derived one goes back to unknown
// when the window is too quiet to judge, since routing sends no traffic to
// the provider while it is held out.
func (s *Scheduler) ProviderHealthJob(ctx context.Context, run *jobRun) error {
	health := s.engine.Get().Health
	now := s.clock.Now().UTC()
	from := now.Add(-health.Window)

	rates, err := s.analytics.SuccessRates(ctx, analyticsdomain.Filter{From: &from, To: &now})
	if err != nil {
		s.logJobError(ctx, run, "scheduler.health.query_failed", err)
		return err
	}
	byName := make(map[string]analyticsdomain.SuccessRate, len(rates))
	for _, rate := range rates {
		byName[rate.ProviderName] = rate
	}

	providers, err := s.providers.List(ctx, providerdomain.ListRequest{ActiveOnly: true})
	if err != nil {
		s.logJobError(ctx, run, "scheduler.health.providers_failed", err)
		return err
	}

	var jobErr error
	for _, p := range providers {
		status, ok := nextHealth(p, byName[p.ProviderName], health)
		if !ok {
			continue
		}
		if _, err := s.providers.SetDerivedHealth(ctx, p.ID.String(), status); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(ctx, run, "scheduler.health.update_failed", err, zap.String("provider", p.ProviderName))
			continue
		}
		s.logger(ctx).Info("provider health changed",
			zap.String("provider", p.ProviderName),
			zap.String("from", string(p.HealthStatus)),
			zap.String("to", string(status)),
		)
		run.AddProcessed(1)
	}
	return jobErr
}

// nextHealth reports the status the job should write, if any.
func nextHealth(p providerdomain.Provider, rate analyticsdomain.SuccessRate, cfg config.HealthConfig) (providerdomain.HealthStatus, bool) {
	if p.HealthSource != providerdomain.HealthSourceDerived && !p.HealthStatus.Routable() {
		return "", false
	}
	status, ok := DeriveHealth(rate, cfg)
	if !ok {
		if p.HealthSource != providerdomain.HealthSourceDerived || p.HealthStatus.Routable() {
			return "", false
		}
		status = providerdomain.HealthUnknown
	}
	if status == p.HealthStatus {
		return "", false
	}
	return status, true
}

// DeriveHealth classifies settled events (success and failed). Pending
// events are ignored. It reports false when there are too few samples to
// judge.
func DeriveHealth(rate analyticsdomain.SuccessRate, cfg config.HealthConfig) (providerdomain.HealthStatus, bool) {
	settled := rate.SuccessCount + rate.FailedCount
	if settled == 0 || settled < int64(cfg.MinSamples) {
		return "", false
	}
	pct := float64(rate.SuccessCount) / float64(settled) * 100
	switch {
	case pct >= cfg.HealthyRate:
		return providerdomain.HealthHealthy, true
	case pct >= cfg.DegradedRate:
		return providerdomain.HealthDegraded, true
	default:
		return providerdomain.HealthUnhealthy, true
	}
}
