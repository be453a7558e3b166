package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/payrouter/internal/observability/metrics"
	"go.uber.org/zap"
)

const lockKeyPrefix = "payrouter:scheduler:lock:"

// acquireJobLock takes the cross-replica lease for job. Without Redis every
// replica runs every job, which is safe because each job is idempotent.
// The returned release func is never nil.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	noop := func() {}
	if !s.locker.Enabled() {
		return noop, true
	}

	key := lockKeyPrefix + job
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		s.metrics.IncJobSkipped(job, obsmetrics.JobSkipReasonLockError)
		s.logger(ctx).Warn("scheduler lock unavailable", zap.String("job", job), zap.Error(err))
		return noop, false
	}
	if !ok {
		s.metrics.IncJobSkipped(job, obsmetrics.JobSkipReasonLockHeld)
		s.logger(ctx).Debug("scheduler lock held elsewhere", zap.String("job", job))
		return noop, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("scheduler lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}
