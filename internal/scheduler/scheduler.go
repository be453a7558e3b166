package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/config"
	deliverydomain "github.com/smallbiznis/payrouter/internal/delivery/domain"
	obsmetrics "github.com/smallbiznis/payrouter/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_scheduler_job")
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Delivery  deliverydomain.Service
	Analytics analyticsdomain.Service
	Providers providerdomain.Service
	Engine    *config.EngineConfigHolder
	Clock     clock.Clock
	Publisher RetryPublisher
	Locker    *ratelimit.Locker            `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	engine    *config.EngineConfigHolder
	delivery  deliverydomain.Service
	analytics analyticsdomain.Service
	providers providerdomain.Service
	publisher RetryPublisher
	locker    *ratelimit.Locker
	metrics   *obsmetrics.SchedulerMetrics

	mu   sync.Mutex
	cron *cron.Cron
}

type job struct {
	name     string
	resource string
	spec     func(config.ScheduleConfig) string
	batch    func(config.EngineConfig) int
	run      func(ctx context.Context, run *jobRun) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Delivery == nil || p.Analytics == nil || p.Providers == nil || p.Clock == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		engine:    p.Engine,
		delivery:  p.Delivery,
		analytics: p.Analytics,
		providers: p.Providers,
		publisher: p.Publisher,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{
			name:     JobRetrySweep,
			resource: "webhook",
			spec:     func(c config.ScheduleConfig) string { return c.RetrySweep },
			batch:    func(c config.EngineConfig) int { return c.Delivery.SweepBatchSize },
			run:      s.RetrySweepJob,
		},
		{
			name:     JobRetention,
			resource: "analytics_event",
			spec:     func(c config.ScheduleConfig) string { return c.Retention },
			batch:    func(config.EngineConfig) int { return 0 },
			run:      s.RetentionJob,
		},
		{
			name:     JobProviderHealth,
			resource: "provider",
			spec:     func(c config.ScheduleConfig) string { return c.ProviderHealth },
			batch:    func(config.EngineConfig) int { return 0 },
			run:      s.ProviderHealthJob,
		},
	}
}

// runJob wraps one execution with the cross-replica lock, a timeout,
// metrics and start/finish logs. Timeouts are reported but not returned.
func (s *Scheduler) runJob(parent context.Context, j job) error {
	ctx, cancel := context.WithTimeout(s.withLogContext(parent), s.cfg.JobTimeout)
	defer cancel()

	release, acquired := s.acquireJobLock(ctx, j.name, s.cfg.LockTTL)
	if !acquired {
		return nil
	}
	defer release()

	run := newJobRun(j.name, j.resource, j.batch(s.engine.Get()), s.clock.Now())
	s.metrics.IncJobRun(j.name)
	s.logJobStart(ctx, run)

	err := j.run(ctx, run)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.metrics.ObserveJobDuration(j.name, s.clock.Now().Sub(run.startedAt))
	s.metrics.AddBatchProcessed(j.name, run.resource, run.processedCount)
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(j.name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", j.name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", j.name, err)
}

// RunOnce executes every enabled job once, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if s.isJobEnabled(j.name) {
			err = errors.Join(err, s.runJob(ctx, j))
		}
	}
	return err
}

// RunJob executes a single job by name regardless of EnabledJobs.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return s.runJob(ctx, j)
		}
	}
	return ErrUnknownJob
}

// Start registers enabled jobs on their cron specs. Specs are read once;
// a changed schedule takes effect on restart.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	schedules := s.engine.Get().Schedules
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		spec := strings.TrimSpace(j.spec(schedules))
		if spec == "" {
			s.log.Info("job has no schedule", zap.String("job", j.name))
			continue
		}
		if _, err := c.AddFunc(spec, func() {
			if err := s.runJob(context.Background(), j); err != nil {
				s.log.Warn("scheduled job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, spec, err)
		}
		s.log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", spec))
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop waits for running jobs or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}
