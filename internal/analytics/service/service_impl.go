package service

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/payrouter/internal/analytics/domain"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	"github.com/smallbiznis/payrouter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Engine  *config.EngineConfigHolder
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	engine  *config.EngineConfigHolder
	clock   clock.Clock
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("analytics.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		engine:  p.Engine,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) RecordEvent(ctx context.Context, req domain.RecordEventRequest) (*domain.Event, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		return nil, db.Unavailable("insert analytics event", err)
	}
	s.metrics.RecordAnalyticsEvent(ctx, event.ProviderName, string(event.Status))
	return event, nil
}

func (s *Service) buildEvent(req domain.RecordEventRequest) (*domain.Event, error) {
	var configID *snowflake.ID
	if raw := strings.TrimSpace(req.ConfigID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return nil, domain.ErrInvalidConfig
		}
		configID = &id
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return nil, domain.ErrInvalidTransaction
	}
	providerName := slug.Make(req.ProviderName)
	if providerName == "" {
		return nil, domain.ErrInvalidProvider
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if !isCode(currency, 3) {
		return nil, domain.ErrInvalidCurrency
	}
	if !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if req.ResponseTimeMs < 0 {
		return nil, domain.ErrInvalidResponseTime
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &domain.Event{
		ID:             s.genID.Generate(),
		ConfigID:       configID,
		TransactionID:  transactionID,
		ProviderName:   providerName,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         req.Status,
		ResponseTimeMs: req.ResponseTimeMs,
		ErrorCode:      trimmed(req.ErrorCode),
		ErrorMessage:   trimmed(req.ErrorMessage),
		Metadata:       metadata,
		CreatedAt:      s.clock.Now().UTC(),
	}, nil
}

func (s *Service) SuccessRates(ctx context.Context, filter domain.Filter) ([]domain.SuccessRate, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	rates, err := s.repo.SuccessRates(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("query success rates", err)
	}
	for i := range rates {
		if rates[i].TotalCount > 0 {
			rates[i].SuccessRate = domain.Round2(float64(rates[i].SuccessCount) / float64(rates[i].TotalCount) * 100)
		}
		rates[i].AvgResponseTimeMs = domain.Round2(rates[i].AvgResponseTimeMs)
	}
	return rates, nil
}

// VolumeOverTime buckets events by the UTC start of each period. Buckets
// without events are omitted.
func (s *Service) VolumeOverTime(ctx context.Context, filter domain.Filter, period domain.Period) ([]domain.VolumeBucket, error) {
	if period == "" {
		period = domain.PeriodDay
	}
	if !period.Valid() {
		return nil, domain.ErrInvalidPeriod
	}
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	samples, err := s.repo.VolumeSamples(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("query volume", err)
	}

	buckets := make([]domain.VolumeBucket, 0)
	index := make(map[time.Time]int)
	for _, sample := range samples {
		start := period.Truncate(sample.CreatedAt)
		i, ok := index[start]
		if !ok {
			i = len(buckets)
			index[start] = i
			buckets = append(buckets, domain.VolumeBucket{PeriodStart: start})
		}
		b := &buckets[i]
		b.Count++
		b.TotalAmount += sample.Amount
		switch sample.Status {
		case domain.StatusSuccess:
			b.SuccessCount++
		case domain.StatusFailed:
			b.FailedCount++
		}
	}
	for i := range buckets {
		total := buckets[i].TotalAmount
		buckets[i].TotalAmount = domain.Round2(total)
		buckets[i].AvgAmount = domain.Round2(total / float64(buckets[i].Count))
	}
	slices.SortFunc(buckets, func(a, b domain.VolumeBucket) int {
		return a.PeriodStart.Compare(b.PeriodStart)
	})
	return buckets, nil
}

// ErrorAnalysis groups failed events; percentages are relative to all
// failed events matching the filter.
func (s *Service) ErrorAnalysis(ctx context.Context, filter domain.Filter) ([]domain.ErrorGroup, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	groups, err := s.repo.ErrorGroups(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("query errors", err)
	}
	var total int64
	for _, g := range groups {
		total += g.ErrorCount
	}
	for i := range groups {
		if total > 0 {
			groups[i].ErrorPercentage = domain.Round2(float64(groups[i].ErrorCount) / float64(total) * 100)
		}
	}
	slices.SortStableFunc(groups, func(a, b domain.ErrorGroup) int {
		if a.ErrorCount != b.ErrorCount {
			if a.ErrorCount > b.ErrorCount {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.ProviderName, b.ProviderName); c != 0 {
			return c
		}
		if c := strings.Compare(deref(a.ErrorCode), deref(b.ErrorCode)); c != 0 {
			return c
		}
		return strings.Compare(deref(a.ErrorMessage), deref(b.ErrorMessage))
	})
	return groups, nil
}

func (s *Service) PerformanceMetrics(ctx context.Context, filter domain.Filter) ([]domain.Performance, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	samples, err := s.repo.LatencySamples(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("query latency", err)
	}

	grouped := make(map[string][]float64)
	var names []string
	for _, sample := range samples {
		if _, ok := grouped[sample.ProviderName]; !ok {
			names = append(names, sample.ProviderName)
		}
		grouped[sample.ProviderName] = append(grouped[sample.ProviderName], float64(sample.ResponseTimeMs))
	}
	slices.Sort(names)

	out := make([]domain.Performance, 0, len(names))
	for _, name := range names {
		out = append(out, summarize(name, grouped[name]))
	}
	return out, nil
}

func summarize(name string, values []float64) domain.Performance {
	slices.Sort(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	return domain.Performance{
		ProviderName: name,
		SampleCount:  len(values),
		MeanMs:       domain.Round2(sum / float64(len(values))),
		MinMs:        values[0],
		MaxMs:        values[len(values)-1],
		P50Ms:        domain.Round2(domain.Percentile(values, 0.50)),
		P95Ms:        domain.Round2(domain.Percentile(values, 0.95)),
		P99Ms:        domain.Round2(domain.Percentile(values, 0.99)),
	}
}

// CleanupOldData deletes events older than now minus daysToKeep. Zero uses
// the configured retention.
func (s *Service) CleanupOldData(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, domain.ErrInvalidRetention
	}
	if daysToKeep == 0 {
		daysToKeep = s.engine.Get().Analytics.RetentionDays
	}
	if daysToKeep <= 0 {
		daysToKeep = domain.DefaultRetentionDays
	}
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -daysToKeep)

	deleted, err := s.repo.DeleteBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, db.Unavailable("prune analytics events", err)
	}
	s.metrics.RecordAnalyticsPruned(ctx, deleted)
	logger.WithContext(ctx, s.log).Info("analytics events pruned",
		zap.Int("days_to_keep", daysToKeep),
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

func normalizeFilter(filter domain.Filter) (domain.Filter, error) {
	if filter.ProviderName != "" {
		filter.ProviderName = slug.Make(filter.ProviderName)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return filter, domain.ErrInvalidRange
	}
	return filter, nil
}

func isCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	return &out
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
