package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/cache"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	"github.com/smallbiznis/payrouter/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/smallbiznis/payrouter/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("payrouter/routing")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	ProviderRepo providerdomain.Repository
	Providers    cache.ProviderCache
	Evaluator    *condition.Evaluator
	Clock        clock.Clock
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	providerRepo providerdomain.Repository
	providers    cache.ProviderCache
	evaluator    *condition.Evaluator
	clock        clock.Clock
	metrics      *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("routing.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		providerRepo: p.ProviderRepo,
		providers:    p.Providers,
		evaluator:    p.Evaluator,
		clock:        p.Clock,
		metrics:      p.Metrics,
	}
}

func (s *Service) SelectProvider(ctx context.Context, tx condition.TransactionContext) (*domain.Decision, error) {
	ctx, span := tracer.Start(ctx, "routing.select_provider")
	defer span.End()
	started := time.Now()

	tx = tx.WithDefaults()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("routing.currency", tx.Currency),
		attribute.String("routing.country", tx.Country),
	)...)

	rules, err := s.repo.List(ctx, s.db, domain.ListFilter{ActiveOnly: true})
	if err != nil {
		return nil, s.fail(ctx, span, db.Unavailable("load routing rules", err))
	}
	providers, err := s.providers.Snapshot(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, db.Unavailable("load providers", err))
	}

	decision := decide(ctx, s.evaluator, s.log, rules, providers, tx)

	span.SetAttributes(
		attribute.String("routing.outcome", string(decision.Outcome)),
		attribute.String("routing.reason", string(decision.Reason)),
		attribute.String("routing.provider", decision.ProviderName()),
	)
	s.metrics.RecordRoutingDecision(ctx, string(decision.Outcome), decision.ProviderName(), string(decision.Reason), time.Since(started))

	log := logger.WithContext(ctx, s.log)
	if decision.Routed() {
		log.Debug("provider selected",
			zap.String("provider", decision.ProviderName()),
			zap.String("reason", string(decision.Reason)),
		)
	} else {
		log.Info("no provider available",
			zap.String("currency", tx.Currency),
			zap.String("country", tx.Country),
			zap.Int("rules", len(rules)),
			zap.Int("providers", len(providers)),
		)
	}
	return &decision, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, "store unavailable")
	logger.WithContext(ctx, s.log).Error("routing store failure", zap.Error(err))
	return err
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.Rule, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if err := validateConditions(req.Conditions); err != nil {
		return nil, err
	}
	weight := domain.DefaultLoadBalancingWeight
	if req.LoadBalancingWeight != nil {
		weight = *req.LoadBalancingWeight
	}
	if weight <= 0 {
		return nil, domain.ErrInvalidWeight
	}

	targetID, err := s.resolveProvider(ctx, req.TargetProviderID)
	if err != nil {
		return nil, err
	}
	var fallbackID *snowflake.ID
	if req.FallbackProviderID != nil && strings.TrimSpace(*req.FallbackProviderID) != "" {
		id, err := s.resolveProvider(ctx, *req.FallbackProviderID)
		if err != nil {
			return nil, err
		}
		fallbackID = &id
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	conditions := req.Conditions
	if conditions == nil {
		conditions = []condition.Condition{}
	}

	now := s.clock.Now()
	rule := &domain.Rule{
		ID:                  s.genID.Generate(),
		Name:                name,
		Description:         strings.TrimSpace(req.Description),
		Conditions:          conditions,
		Priority:            req.Priority,
		IsActive:            active,
		TargetProviderID:    targetID,
		FallbackProviderID:  fallbackID,
		LoadBalancingWeight: weight,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Insert(ctx, s.db, rule); err != nil {
		return nil, db.Unavailable("insert routing rule", err)
	}

	logger.WithContext(ctx, s.log).Info("routing rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.Int("priority", rule.Priority),
		zap.Int("conditions", len(rule.Conditions)),
	)
	return rule, nil
}

func (s *Service) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	ruleID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	rule, err := s.repo.FindByID(ctx, s.db, ruleID)
	if err != nil {
		return nil, db.Unavailable("find routing rule", err)
	}
	if rule == nil {
		return nil, domain.ErrNotFound
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, req domain.ListRulesRequest) ([]domain.Rule, error) {
	filter := domain.ListFilter{ActiveOnly: req.ActiveOnly}
	if strings.TrimSpace(req.TargetProviderID) != "" {
		id, err := parseID(req.TargetProviderID, domain.ErrInvalidProvider)
		if err != nil {
			return nil, err
		}
		filter.TargetProviderID = &id
	}
	rules, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("list routing rules", err)
	}
	return rules, nil
}

func (s *Service) UpdateRule(ctx context.Context, id string, req domain.UpdateRuleRequest) (*domain.Rule, error) {
	if req.Empty() {
		return nil, domain.ErrInvalidUpdate
	}
	ruleID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, domain.ErrInvalidName
	}
	if req.Conditions != nil {
		if err := validateConditions(*req.Conditions); err != nil {
			return nil, err
		}
	}
	if req.LoadBalancingWeight != nil && *req.LoadBalancingWeight <= 0 {
		return nil, domain.ErrInvalidWeight
	}

	var updated *domain.Rule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rule, err := s.repo.FindByID(ctx, tx, ruleID)
		if err != nil {
			return db.Unavailable("find routing rule", err)
		}
		if rule == nil {
			return domain.ErrNotFound
		}

		if req.Name != nil {
			rule.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			rule.Description = strings.TrimSpace(*req.Description)
		}
		if req.Conditions != nil {
			rule.Conditions = *req.Conditions
		}
		if req.Priority != nil {
			rule.Priority = *req.Priority
		}
		if req.IsActive != nil {
			rule.IsActive = *req.IsActive
		}
		if req.LoadBalancingWeight != nil {
			rule.LoadBalancingWeight = *req.LoadBalancingWeight
		}
		if req.TargetProviderID != nil {
			target, err := s.resolveProviderTx(ctx, tx, *req.TargetProviderID)
			if err != nil {
				return err
			}
			rule.TargetProviderID = target
		}
		if req.FallbackProviderID != nil {
			if strings.TrimSpace(*req.FallbackProviderID) == "" {
				rule.FallbackProviderID = nil
			} else {
				fallback, err := s.resolveProviderTx(ctx, tx, *req.FallbackProviderID)
				if err != nil {
					return err
				}
				rule.FallbackProviderID = &fallback
			}
		}

		rule.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, rule); err != nil {
			return db.Unavailable("update routing rule", err)
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	ruleID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, s.db, ruleID)
	if err != nil {
		return db.Unavailable("delete routing rule", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	logger.WithContext(ctx, s.log).Info("routing rule deleted", zap.String("rule_id", ruleID.String()))
	return nil
}

func (s *Service) resolveProvider(ctx context.Context, raw string) (snowflake.ID, error) {
	return s.resolveProviderTx(ctx, s.db, raw)
}

// resolveProviderTx checks the provider exists at write time. Providers
// deleted later leave a dangling reference that routing skips.
func (s *Service) resolveProviderTx(ctx context.Context, tx *gorm.DB, raw string) (snowflake.ID, error) {
	id, err := parseID(raw, domain.ErrInvalidProvider)
	if err != nil {
		return 0, err
	}
	p, err := s.providerRepo.FindByID(ctx, tx, id)
	if err != nil {
		return 0, db.Unavailable("find provider", err)
	}
	if p == nil {
		return 0, domain.ErrInvalidProvider
	}
	return id, nil
}

func validateConditions(conditions []condition.Condition) error {
	if err := condition.ValidateAll(conditions); err != nil {
		return errors.Join(domain.ErrInvalidCondition, err)
	}
	return nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}
