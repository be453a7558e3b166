package service

import (
	"context"
	"slices"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/internal/routing/domain"
	"go.uber.org/zap"
)

// decide runs the routing policy over one snapshot of rules and providers.
// Rules are walked in precedence order and the first usable match wins. A
// rule whose target is unhealthy may hand over to its fallback; otherwise
// the next rule is tried. With no rule selected, the highest-priority
// eligible provider is used.
func decide(
	ctx context.Context,
	ev *condition.Evaluator,
	log *zap.Logger,
	rules []domain.Rule,
	providers []providerdomain.Provider,
	tx condition.TransactionContext,
) domain.Decision {
	byID := make(map[snowflake.ID]providerdomain.Provider, len(providers))
	for _, p := range providers {
		byID[p.ID] = p
	}

	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b domain.Rule) int {
		switch {
		case domain.Precedes(a, b):
			return -1
		case domain.Precedes(b, a):
			return 1
		default:
			return 0
		}
	})

	for _, rule := range ordered {
		if !rule.IsActive || !ev.Match(ctx, tx, rule.Conditions) {
			continue
		}

		target, ok := byID[rule.TargetProviderID]
		if !ok {
			logger.WithContext(ctx, log).Warn("rule target provider missing or inactive",
				zap.String("rule_id", rule.ID.String()),
				zap.String("target_provider_id", rule.TargetProviderID.String()),
			)
			continue
		}
		if target.Eligible(tx) {
			return routed(target, rule, domain.ReasonRuleMatch)
		}

		if target.Usable(tx) && !target.HealthStatus.Routable() && rule.FallbackProviderID != nil {
			if fallback, ok := byID[*rule.FallbackProviderID]; ok && fallback.Eligible(tx) {
				return routed(fallback, rule, domain.ReasonRuleFallback)
			}
		}
	}

	eligible := make([]providerdomain.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Eligible(tx) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return domain.Decision{
			Outcome: domain.OutcomeNoProviderAvailable,
			Reason:  domain.ReasonNoEligible,
		}
	}

	best := eligible[0]
	for _, p := range eligible[1:] {
		if providerdomain.Less(p, best) {
			best = p
		}
	}
	return domain.Decision{
		Outcome:  domain.OutcomeRouted,
		Reason:   domain.ReasonPriorityFallback,
		Provider: &best,
	}
}

func routed(p providerdomain.Provider, rule domain.Rule, reason domain.Reason) domain.Decision {
	ruleID := rule.ID
	return domain.Decision{
		Outcome:  domain.OutcomeRouted,
		Reason:   reason,
		Provider: &p,
		RuleID:   &ruleID,
		RuleName: rule.Name,
	}
}
