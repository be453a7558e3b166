package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/condition"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
)

const DefaultLoadBalancingWeight = 1.0

type Rule struct {
	ID                  snowflake.ID          `json:"id"`
	Name                string                `json:"name"`
	Description         string                `json:"description"`
	Conditions          []condition.Condition `json:"conditions"`
	Priority            int                   `json:"priority"`
	IsActive            bool                  `json:"is_active"`
	TargetProviderID    snowflake.ID          `json:"target_provider_id"`
	FallbackProviderID  *snowflake.ID         `json:"fallback_provider_id,omitempty"`
	LoadBalancingWeight float64               `json:"load_balancing_weight"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// Precedes orders rules for evaluation: priority descending, then creation
// time and id ascending.
func Precedes(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type Outcome string

const (
	OutcomeRouted              Outcome = "routed"
	OutcomeNoProviderAvailable Outcome = "no_provider_available"
)

type Reason string

const (
	ReasonRuleMatch        Reason = "rule_match"
	ReasonRuleFallback     Reason = "rule_fallback"
	ReasonPriorityFallback Reason = "priority_fallback"
	ReasonNoEligible       Reason = "no_eligible_provider"
)

// Decision is the result of a routing call. NoProviderAvailable is a normal
// outcome, not an error.
type Decision struct {
	Outcome  Outcome                  `json:"outcome"`
	Reason   Reason                   `json:"reason"`
	Provider *providerdomain.Provider `json:"provider,omitempty"`
	RuleID   *snowflake.ID            `json:"rule_id,omitempty"`
	RuleName string                   `json:"rule_name,omitempty"`
}

func (d Decision) Routed() bool {
	return d.Outcome == OutcomeRouted && d.Provider != nil
}

func (d Decision) ProviderName() string {
	if d.Provider == nil {
		return ""
	}
	return d.Provider.ProviderName
}
