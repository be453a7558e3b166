package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/payrouter/internal/condition"
)

type Service interface {
	SelectProvider(ctx context.Context, tx condition.TransactionContext) (*Decision, error)

	CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context, req ListRulesRequest) ([]Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

type CreateRuleRequest struct {
	Name                string                `json:"name"`
	Description         string                `json:"description"`
	Conditions          []condition.Condition `json:"conditions"`
	Priority            int                   `json:"priority"`
	IsActive            *bool                 `json:"is_active,omitempty"`
	TargetProviderID    string                `json:"target_provider_id"`
	FallbackProviderID  *string               `json:"fallback_provider_id,omitempty"`
	LoadBalancingWeight *float64              `json:"load_balancing_weight,omitempty"`
}

// UpdateRuleRequest is a patch. At least one field must be set. An empty
// FallbackProviderID clears the fallback.
type UpdateRuleRequest struct {
	Name                *string                `json:"name,omitempty"`
	Description         *string                `json:"description,omitempty"`
	Conditions          *[]condition.Condition `json:"conditions,omitempty"`
	Priority            *int                   `json:"priority,omitempty"`
	IsActive            *bool                  `json:"is_active,omitempty"`
	TargetProviderID    *string                `json:"target_provider_id,omitempty"`
	FallbackProviderID  *string                `json:"fallback_provider_id,omitempty"`
	LoadBalancingWeight *float64               `json:"load_balancing_weight,omitempty"`
}

func (r UpdateRuleRequest) Empty() bool {
	return r.Name == nil && r.Description == nil && r.Conditions == nil && r.Priority == nil &&
		r.IsActive == nil && r.TargetProviderID == nil && r.FallbackProviderID == nil &&
		r.LoadBalancingWeight == nil
}

type ListRulesRequest struct {
	ActiveOnly       bool   `form:"active_only"`
	TargetProviderID string `form:"target_provider_id"`
}

var (
	ErrInvalidID        = errors.New("invalid_rule_id")
	ErrInvalidName      = errors.New("invalid_rule_name")
	ErrInvalidWeight    = errors.New("invalid_load_balancing_weight")
	ErrInvalidCondition = errors.New("invalid_rule_condition")
	ErrInvalidProvider  = errors.New("invalid_target_provider")
	ErrInvalidUpdate    = errors.New("invalid_rule_update")
	ErrNotFound         = errors.New("rule_not_found")
)
