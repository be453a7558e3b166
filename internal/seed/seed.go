package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/payrouter/internal/condition"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog is a declarative set of providers and rules. Rules refer to
// providers by name.
type Catalog struct {
	Providers []providerdomain.CreateRequest `json:"providers"`
	Rules     []Rule                        `json:"rules"`
}

type Rule struct {
	Name                string                `json:"name"`
	Description         string                `json:"description"`
	Conditions          []condition.Condition `json:"conditions"`
	Priority            int                   `json:"priority"`
	Target              string                `json:"target"`
	Fallback            string                `json:"fallback,omitempty"`
	LoadBalancingWeight *float64              `json:"load_balancing_weight,omitempty"`
}

type Result struct {
	ProvidersCreated int
	ProvidersSkipped int
	RulesCreated     int
	RulesSkipped     int
}

var ErrUnknownProvider = errors.New("seed_unknown_provider")

// LoadCatalog reads a YAML or JSON catalog file.
func LoadCatalog(path string) (Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("read seed catalog: %w", err)
	}

	// Round-trip through JSON so the domain json tags drive decoding.
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return Catalog{}, err
	}
	var catalog Catalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode seed catalog: %w", err)
	}
	return catalog, nil
}

// Apply creates whatever is missing from the catalog. Providers are matched
// by name and rules by name, so running it twice changes nothing.
func Apply(
	ctx context.Context,
	providers providerdomain.Service,
	routing routingdomain.Service,
	catalog Catalog,
	log *zap.Logger,
) (Result, error) {
	log = log.Named("seed")
	var result Result

	existing, err := providers.List(ctx, providerdomain.ListRequest{})
	if err != nil {
		return result, err
	}
	ids := make(map[string]string, len(existing))
	for _, p := range existing {
		ids[p.ProviderName] = p.ID.String()
	}

	for _, req := range catalog.Providers {
		name := slug.Make(req.ProviderName)
		if _, ok := ids[name]; ok {
			result.ProvidersSkipped++
			continue
		}
		created, err := providers.Create(ctx, req)
		if err != nil {
			return result, fmt.Errorf("seed provider %q: %w", req.ProviderName, err)
		}
		ids[created.ProviderName] = created.ID.String()
		result.ProvidersCreated++
		log.Info("seeded provider", zap.String("provider_name", created.ProviderName))
	}

	rules, err := routing.ListRules(ctx, routingdomain.ListRulesRequest{})
	if err != nil {
		return result, err
	}
	names := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		names[strings.ToLower(r.Name)] = struct{}{}
	}

	for _, r := range catalog.Rules {
		if _, ok := names[strings.ToLower(strings.TrimSpace(r.Name))]; ok {
			result.RulesSkipped++
			continue
		}
		target, ok := ids[slug.Make(r.Target)]
		if !ok {
			return result, fmt.Errorf("rule %q target %q: %w", r.Name, r.Target, ErrUnknownProvider)
		}
		req := routingdomain.CreateRuleRequest{
			Name:                r.Name,
			Description:         r.Description,
			Conditions:          r.Conditions,
			Priority:            r.Priority,
			TargetProviderID:    target,
			LoadBalancingWeight: r.LoadBalancingWeight,
		}
		if r.Fallback != "" {
			fallback, ok := ids[slug.Make(r.Fallback)]
			if !ok {
				return result, fmt.Errorf("rule %q fallback %q: %w", r.Name, r.Fallback, ErrUnknownProvider)
			}
			req.FallbackProviderID = &fallback
		}
		if _, err := routing.CreateRule(ctx, req); err != nil {
			return result, fmt.Errorf("seed rule %q: %w", r.Name, err)
		}
		names[strings.ToLower(strings.TrimSpace(r.Name))] = struct{}{}
		result.RulesCreated++
		log.Info("seeded rule", zap.String("rule_name", r.Name))
	}

	return result, nil
}
