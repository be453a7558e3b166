package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/payrouter/internal/condition"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memProviders struct {
	providerdomain.Service
	items []providerdomain.Provider
}

func (m *memProviders) List(ctx context.Context, req providerdomain.ListRequest) ([]providerdomain.Provider, error) {
	return m.items, nil
}

func (m *memProviders) Create(ctx context.Context, req providerdomain.CreateRequest) (*providerdomain.Provider, error) {
	p := providerdomain.Provider{
		ID:                  snowflake.ID(len(m.items) + 100),
		ProviderName:        slug.Make(req.ProviderName),
		SupportedCurrencies: req.SupportedCurrencies,
	}
	m.items = append(m.items, p)
	return &p, nil
}

type memRules struct {
	routingdomain.Service
	items    []routingdomain.Rule
	requests []routingdomain.CreateRuleRequest
}

func (m *memRules) ListRules(ctx context.Context, req routingdomain.ListRulesRequest) ([]routingdomain.Rule, error) {
	return m.items, nil
}

func (m *memRules) CreateRule(ctx context.Context, req routingdomain.CreateRuleRequest) (*routingdomain.Rule, error) {
	m.requests = append(m.requests, req)
	r := routingdomain.Rule{ID: snowflake.ID(len(m.items) + 1), Name: req.Name}
	m.items = append(m.items, r)
	return &r, nil
}

const catalogYAML = `
providers:
  - provider_name: Stripe
    display_name: Stripe
    priority: 90
    supported_currencies: [USD, EUR]
  - provider_name: PayPal
    display_name: PayPal
    priority: 50
rules:
  - name: eur to paypal
    priority: 10
    target: PayPal
    fallback: Stripe
    conditions:
      - field: currency
        operator: eq
        value: EUR
      - field: amount
        operator: gte
        value: 500
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t, catalogYAML))
	require.NoError(t, err)

	require.Len(t, catalog.Providers, 2)
	assert.Equal(t, "Stripe", catalog.Providers[0].ProviderName)
	assert.Equal(t, 90, catalog.Providers[0].Priority)
	assert.Equal(t, []string{"USD", "EUR"}, catalog.Providers[0].SupportedCurrencies)

	require.Len(t, catalog.Rules, 1)
	rule := catalog.Rules[0]
	assert.Equal(t, "PayPal", rule.Target)
	require.Len(t, rule.Conditions, 2)
	assert.Equal(t, condition.FieldCurrency, rule.Conditions[0].Field)
	assert.Equal(t, condition.String("EUR"), rule.Conditions[0].Value)
	assert.Equal(t, condition.Number(500), rule.Conditions[1].Value)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t, catalogYAML))
	require.NoError(t, err)

	providers := &memProviders{}
	rules := &memRules{}

	result, err := Apply(context.Background(), providers, rules, catalog, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Result{ProvidersCreated: 2, RulesCreated: 1}, result)

	require.Len(t, rules.requests, 1)
	req := rules.requests[0]
	assert.Equal(t, "101", req.TargetProviderID)
	require.NotNil(t, req.FallbackProviderID)
	assert.Equal(t, "100", *req.FallbackProviderID)

	result, err = Apply(context.Background(), providers, rules, catalog, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Result{ProvidersSkipped: 2, RulesSkipped: 1}, result)
	assert.Len(t, providers.items, 2)
	assert.Len(t, rules.items, 1)
}

func TestApplyUnknownTarget(t *testing.T) {
	catalog := Catalog{Rules: []Rule{{Name: "orphan", Target: "adyen"}}}

	_, err := Apply(context.Background(), &memProviders{}, &memRules{}, catalog, zap.NewNop())

	assert.ErrorIs(t, err, ErrUnknownProvider)
}
