package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/cache"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/dbtest"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	providerrepo "github.com/smallbiznis/payrouter/internal/provider/repository"
	providerservice "github.com/smallbiznis/payrouter/internal/provider/service"
	"github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/smallbiznis/payrouter/internal/routing/repository"
	"github.com/smallbiznis/payrouter/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	conn      *gorm.DB
	clock     *clock.FakeClock
	providers providerdomain.Service
	routing   domain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	pRepo := providerrepo.Provide()

	snapshots, err := cache.NewProviderCache(
		conn,
		pRepo,
		config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		cache.NewInvalidationBus(nil, zap.NewNop()),
		zap.NewNop(),
	)
	require.NoError(t, err)
	t.Cleanup(snapshots.Close)

	return &fixture{
		conn:  conn,
		clock: clk,
		providers: providerservice.New(providerservice.Params{
			DB:          conn,
			Log:         zap.NewNop(),
			GenID:       node,
			Repo:        pRepo,
			Clock:       clk,
			Invalidator: snapshots,
		}),
		routing: New(Params{
			DB:           conn,
			Log:          zap.NewNop(),
			GenID:        node,
			Repo:         repository.Provide(),
			ProviderRepo: pRepo,
			Providers:    snapshots,
			Evaluator:    condition.NewEvaluator(condition.Params{Log: zap.NewNop()}),
			Clock:        clk,
		}),
	}
}

func (f *fixture) provider(t *testing.T, name string, priority int, currencies ...string) *providerdomain.Provider {
	t.Helper()
	p, err := f.providers.Create(context.Background(), providerdomain.CreateRequest{
		ProviderName:        name,
		Priority:            priority,
		SupportedCurrencies: currencies,
		HealthStatus:        providerdomain.HealthHealthy,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return p
}

func (f *fixture) rule(t *testing.T, name string, priority int, target *providerdomain.Provider, conditions ...condition.Condition) *domain.Rule {
	t.Helper()
	r, err := f.routing.CreateRule(context.Background(), domain.CreateRuleRequest{
		Name:             name,
		Priority:         priority,
		TargetProviderID: target.ID.String(),
		Conditions:       conditions,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return r
}

var usdOnly = condition.Condition{Field: condition.FieldCurrency, Operator: condition.OpEq, Value: condition.String("USD")}

func TestHigherPriorityRuleWins(t *testing.T) {
	f := setup(t)
	pA := f.provider(t, "stripe", 10)
	pB := f.provider(t, "adyen", 90)
	ruleA := f.rule(t, "usd", 100, pA, usdOnly)
	f.rule(t, "catch-all", 50, pB)

	decision, err := f.routing.SelectProvider(context.Background(), condition.TransactionContext{Amount: 10, Currency: "USD"})
	require.NoError(t, err)
	require.True(t, decision.Routed())
	assert.Equal(t, pA.ID, decision.Provider.ID)
	assert.Equal(t, ruleA.ID, *decision.RuleID)
	assert.Equal(t, domain.ReasonRuleMatch, decision.Reason)
}

func TestNonMatchingRuleFallsThroughToCatchAll(t *testing.T) {
	f := setup(t)
	pA := f.provider(t, "stripe", 10)
	pB := f.provider(t, "adyen", 0)
	f.rule(t, "usd", 100, pA, usdOnly)
	f.rule(t, "catch-all", 50, pB)

	decision, err := f.routing.SelectProvider(context.Background(), condition.TransactionContext{Amount: 10, Currency: "EUR"})
	require.NoError(t, err)
	require.True(t, decision.Routed())
	assert.Equal(t, pB.ID, decision.Provider.ID)
}

func TestCatchAllWithIneligibleProviderUsesPriorityFallback(t *testing.T) {
	f := setup(t)
	pA := f.provider(t, "stripe", 10)
	pB := f.provider(t, "usd-only", 90, "USD")
	pC := f.provider(t, "worldwide", 40)
	f.rule(t, "usd", 100, pA, usdOnly)
	f.rule(t, "catch-all", 50, pB)

	decision, err := f.routing.SelectProvider(context.Background(), condition.TransactionContext{Currency: "EUR"})
	require.NoError(t, err)
	require.True(t, decision.Routed())
	assert.Equal(t, pC.ID, decision.Provider.ID)
	assert.Equal(t, domain.ReasonPriorityFallback, decision.Reason)
	assert.Nil(t, decision.RuleID)
}

func TestEqualPriorityTieBreaksOnCreationTime(t *testing.T) {
	f := setup(t)
	first := f.provider(t, "first", 0)
	second := f.provider(t, "second", 0)
	f.rule(t, "older", 70, first)
	f.rule(t, "newer", 70, second)

	for i := 0; i < 5; i++ {
		decision, err := f.routing.SelectProvider(context.Background(), condition.TransactionContext{})
		require.NoError(t, err)
		assert.Equal(t, first.ID, decision.Provider.ID)
	}
}

func TestUnhealthyTargetUsesEligibleFallback(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	primary := f.provider(t, "primary", 50)
	backup := f.provider(t, "backup", 10)
	other := f.provider(t, "other", 100)

	fallbackID := backup.ID.String()
	rule, err := f.routing.CreateRule(ctx, domain.CreateRuleRequest{
		Name:               "primary-with-backup",
		Priority:           10,
		TargetProviderID:   primary.ID.String(),
		FallbackProviderID: &fallbackID,
	})
	require.NoError(t, err)

	_, err = f.providers.SetHealthStatus(ctx, primary.ID.String(), providerdomain.HealthUnhealthy)
	require.NoError(t, err)

	decision, err := f.routing.SelectProvider(ctx, condition.TransactionContext{})
	require.NoError(t, err)
	assert.Equal(t, backup.ID, decision.Provider.ID)
	assert.Equal(t, domain.ReasonRuleFallback, decision.Reason)
	assert.Equal(t, rule.ID, *decision.RuleID)

	// Backup degraded too: the rule is abandoned and priority fallback applies.
	_, err = f.providers.SetHealthStatus(ctx, backup.ID.String(), providerdomain.HealthDegraded)
	require.NoError(t, err)
	decision, err = f.routing.SelectProvider(ctx, condition.TransactionContext{})
	require.NoError(t, err)
	assert.Equal(t, other.ID, decision.Provider.ID)
	assert.Equal(t, domain.ReasonPriorityFallback, decision.Reason)
}

func TestDanglingTargetIsSkipped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	gone := f.provider(t, "gone", 0)
	kept := f.provider(t, "kept", 0)
	f.rule(t, "dangling", 100, gone)
	f.rule(t, "next", 10, kept)

	require.NoError(t, f.providers.Delete(ctx, gone.ID.String()))

	decision, err := f.routing.SelectProvider(ctx, condition.TransactionContext{})
	require.NoError(t, err)
	assert.Equal(t, kept.ID, decision.Provider.ID)
	assert.Equal(t, domain.ReasonRuleMatch, decision.Reason)
}

func TestNoProviderAvailableIsAnOutcome(t *testing.T) {
	f := setup(t)
	f.provider(t, "usd-only", 10, "USD")

	decision, err := f.routing.SelectProvider(context.Background(), condition.TransactionContext{Currency: "JPY"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoProviderAvailable, decision.Outcome)
	assert.Nil(t, decision.Provider)
	assert.False(t, decision.Routed())
}

func TestInactiveRulesAreIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	low := f.provider(t, "low", 0)
	high := f.provider(t, "high", 0)
	r := f.rule(t, "preferred", 100, high)
	f.rule(t, "standard", 1, low)

	inactive := false
	_, err := f.routing.UpdateRule(ctx, r.ID.String(), domain.UpdateRuleRequest{IsActive: &inactive})
	require.NoError(t, err)

	decision, err := f.routing.SelectProvider(ctx, condition.TransactionContext{})
	require.NoError(t, err)
	assert.Equal(t, low.ID, decision.Provider.ID)
}

func TestMalformedStoredConditionsNeverMatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	legacy := f.provider(t, "legacy", 0)
	modern := f.provider(t, "modern", 0)
	r := f.rule(t, "legacy", 100, legacy)
	f.rule(t, "modern", 1, modern)

	require.NoError(t, f.conn.Exec(
		`UPDATE routing_rules SET conditions = ? WHERE id = ?`,
		`[{"field":"amount","operator":"gt","value":{"min":1}}]`,
		int64(r.ID),
	).Error)
	require.NoError(t, f.conn.Exec(
		`INSERT INTO routing_rules (id, name, conditions, priority, is_active, target_provider_id, load_balancing_weight, created_at, updated_at)
		 VALUES (?, 'unknown-field', ?, 200, 1, ?, 1.0, ?, ?)`,
		int64(snowflake.ID(42)),
		`[{"field":"merchant_tier","operator":"eq","value":"gold"}]`,
		int64(legacy.ID),
		f.clock.Now(),
		f.clock.Now(),
	).Error)

	decision, err := f.routing.SelectProvider(ctx, condition.TransactionContext{Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, modern.ID, decision.Provider.ID)
}

func TestStoreFailureIsReturned(t *testing.T) {
	f := setup(t)
	sqlDB, err := f.conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.routing.SelectProvider(context.Background(), condition.TransactionContext{})
	assert.ErrorIs(t, err, db.ErrStoreUnavailable)
}

func TestRuleValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.provider(t, "stripe", 0)

	_, err := f.routing.CreateRule(ctx, domain.CreateRuleRequest{Name: "", TargetProviderID: p.ID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = f.routing.CreateRule(ctx, domain.CreateRuleRequest{
		Name:             "bad-field",
		TargetProviderID: p.ID.String(),
		Conditions:       []condition.Condition{{Field: "merchant", Operator: condition.OpEq, Value: condition.String("x")}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
	assert.ErrorIs(t, err, condition.ErrUnknownField)

	zero := 0.0
	_, err = f.routing.CreateRule(ctx, domain.CreateRuleRequest{Name: "w", TargetProviderID: p.ID.String(), LoadBalancingWeight: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidWeight)

	_, err = f.routing.CreateRule(ctx, domain.CreateRuleRequest{Name: "missing", TargetProviderID: "12345"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	r := f.rule(t, "ok", 5, p)
	assert.Equal(t, domain.DefaultLoadBalancingWeight, r.LoadBalancingWeight)

	_, err = f.routing.UpdateRule(ctx, r.ID.String(), domain.UpdateRuleRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
}

func TestRuleCRUD(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.provider(t, "stripe", 0)
	backup := f.provider(t, "backup", 0)
	r := f.rule(t, "eu-cards", 20, p,
		condition.Condition{Field: condition.FieldCountry, Operator: condition.OpIn, Value: condition.Strings("DE", "FR")},
	)

	got, err := f.routing.GetRule(ctx, r.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Conditions, 1)
	assert.Equal(t, condition.KindList, got.Conditions[0].Value.Kind)

	name := "eu-all"
	priority := 30
	fallback := backup.ID.String()
	updated, err := f.routing.UpdateRule(ctx, r.ID.String(), domain.UpdateRuleRequest{
		Name:               &name,
		Priority:           &priority,
		FallbackProviderID: &fallback,
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-all", updated.Name)
	assert.Equal(t, 30, updated.Priority)
	require.NotNil(t, updated.FallbackProviderID)
	assert.Equal(t, backup.ID, *updated.FallbackProviderID)

	rules, err := f.routing.ListRules(ctx, domain.ListRulesRequest{TargetProviderID: backup.ID.String()})
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, f.routing.DeleteRule(ctx, r.ID.String()))
	_, err = f.routing.GetRule(ctx, r.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.routing.DeleteRule(ctx, r.ID.String()), domain.ErrNotFound)
}
