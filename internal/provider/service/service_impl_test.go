package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/dbtest"
	"github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/internal/provider/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingInvalidator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func setupService(t *testing.T) (domain.Service, *countingInvalidator) {
	t.Helper()
	inv := &countingInvalidator{}
	svc := New(Params{
		DB:          dbtest.Open(t),
		Log:         zap.NewNop(),
		GenID:       dbtest.Node(t),
		Repo:        repository.Provide(),
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Invalidator: inv,
	})
	return svc, inv
}

func TestCreateNormalizesAndInvalidates(t *testing.T) {
	svc, inv := setupService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, domain.CreateRequest{
		ProviderName:        "  Stripe EU ",
		Priority:            80,
		SupportedCurrencies: []string{"usd", "EUR", "usd"},
		SupportedCountries:  []string{"de", "us"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stripe-eu", p.ProviderName)
	assert.Equal(t, "Stripe EU", p.DisplayName)
	assert.Equal(t, []string{"EUR", "USD"}, p.SupportedCurrencies)
	assert.Equal(t, []string{"DE", "US"}, p.SupportedCountries)
	assert.Equal(t, domain.HealthUnknown, p.HealthStatus)
	assert.True(t, p.IsActive)
	assert.Equal(t, 1, inv.Calls())

	got, err := svc.Get(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, p.SupportedCurrencies, got.SupportedCurrencies)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, inv := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{ProviderName: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateRequest{ProviderName: "adyen", Priority: 101})
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)

	_, err = svc.Create(ctx, domain.CreateRequest{ProviderName: "adyen", SupportedCurrencies: []string{"dollars"}})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = svc.Create(ctx, domain.CreateRequest{ProviderName: "adyen", HealthStatus: "sleepy"})
	assert.ErrorIs(t, err, domain.ErrInvalidHealth)

	assert.Equal(t, 0, inv.Calls())
}

func TestCreateDuplicateName(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{ProviderName: "stripe"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{ProviderName: "Stripe"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestUpdateAndStateChanges(t *testing.T) {
	svc, inv := setupService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, domain.CreateRequest{ProviderName: "paypal", Priority: 10})
	require.NoError(t, err)

	_, err = svc.Update(ctx, p.ID.String(), domain.UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	priority := 55
	currencies := []string{"gbp"}
	updated, err := svc.Update(ctx, p.ID.String(), domain.UpdateRequest{
		Priority:            &priority,
		SupportedCurrencies: &currencies,
	})
	require.NoError(t, err)
	assert.Equal(t, 55, updated.Priority)
	assert.Equal(t, []string{"GBP"}, updated.SupportedCurrencies)

	updated, err = svc.SetHealthStatus(ctx, p.ID.String(), domain.HealthDegraded)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthDegraded, updated.HealthStatus)

	updated, err = svc.SetActive(ctx, p.ID.String(), false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.Delete(ctx, p.ID.String()))
	assert.ErrorIs(t, svc.Delete(ctx, p.ID.String()), domain.ErrNotFound)
	_, err = svc.Get(ctx, p.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	// create, update, health, active, delete
	assert.Equal(t, 5, inv.Calls())
}

func TestHealthSourceTracksWriter(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, domain.CreateRequest{ProviderName: "adyen"})
	require.NoError(t, err)
	assert.Equal(t, domain.HealthSourceManual, p.HealthSource)

	_, err = svc.SetDerivedHealth(ctx, p.ID.String(), domain.HealthUnhealthy)
	require.NoError(t, err)
	got, err := svc.Get(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthUnhealthy, got.HealthStatus)
	assert.Equal(t, domain.HealthSourceDerived, got.HealthSource)

	_, err = svc.SetHealthStatus(ctx, p.ID.String(), domain.HealthHealthy)
	require.NoError(t, err)
	got, err = svc.Get(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthSourceManual, got.HealthSource)

	_, err = svc.SetDerivedHealth(ctx, p.ID.String(), "flaky")
	assert.ErrorIs(t, err, domain.ErrInvalidHealth)
}

func TestEligibility(t *testing.T) {
	live := false
	p := domain.Provider{
		IsActive:            true,
		HealthStatus:        domain.HealthHealthy,
		SupportedCurrencies: []string{"USD"},
	}
	tx := condition.TransactionContext{Currency: "usd", Country: "fr"}.WithDefaults()
	assert.True(t, p.Eligible(tx), "empty country set is unrestricted")

	eur := condition.TransactionContext{Currency: "EUR"}.WithDefaults()
	assert.False(t, p.Eligible(eur))

	p.HealthStatus = domain.HealthUnhealthy
	assert.False(t, p.Eligible(tx))
	assert.True(t, p.Usable(tx))

	p.HealthStatus = domain.HealthUnknown
	assert.True(t, p.Eligible(tx))

	p.IsTestMode = true
	tx.TestMode = &live
	assert.False(t, p.Eligible(tx))
}
