package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/dbtest"
	"github.com/smallbiznis/payrouter/internal/delivery/domain"
	"github.com/smallbiznis/payrouter/internal/delivery/repository"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	providerrepo "github.com/smallbiznis/payrouter/internal/provider/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      domain.Service
	conn     *gorm.DB
	clock    *clock.FakeClock
	engine   *config.EngineConfigHolder
	configID string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	pRepo := providerrepo.Provide()

	owner := &providerdomain.Provider{
		ID:           node.Generate(),
		ProviderName: "stripe",
		IsActive:     true,
		HealthStatus: providerdomain.HealthHealthy,
		CreatedAt:    clk.Now(),
		UpdatedAt:    clk.Now(),
	}
	require.NoError(t, pRepo.Insert(context.Background(), conn, owner))

	engine := config.NewStaticEngineConfigHolder(config.DefaultEngineConfig())
	svc, err := New(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Repo:         repository.Provide(),
		ProviderRepo: pRepo,
		Cfg:          config.Config{WebhookSecretKey: "test-master-key"},
		Engine:       engine,
		Clock:        clk,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, conn: conn, clock: clk, engine: engine, configID: owner.ID.String()}
}

func (f *fixture) webhook(t *testing.T, maxRetries *int) *domain.Webhook {
	t.Helper()
	w, err := f.svc.CreateWebhook(context.Background(), domain.CreateWebhookRequest{
		ConfigID:    f.configID,
		WebhookType: "payment",
		EventType:   "charge.succeeded",
		URL:         "https://merchant.example.com/hooks",
		Secret:      "whsec_123",
		MaxRetries:  maxRetries,
	})
	require.NoError(t, err)
	return w
}

func strPtr(s string) *string { return &s }

func TestCreateWebhookDefaults(t *testing.T) {
	f := setup(t)
	w := f.webhook(t, nil)

	assert.Equal(t, domain.DefaultMaxRetries, w.MaxRetries)
	assert.Equal(t, 0, w.RetryCount)
	assert.True(t, w.IsActive)
	assert.Equal(t, domain.StateFresh, w.State())
	assert.False(t, w.NeedsRetry())
	assert.True(t, w.HasSecret())
	assert.NotContains(t, string(w.SealedSecret), "whsec_123")

	encoded, err := json.Marshal(domain.NewView(*w))
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "whsec_123")
	assert.NotContains(t, string(encoded), "ciphertext")
	assert.Contains(t, string(encoded), `"state":"fresh"`)
}

func TestCreateWebhookValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateWebhook(ctx, domain.CreateWebhookRequest{ConfigID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = f.svc.CreateWebhook(ctx, domain.CreateWebhookRequest{ConfigID: f.configID, WebhookType: "payment", EventType: "e", URL: "ftp://x"})
	assert.ErrorIs(t, err, domain.ErrInvalidURL)

	negative := -1
	_, err = f.svc.CreateWebhook(ctx, domain.CreateWebhookRequest{ConfigID: f.configID, WebhookType: "payment", EventType: "e", URL: "https://x.io", MaxRetries: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidMaxRetries)

	_, err = f.svc.CreateWebhook(ctx, domain.CreateWebhookRequest{ConfigID: "999", WebhookType: "payment", EventType: "e", URL: "https://x.io"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestConsecutiveFailuresExhaustRetries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.webhook(t, nil)

	var current *domain.Webhook
	var err error
	for i := 1; i <= 3; i++ {
		f.clock.Advance(time.Minute)
		current, err = f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("timeout"))
		require.NoError(t, err)
		assert.Equal(t, i, current.RetryCount)
	}

	assert.Equal(t, 3, current.RetryCount)
	assert.Equal(t, domain.StateExhausted, current.State())
	assert.False(t, current.NeedsRetry())
	require.NotNil(t, current.FailureReason)
	assert.Equal(t, "timeout", *current.FailureReason)

	// Further failures stay capped at max retries.
	f.clock.Advance(time.Minute)
	current, err = f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("timeout"))
	require.NoError(t, err)
	assert.Equal(t, 3, current.RetryCount)

	f.clock.Advance(time.Minute)
	current, err = f.svc.RecordTrigger(ctx, w.ID.String(), true, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, current.RetryCount)
	assert.Equal(t, domain.StateHealthy, current.State())
	assert.NotNil(t, current.LastFailure, "failure history is kept")
}

func TestSuccessAlwaysResetsRetryCount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ten := 10
	w := f.webhook(t, &ten)

	for failures := 0; failures < 6; failures++ {
		for i := 0; i < failures; i++ {
			f.clock.Advance(time.Second)
			_, err := f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("503"))
			require.NoError(t, err)
		}
		f.clock.Advance(time.Second)
		got, err := f.svc.RecordTrigger(ctx, w.ID.String(), true, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, got.RetryCount)
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ten := 10
	w := f.webhook(t, &ten)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("conn reset"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.svc.GetWebhook(ctx, w.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 4, got.RetryCount)
}

func TestResetRetriesIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.webhook(t, nil)

	f.clock.Advance(time.Minute)
	failed, err := f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("timeout"))
	require.NoError(t, err)

	once, err := f.svc.ResetRetries(ctx, w.ID.String())
	require.NoError(t, err)
	twice, err := f.svc.ResetRetries(ctx, w.ID.String())
	require.NoError(t, err)

	assert.Equal(t, 0, once.RetryCount)
	assert.Nil(t, once.FailureReason)
	assert.Equal(t, once.RetryCount, twice.RetryCount)
	assert.Equal(t, once.FailureReason, twice.FailureReason)
	assert.Equal(t, failed.LastTriggered, twice.LastTriggered, "timestamps untouched")
	assert.Equal(t, failed.LastFailure, twice.LastFailure)

	_, err = f.svc.ResetRetries(ctx, "424242")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDueForRetryHonoursCooldown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	retrying := f.webhook(t, nil)
	healthy := f.webhook(t, nil)
	one := 1
	exhausted := f.webhook(t, &one)
	f.webhook(t, nil) // fresh

	_, err := f.svc.RecordTrigger(ctx, retrying.ID.String(), false, strPtr("timeout"))
	require.NoError(t, err)
	_, err = f.svc.RecordTrigger(ctx, healthy.ID.String(), true, nil)
	require.NoError(t, err)
	_, err = f.svc.RecordTrigger(ctx, exhausted.ID.String(), false, strPtr("timeout"))
	require.NoError(t, err)

	due, err := f.svc.DueForRetry(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, due, "inside the cool-down window")

	f.clock.Advance(5*time.Minute + time.Second)
	due, err = f.svc.DueForRetry(ctx, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, retrying.ID, due[0].ID)

	cfg := config.DefaultEngineConfig()
	cfg.Delivery.RetryCooldown = time.Hour
	f.engine.Set(cfg)
	due, err = f.svc.DueForRetry(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, due, "cool-down is read on every call")

	inactive := false
	_, err = f.svc.UpdateWebhook(ctx, retrying.ID.String(), domain.UpdateWebhookRequest{IsActive: &inactive})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	due, err = f.svc.DueForRetry(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestVerifySignature(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.webhook(t, nil)
	payload := []byte(`{"id":"evt_1"}`)

	mac := hmac.New(sha256.New, []byte("whsec_123"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	ok, err := f.svc.VerifySignature(ctx, w.ID.String(), payload, signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifySignature(ctx, w.ID.String(), payload, "sha256="+signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifySignature(ctx, w.ID.String(), []byte(`{"id":"evt_2"}`), signature)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := ""
	_, err = f.svc.UpdateWebhook(ctx, w.ID.String(), domain.UpdateWebhookRequest{Secret: &empty})
	require.NoError(t, err)
	_, err = f.svc.VerifySignature(ctx, w.ID.String(), payload, signature)
	assert.ErrorIs(t, err, domain.ErrSecretMissing)
}

func TestSecretRequiresKey(t *testing.T) {
	s, err := newSealer("")
	require.NoError(t, err)
	_, err = s.seal("x")
	assert.ErrorIs(t, err, domain.ErrEncryptionKeyMissing)

	s, err = newSealer("k")
	require.NoError(t, err)
	sealed, err := s.seal("whsec")
	require.NoError(t, err)
	plain, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec", plain)

	other, err := newSealer("other")
	require.NoError(t, err)
	_, err = other.open(sealed)
	assert.Error(t, err)
}

func TestLoweringMaxRetriesClampsRetryCount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := f.webhook(t, nil)

	for range 2 {
		_, err := f.svc.RecordTrigger(ctx, w.ID.String(), false, strPtr("timeout"))
		require.NoError(t, err)
	}

	one := 1
	updated, err := f.svc.UpdateWebhook(ctx, w.ID.String(), domain.UpdateWebhookRequest{MaxRetries: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.MaxRetries)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, domain.StateExhausted, updated.State())
	assert.False(t, updated.NeedsRetry())

	stored, err := f.svc.GetWebhook(ctx, w.ID.String())
	require.NoError(t, err)
	assert.LessOrEqual(t, stored.RetryCount, stored.MaxRetries)

	five := 5
	raised, err := f.svc.UpdateWebhook(ctx, w.ID.String(), domain.UpdateWebhookRequest{MaxRetries: &five})
	require.NoError(t, err)
	assert.Equal(t, 1, raised.RetryCount)
}

func TestUpdateListAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.webhook(t, nil)
	}

	_, err := f.svc.UpdateWebhook(ctx, "1", domain.UpdateWebhookRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	page, err := f.svc.ListWebhooks(ctx, domain.ListWebhooksRequest{ConfigID: f.configID})
	require.NoError(t, err)
	require.Len(t, page.Webhooks, 3)
	assert.False(t, page.HasMore)

	first, err := f.svc.ListWebhooks(ctx, domain.ListWebhooksRequest{})
	require.NoError(t, err)
	assert.Len(t, first.Webhooks, 3)

	small := domain.ListWebhooksRequest{}
	small.PageSize = 2
	firstPage, err := f.svc.ListWebhooks(ctx, small)
	require.NoError(t, err)
	require.Len(t, firstPage.Webhooks, 2)
	require.True(t, firstPage.HasMore)

	small.PageToken = firstPage.NextPageToken
	secondPage, err := f.svc.ListWebhooks(ctx, small)
	require.NoError(t, err)
	require.Len(t, secondPage.Webhooks, 1)
	assert.False(t, secondPage.HasMore)
	assert.Equal(t, page.Webhooks[2].ID, secondPage.Webhooks[0].ID)

	target := page.Webhooks[0].ID.String()
	newURL := "https://merchant.example.com/v2/hooks"
	five := 5
	updated, err := f.svc.UpdateWebhook(ctx, target, domain.UpdateWebhookRequest{URL: &newURL, MaxRetries: &five})
	require.NoError(t, err)
	assert.Equal(t, newURL, updated.URL)
	assert.Equal(t, 5, updated.MaxRetries)
	assert.True(t, updated.HasSecret(), "secret kept when not patched")

	require.NoError(t, f.svc.DeleteWebhook(ctx, target))
	assert.ErrorIs(t, f.svc.DeleteWebhook(ctx, target), domain.ErrNotFound)
	_, err = f.svc.RecordTrigger(ctx, target, true, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
