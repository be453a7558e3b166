package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrouter/internal/analytics"
	"github.com/smallbiznis/payrouter/internal/cache"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/dbtest"
	"github.com/smallbiznis/payrouter/internal/delivery"
	"github.com/smallbiznis/payrouter/internal/observability"
	"github.com/smallbiznis/payrouter/internal/provider"
	"github.com/smallbiznis/payrouter/internal/ratelimit"
	"github.com/smallbiznis/payrouter/internal/routing"
	"github.com/smallbiznis/payrouter/internal/scheduler"
	"github.com/smallbiznis/payrouter/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type testEnv struct {
	engine    *gin.Engine
	clock     *clock.FakeClock
	scheduler *scheduler.Scheduler
}

// startEnv assembles the real services over an in-memory store. Redis and
// the metric exporters stay disabled.
func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("ENGINE_CONFIG_PATH", t.TempDir())
	t.Setenv("WEBHOOK_SECRET_KEY", "e2e-master-key")

	env := &testEnv{clock: clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))}

	app := fxtest.New(t,
		config.Module,
		fx.Supply(zap.NewNop()),
		fx.Provide(observability.LoadConfig),
		fx.Supply(dbtest.Open(t)),
		fx.Supply(dbtest.Node(t)),
		fx.Supply(fx.Annotate(env.clock, fx.As(new(clock.Clock)))),
		cache.Module,
		condition.Module,
		provider.Module,
		routing.Module,
		delivery.Module,
		analytics.Module,
		ratelimit.Module,
		fx.Provide(scheduler.NewRetryPublisher),
		fx.Provide(scheduler.New),
		fx.Provide(server.NewEngine),
		fx.Invoke(server.NewServer),
		fx.Populate(&env.engine, &env.scheduler),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return env
}

func (e *testEnv) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type idResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type decisionResponse struct {
	Data struct {
		Outcome  string `json:"outcome"`
		Reason   string `json:"reason"`
		Provider *struct {
			ProviderName string `json:"provider_name"`
		} `json:"provider"`
	} `json:"data"`
}

func (e *testEnv) createProvider(t *testing.T, name string, priority int, currencies []string) string {
	t.Helper()
	var resp idResponse
	code := e.call(t, http.MethodPost, "/api/providers", map[string]any{
		"provider_name":        name,
		"display_name":         name,
		"priority":             priority,
		"supported_currencies": currencies,
		"health_status":        "healthy",
	}, &resp)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, resp.Data.ID)
	return resp.Data.ID
}

func (e *testEnv) selectProvider(t *testing.T, tx map[string]any) decisionResponse {
	t.Helper()
	var resp decisionResponse
	require.Equal(t, http.StatusOK, e.call(t, http.MethodPost, "/api/routing/select", tx, &resp))
	return resp
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)

	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/health", nil, nil))
}

func TestE2E_RoutingWithFallback(t *testing.T) {
	env := startEnv(t)

	stripeID := env.createProvider(t, "Stripe", 90, []string{"usd", "eur"})
	paypalID := env.createProvider(t, "PayPal", 50, nil)

	decision := env.selectProvider(t, map[string]any{"amount": 10, "currency": "EUR"})
	assert.Equal(t, "routed", decision.Data.Outcome)
	assert.Equal(t, "priority_fallback", decision.Data.Reason)
	require.NotNil(t, decision.Data.Provider)
	assert.Equal(t, "stripe", decision.Data.Provider.ProviderName)

	var rule idResponse
	code := env.call(t, http.MethodPost, "/api/routing/rules", map[string]any{
		"name":                 "large eur to paypal",
		"priority":             10,
		"target_provider_id":   paypalID,
		"fallback_provider_id": stripeID,
		"conditions": []map[string]any{
			{"field": "currency", "operator": "eq", "value": "EUR"},
			{"field": "amount", "operator": "gte", "value": 500},
		},
	}, &rule)
	require.Equal(t, http.StatusCreated, code)

	decision = env.selectProvider(t, map[string]any{"amount": 750, "currency": "EUR"})
	assert.Equal(t, "rule_match", decision.Data.Reason)
	assert.Equal(t, "paypal", decision.Data.Provider.ProviderName)

	code = env.call(t, http.MethodPut, "/api/providers/"+paypalID+"/health", map[string]any{"health_status": "unhealthy"}, nil)
	require.Equal(t, http.StatusOK, code)

	decision = env.selectProvider(t, map[string]any{"amount": 750, "currency": "EUR"})
	assert.Equal(t, "rule_fallback", decision.Data.Reason)
	assert.Equal(t, "stripe", decision.Data.Provider.ProviderName)

	code = env.call(t, http.MethodPost, "/api/providers/"+stripeID+"/deactivate", nil, nil)
	require.Equal(t, http.StatusOK, code)

	decision = env.selectProvider(t, map[string]any{"amount": 750, "currency": "EUR"})
	assert.Equal(t, "no_provider_available", decision.Data.Outcome)
	assert.Nil(t, decision.Data.Provider)
}

func TestE2E_RejectsDuplicateProvider(t *testing.T) {
	env := startEnv(t)
	env.createProvider(t, "Stripe", 90, nil)

	code := env.call(t, http.MethodPost, "/api/providers", map[string]any{
		"provider_name": "stripe",
		"display_name":  "Stripe again",
	}, nil)

	assert.Equal(t, http.StatusConflict, code)
}

func TestE2E_WebhookRetryLifecycle(t *testing.T) {
	env := startEnv(t)
	providerID := env.createProvider(t, "Adyen", 70, nil)

	var created struct {
		Data struct {
			ID         string `json:"id"`
			State      string `json:"state"`
			HasSecret  bool   `json:"has_secret"`
			MaxRetries int    `json:"max_retries"`
		} `json:"data"`
	}
	code := env.call(t, http.MethodPost, "/api/webhooks", map[string]any{
		"config_id":    providerID,
		"webhook_type": "payment",
		"event_type":   "charge.succeeded",
		"url":          "https://hooks.example.com/adyen",
		"secret":       "whsec_123",
		"max_retries":  2,
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "fresh", created.Data.State)
	assert.True(t, created.Data.HasSecret)
	webhookID := created.Data.ID

	var view struct {
		Data struct {
			State      string `json:"state"`
			RetryCount int    `json:"retry_count"`
			NeedsRetry bool   `json:"needs_retry"`
		} `json:"data"`
	}
	code = env.call(t, http.MethodPost, "/api/webhooks/"+webhookID+"/trigger", map[string]any{
		"success":        false,
		"failure_reason": "timeout",
	}, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "retrying", view.Data.State)
	assert.Equal(t, 1, view.Data.RetryCount)
	assert.True(t, view.Data.NeedsRetry)

	var due struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/webhooks/due", nil, &due))
	assert.Empty(t, due.Data)

	env.clock.Advance(10 * time.Minute)
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/webhooks/due", nil, &due))
	require.Len(t, due.Data, 1)
	assert.Equal(t, webhookID, due.Data[0].ID)
	require.NoError(t, env.scheduler.RunJob(context.Background(), scheduler.JobRetrySweep))

	code = env.call(t, http.MethodPost, "/api/webhooks/"+webhookID+"/trigger", map[string]any{
		"success": false,
	}, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "exhausted", view.Data.State)
	assert.Equal(t, 2, view.Data.RetryCount)

	code = env.call(t, http.MethodPost, "/api/webhooks/"+webhookID+"/reset", nil, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, view.Data.RetryCount)
}

func TestE2E_AnalyticsViews(t *testing.T) {
	env := startEnv(t)

	for i := range 10 {
		status := "success"
		body := map[string]any{
			"transaction_id":   fmt.Sprintf("tx_%d", i),
			"provider_name":    "Stripe",
			"amount":           100,
			"status":           status,
			"response_time_ms": 100 + i*10,
		}
		if i >= 8 {
			body["status"] = "failed"
			body["error_code"] = "card_declined"
		}
		require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/api/analytics/events", body, nil))
	}

	var rates struct {
		Data []struct {
			ProviderName string  `json:"provider_name"`
			TotalCount   int64   `json:"total_count"`
			SuccessRate  float64 `json:"success_rate"`
		} `json:"data"`
	}
	code := env.call(t, http.MethodGet, "/api/analytics/success-rates?provider_name=stripe", nil, &rates)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, rates.Data, 1)
	assert.Equal(t, "stripe", rates.Data[0].ProviderName)
	assert.EqualValues(t, 10, rates.Data[0].TotalCount)
	assert.Equal(t, 80.0, rates.Data[0].SuccessRate)

	var errs struct {
		Data []struct {
			ErrorCode  *string `json:"error_code"`
			ErrorCount int64   `json:"error_count"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/analytics/errors", nil, &errs))
	require.Len(t, errs.Data, 1)
	require.NotNil(t, errs.Data[0].ErrorCode)
	assert.Equal(t, "card_declined", *errs.Data[0].ErrorCode)
	assert.EqualValues(t, 2, errs.Data[0].ErrorCount)

	code = env.call(t, http.MethodGet, "/api/analytics/volume?period=quarter", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
