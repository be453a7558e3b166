package observability

import (
	"testing"

	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func TestConfigConversions(t *testing.T) {
	cfg := Config{
		ServiceName:          "payrouter",
		Environment:          "production",
		Version:              "1.2.0",
		LogLevel:             "debug",
		LogFormat:            "json",
		OtelEnabled:          true,
		OtelExporterEndpoint: "collector:4317",
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.5,
	}

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, "debug", logCfg.Level)
	assert.True(t, logCfg.IncludeStackOnError, "debug level keeps stacks")

	traceCfg := cfg.TracingConfig()
	assert.True(t, traceCfg.Enabled)
	assert.Equal(t, "1.2.0", traceCfg.ServiceVersion)
	assert.Equal(t, 0.5, traceCfg.SamplingRatio)

	metricCfg := cfg.MetricsConfig()
	assert.Equal(t, "collector:4317", metricCfg.ExporterEndpoint)
	assert.Equal(t, "production", metricCfg.Environment)
}

func TestModuleResolvesWithExportDisabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")

	var (
		log       *zap.Logger
		engine    *metrics.Metrics
		scheduler *metrics.SchedulerMetrics
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(config.Config{AppName: "payrouter", Environment: "test"}),
		Module,
		fx.Populate(&log, &engine, &scheduler),
	)

	require.NoError(t, app.Err())
	assert.NotNil(t, log)
	assert.NotNil(t, engine)
	assert.NotNil(t, scheduler)
}
