package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	"github.com/smallbiznis/payrouter/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and metrics. OTel export stays off unless
// OTEL_ENABLED is set; the Prometheus scheduler collectors are always
// registered because /metrics serves them.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.LoggerConfig,
		Config.TracingConfig,
		Config.MetricsConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Provide(defaultRegisterer, schedulerMetrics),
	// The tracer provider sets the global otel provider, so it has to be
	// built even though nothing asks for it by type.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func defaultRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func schedulerMetrics(registerer prometheus.Registerer, cfg metrics.Config) *metrics.SchedulerMetrics {
	return metrics.NewSchedulerMetricsWith(registerer, cfg)
}

func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
