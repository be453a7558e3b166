package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes engine-level instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	routingDecisions  metric.Int64Counter
	routingDuration   metric.Float64Histogram
	conditionErrors   metric.Int64Counter
	webhookTriggers   metric.Int64Counter
	analyticsEvents   metric.Int64Counter
	analyticsDeletion metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the engine instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payrouter"
	}
	meter := provider.Meter(name)

	routingDecisions, err := meter.Int64Counter("payrouter_routing_decisions_total")
	if err != nil {
		return nil, err
	}
	routingDuration, err := meter.Float64Histogram("payrouter_routing_decision_duration_ms",
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	conditionErrors, err := meter.Int64Counter("payrouter_condition_config_errors_total")
	if err != nil {
		return nil, err
	}
	webhookTriggers, err := meter.Int64Counter("payrouter_webhook_triggers_total")
	if err != nil {
		return nil, err
	}
	analyticsEvents, err := meter.Int64Counter("payrouter_analytics_events_total")
	if err != nil {
		return nil, err
	}
	analyticsDeletion, err := meter.Int64Counter("payrouter_analytics_events_pruned_total")
	if err != nil {
		return nil, err
	}

	rateLimitDenied, err := meter.Int64Counter("payrouter_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		routingDecisions:  routingDecisions,
		routingDuration:   routingDuration,
		conditionErrors:   conditionErrors,
		webhookTriggers:   webhookTriggers,
		analyticsEvents:   analyticsEvents,
		analyticsDeletion: analyticsDeletion,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordRoutingDecision counts a routing outcome and its latency.
func (m *Metrics) RecordRoutingDecision(ctx context.Context, outcome, provider, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.routingDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.routingDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordConditionError(ctx context.Context, operator, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operator", strings.TrimSpace(operator)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.conditionErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookTrigger(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.webhookTriggers.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("result", result))...))
}

func (m *Metrics) RecordAnalyticsEvent(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.analyticsEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAnalyticsPruned(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.analyticsDeletion.Add(ctx, count)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider": {},
	"outcome":  {},
	"reason":   {},
	"status":   {},
	"result":   {},
	"operator": {},
	"endpoint": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
