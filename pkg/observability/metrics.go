package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the negotiation metrics recorder backed by the
// OpenTelemetry prometheus exporter. The exporter registers with the
// prometheus default registerer; Handler serves it. Disabled metrics
// return a zero-value recorder whose methods no-op.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter(cfg.Namespace)

	negotiationsStarted, err := meter.Int64Counter(
		cfg.Namespace+"_negotiations_started_total",
		metric.WithDescription("Total negotiations started"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiations started counter: %w", err)
	}

	negotiationsEnded, err := meter.Int64Counter(
		cfg.Namespace+"_negotiations_ended_total",
		metric.WithDescription("Total negotiations reaching a terminal state, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiations ended counter: %w", err)
	}

	negotiationDuration, err := meter.Float64Histogram(
		cfg.Namespace+"_negotiation_duration_seconds",
		metric.WithDescription("Negotiation wall time from start to terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiation duration histogram: %w", err)
	}

	offersReceived, err := meter.Int64Counter(
		cfg.Namespace+"_offers_received_total",
		metric.WithDescription("Total offers received at the barrier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create offers counter: %w", err)
	}

	centerRounds, err := meter.Int64Counter(
		cfg.Namespace+"_center_rounds_total",
		metric.WithDescription("Total center loop rounds consumed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create center rounds counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		cfg.Namespace+"_tool_dispatch_duration_seconds",
		metric.WithDescription("Tool handler dispatch duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolDispatches, err := meter.Int64Counter(
		cfg.Namespace+"_tool_dispatches_total",
		metric.WithDescription("Total tool handler dispatches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool dispatches counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		cfg.Namespace+"_tool_errors_total",
		metric.WithDescription("Total tool handler errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	phaseDuration, err := meter.Float64Histogram(
		cfg.Namespace+"_phase_duration_seconds",
		metric.WithDescription("Negotiation phase duration in seconds, by phase"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create phase duration histogram: %w", err)
	}

	eventPushFailures, err := meter.Int64Counter(
		cfg.Namespace+"_event_push_failures_total",
		metric.WithDescription("Total events dropped or failed on push"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event push failures counter: %w", err)
	}

	return NewPrometheusMetrics(
		negotiationsStarted,
		negotiationsEnded,
		negotiationDuration,
		offersReceived,
		centerRounds,
		toolDuration,
		toolDispatches,
		toolErrors,
		phaseDuration,
		eventPushFailures,
	), nil
}

// MetricsHandler returns the prometheus scrape handler backed by the
// default registerer the otel exporter registered with.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
