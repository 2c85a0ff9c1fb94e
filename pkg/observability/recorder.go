package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records negotiation engine counters and histograms. The
// engine calls it from the coordinator; implementations must be safe
// for concurrent use.
type Metrics interface {
	RecordNegotiationStarted(ctx context.Context)
	RecordNegotiationEnded(ctx context.Context, status string, duration time.Duration)
	RecordOfferReceived(ctx context.Context)
	RecordCenterRound(ctx context.Context)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordPhase(ctx context.Context, phase string, duration time.Duration)
	RecordEventPushFailure(ctx context.Context)
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments. A
// zero value is a valid recorder whose methods no-op.
type PrometheusMetrics struct {
	negotiationsStarted metric.Int64Counter
	negotiationsEnded   metric.Int64Counter
	negotiationDuration metric.Float64Histogram

	offersReceived metric.Int64Counter
	centerRounds   metric.Int64Counter

	toolDuration   metric.Float64Histogram
	toolDispatches metric.Int64Counter
	toolErrors     metric.Int64Counter

	phaseDuration     metric.Float64Histogram
	eventPushFailures metric.Int64Counter
}

func NewPrometheusMetrics(
	negotiationsStarted metric.Int64Counter,
	negotiationsEnded metric.Int64Counter,
	negotiationDuration metric.Float64Histogram,
	offersReceived metric.Int64Counter,
	centerRounds metric.Int64Counter,
	toolDuration metric.Float64Histogram,
	toolDispatches metric.Int64Counter,
	toolErrors metric.Int64Counter,
	phaseDuration metric.Float64Histogram,
	eventPushFailures metric.Int64Counter,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		negotiationsStarted: negotiationsStarted,
		negotiationsEnded:   negotiationsEnded,
		negotiationDuration: negotiationDuration,
		offersReceived:      offersReceived,
		centerRounds:        centerRounds,
		toolDuration:        toolDuration,
		toolDispatches:      toolDispatches,
		toolErrors:          toolErrors,
		phaseDuration:       phaseDuration,
		eventPushFailures:   eventPushFailures,
	}
}

func (m *PrometheusMetrics) RecordNegotiationStarted(ctx context.Context) {
	if m == nil || m.negotiationsStarted == nil {
		return
	}
	m.negotiationsStarted.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordNegotiationEnded(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.negotiationsEnded == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}

	m.negotiationsEnded.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.negotiationDuration != nil {
		m.negotiationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordOfferReceived(ctx context.Context) {
	if m == nil || m.offersReceived == nil {
		return
	}
	m.offersReceived.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordCenterRound(ctx context.Context) {
	if m == nil || m.centerRounds == nil {
		return
	}
	m.centerRounds.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolDispatches == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrors != nil {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}

	m.phaseDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase),
	))
}

func (m *PrometheusMetrics) RecordEventPushFailure(ctx context.Context) {
	if m == nil || m.eventPushFailures == nil {
		return
	}
	m.eventPushFailures.Add(ctx, 1)
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, or nil when none is
// set. Callers must nil-check.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
