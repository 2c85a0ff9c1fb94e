package observability

import (
	"context"
	"time"
)

// NoopMetrics is a Metrics implementation that does nothing. Useful in
// tests and as an explicit stand-in when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordNegotiationStarted(_ context.Context)                          {}
func (NoopMetrics) RecordNegotiationEnded(_ context.Context, _ string, _ time.Duration) {}
func (NoopMetrics) RecordOfferReceived(_ context.Context)                               {}
func (NoopMetrics) RecordCenterRound(_ context.Context)                                 {}
func (NoopMetrics) RecordToolExecution(_ context.Context, _ string, _ time.Duration, _ error) {
}
func (NoopMetrics) RecordPhase(_ context.Context, _ string, _ time.Duration) {}
func (NoopMetrics) RecordEventPushFailure(_ context.Context)                 {}

var (
	_ Metrics = NoopMetrics{}
	_ Metrics = (*PrometheusMetrics)(nil)
)
