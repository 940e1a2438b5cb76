package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics bundles the venue adapter's instruments. A nil bundle is
// valid and records nothing, so components can run unmetered in tests.
type GatewayMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	rateLimited metric.Int64Counter
	remaining   metric.Int64Gauge
	penalty     metric.Int64Gauge
	reconnects  metric.Int64Counter
	messages    metric.Int64Counter
}

// NewGatewayMetrics registers the adapter instruments on the meter.
func NewGatewayMetrics(meter metric.Meter) (*GatewayMetrics, error) {
	requests, err := meter.Int64Counter("gateway.rest.requests",
		metric.WithDescription("REST requests by endpoint and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	duration, err := meter.Float64Histogram("gateway.rest.request.duration",
		metric.WithDescription("REST request round-trip duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	rateLimited, err := meter.Int64Counter("gateway.rest.rate_limited",
		metric.WithDescription("commands refused because the client-side quota was exhausted"))
	if err != nil {
		return nil, fmt.Errorf("create rate-limited counter: %w", err)
	}
	remaining, err := meter.Int64Gauge("gateway.ratelimit.remaining",
		metric.WithDescription("request quota remaining in the current window"))
	if err != nil {
		return nil, fmt.Errorf("create remaining gauge: %w", err)
	}
	penalty, err := meter.Int64Gauge("gateway.ratelimit.penalty_seconds",
		metric.WithDescription("seconds left in the venue-imposed cooldown"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create penalty gauge: %w", err)
	}
	reconnects, err := meter.Int64Counter("gateway.stream.reconnects",
		metric.WithDescription("stream sessions re-established after a drop"))
	if err != nil {
		return nil, fmt.Errorf("create reconnect counter: %w", err)
	}
	messages, err := meter.Int64Counter("gateway.stream.messages",
		metric.WithDescription("stream messages dispatched by topic"))
	if err != nil {
		return nil, fmt.Errorf("create message counter: %w", err)
	}

	return &GatewayMetrics{
		requests:    requests,
		duration:    duration,
		rateLimited: rateLimited,
		remaining:   remaining,
		penalty:     penalty,
		reconnects:  reconnects,
		messages:    messages,
	}, nil
}

// RecordRequest counts one REST round trip and its latency.
func (m *GatewayMetrics) RecordRequest(ctx context.Context, endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRateLimited counts one command refused by the quota gate.
func (m *GatewayMetrics) RecordRateLimited(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordQuota publishes the governor's current view.
func (m *GatewayMetrics) RecordQuota(ctx context.Context, remaining, penaltySeconds int) {
	if m == nil {
		return
	}
	m.remaining.Record(ctx, int64(remaining))
	m.penalty.Record(ctx, int64(penaltySeconds))
}

// RecordReconnect counts one stream session re-establishment.
func (m *GatewayMetrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// RecordStreamMessage counts one dispatched topic message.
func (m *GatewayMetrics) RecordStreamMessage(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
