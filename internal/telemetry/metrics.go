package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricConnectionsAccepted = "bridge.connections.accepted"
	MetricConnectionsActive   = "bridge.connections.active"
	MetricRequestsCompleted   = "bridge.requests.completed"
	MetricResultsReturned     = "bridge.results.returned"
	MetricRequestDuration     = "bridge.request.duration"
)

// BridgeMetrics records connection and request instruments. A nil receiver records nothing.
type BridgeMetrics struct {
	environment string
	backend     string

	accepted  metric.Int64Counter
	active    metric.Int64UpDownCounter
	completed metric.Int64Counter
	results   metric.Int64Histogram
	duration  metric.Float64Histogram
}

// NewBridgeMetrics registers the bridge instruments on meter.
func NewBridgeMetrics(meter metric.Meter, environment, backendKind string) *BridgeMetrics {
	m := &BridgeMetrics{
		environment: environment,
		backend:     backendKind,
		accepted:    nil,
		active:      nil,
		completed:   nil,
		results:     nil,
		duration:    nil,
	}

	m.accepted, _ = meter.Int64Counter(MetricConnectionsAccepted,
		metric.WithDescription("Client connections accepted by the listener"),
		metric.WithUnit("{connection}"))

	m.active, _ = meter.Int64UpDownCounter(MetricConnectionsActive,
		metric.WithDescription("Client connections currently being served"),
		metric.WithUnit("{connection}"))

	m.completed, _ = meter.Int64Counter(MetricRequestsCompleted,
		metric.WithDescription("Client requests completed, by outcome"),
		metric.WithUnit("{request}"))

	m.results, _ = meter.Int64Histogram(MetricResultsReturned,
		metric.WithDescription("Result records returned per request"),
		metric.WithUnit("{result}"))

	m.duration, _ = meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("Time from accept to connection close"),
		metric.WithUnit("ms"))

	return m
}

// ConnectionOpened records an accepted connection entering service.
func (m *BridgeMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil || m.accepted == nil {
		return
	}
	attrs := metric.WithAttributes(ConnectionAttributes(m.environment, m.backend)...)
	m.accepted.Add(ctx, 1, attrs)
	m.active.Add(ctx, 1, attrs)
}

// ConnectionClosed records a connection leaving service.
func (m *BridgeMetrics) ConnectionClosed(ctx context.Context) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Add(ctx, -1, metric.WithAttributes(ConnectionAttributes(m.environment, m.backend)...))
}

// RequestCompleted records the outcome of one request.
func (m *BridgeMetrics) RequestCompleted(ctx context.Context, requestType, outcome string, results int, elapsed time.Duration) {
	if m == nil || m.completed == nil {
		return
	}
	attrs := metric.WithAttributes(RequestAttributes(m.environment, m.backend, requestType, outcome)...)
	m.completed.Add(ctx, 1, attrs)
	m.results.Record(ctx, int64(results), attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
