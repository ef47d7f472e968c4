package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestBridgeMetricsRecordsConnectionsAndRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithView(histogramViews()...))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := NewBridgeMetrics(mp.Meter("test"), "test", "fake")
	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.RequestCompleted(ctx, "instrumentListRequest", OutcomeResults, 3, 12*time.Millisecond)

	data := collect(t, reader)

	accepted, ok := data[MetricConnectionsAccepted].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, accepted.DataPoints, 1)
	require.Equal(t, int64(2), accepted.DataPoints[0].Value)

	active, ok := data[MetricConnectionsActive].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(1), active.DataPoints[0].Value)

	completed, ok := data[MetricRequestsCompleted].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, completed.DataPoints, 1)
	outcome, found := completed.DataPoints[0].Attributes.Value(AttrOutcome)
	require.True(t, found)
	require.Equal(t, OutcomeResults, outcome.AsString())

	duration, ok := data[MetricRequestDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Equal(t, uint64(1), duration.DataPoints[0].Count)
	require.InDelta(t, 12.0, duration.DataPoints[0].Sum, 0.001)
	require.Equal(t, []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}, duration.DataPoints[0].Bounds)
}

func TestNilBridgeMetricsIsNoop(t *testing.T) {
	var m *BridgeMetrics
	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.RequestCompleted(ctx, "", OutcomeError, 0, time.Second)
}

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "STAGING"})
	require.NoError(t, err)
	require.NotNil(t, p.Meter("secsearch"))
	require.Equal(t, "staging", p.Environment())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
