package telemetry_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/gifmada/alertd/internal/telemetry"
)

func setupTestMeter() (*sdkmetric.ManualReader, *telemetry.Metrics) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, telemetry.NewWithMeter(mp.Meter("test"))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the counter value per value of the attribute key, with
// "" holding points that do not carry it.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "%s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s", name)
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestRecordBroadcast(t *testing.T) {
	reader, metrics := setupTestMeter()
	ctx := context.Background()

	metrics.RecordBroadcast(ctx, 3, 2)
	metrics.RecordBroadcast(ctx, 4, 4)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(7), sumByAttr(t, rm, "alertd.alert.attempted", "")[""])
	assert.Equal(t, int64(6), sumByAttr(t, rm, "alertd.alert.delivered", "")[""])
	assert.Equal(t, int64(2), sumByAttr(t, rm, "alertd.alert.broadcasts", "")[""])
}

func TestRecordRelayByOutcome(t *testing.T) {
	reader, metrics := setupTestMeter()
	ctx := context.Background()

	metrics.RecordRelay(ctx, "delivered")
	metrics.RecordRelay(ctx, "delivered")
	metrics.RecordRelay(ctx, "target_not_connected")
	metrics.RecordRelay(ctx, "dropped")

	got := sumByAttr(t, collectMetrics(t, reader), "alertd.relay.messages", "outcome")
	assert.Equal(t, map[string]int64{
		"delivered":            2,
		"target_not_connected": 1,
		"dropped":              1,
	}, got)
}

func TestRecordAdmissionByResult(t *testing.T) {
	reader, metrics := setupTestMeter()
	ctx := context.Background()

	metrics.RecordAdmission(ctx, "accepted")
	metrics.RecordAdmission(ctx, "rejected")
	metrics.RecordAdmission(ctx, "rejected")

	got := sumByAttr(t, collectMetrics(t, reader), "alertd.connections.admissions", "result")
	assert.Equal(t, map[string]int64{"accepted": 1, "rejected": 2}, got)
}

func TestObservePresence(t *testing.T) {
	reader, metrics := setupTestMeter()
	counts := map[string]int{"URBAN_SECURITY": 2, "CITIZEN": 1}
	require.NoError(t, metrics.ObservePresence(func() map[string]int { return counts }))

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "alertd.connections.active")
	require.NotNil(t, m)
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	got := make(map[string]int64)
	for _, dp := range gauge.DataPoints {
		v, _ := dp.Attributes.Value("role")
		got[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"URBAN_SECURITY": 2, "CITIZEN": 1}, got)
}

func TestPrometheusProviderServesRecordedValues(t *testing.T) {
	mp, handler, err := telemetry.NewPrometheusProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics := telemetry.NewWithMeter(mp.Meter("test"))
	metrics.RecordBroadcast(context.Background(), 5, 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "alertd_alert_attempted_total")
	assert.Contains(t, string(body), "alertd_alert_delivered_total")
}
