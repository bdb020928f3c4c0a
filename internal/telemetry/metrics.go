package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for alertd metrics.
const meterName = "github.com/gifmada/alertd"

// Metrics holds the instruments shared by the relay, the broadcast engine
// and the connection lifecycle. OTel instruments are safe for concurrent
// use; with no MeterProvider configured they are noops.
type Metrics struct {
	alertsAttempted metric.Int64Counter
	alertsDelivered metric.Int64Counter
	broadcasts      metric.Int64Counter
	relayOutcomes   metric.Int64Counter
	admissions      metric.Int64Counter

	meter metric.Meter
}

// New returns metrics recorded on the global MeterProvider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter allows injecting a specific meter, e.g. a noop one in tests.
func NewWithMeter(meter metric.Meter) *Metrics {
	// On error the API hands back noop instruments, so errors are dropped.
	m := &Metrics{meter: meter}
	m.alertsAttempted, _ = meter.Int64Counter("alertd.alert.attempted",
		metric.WithDescription("Alert deliveries attempted"),
		metric.WithUnit("{delivery}"))
	m.alertsDelivered, _ = meter.Int64Counter("alertd.alert.delivered",
		metric.WithDescription("Alert deliveries handed to a live connection"),
		metric.WithUnit("{delivery}"))
	m.broadcasts, _ = meter.Int64Counter("alertd.alert.broadcasts",
		metric.WithDescription("Alert broadcasts run"),
		metric.WithUnit("{broadcast}"))
	m.relayOutcomes, _ = meter.Int64Counter("alertd.relay.messages",
		metric.WithDescription("Relayed signaling messages by outcome"),
		metric.WithUnit("{message}"))
	m.admissions, _ = meter.Int64Counter("alertd.connections.admissions",
		metric.WithDescription("Realtime admission attempts by result"),
		metric.WithUnit("{attempt}"))
	return m
}

func (m *Metrics) RecordBroadcast(ctx context.Context, attempted, delivered int) {
	m.broadcasts.Add(ctx, 1)
	m.alertsAttempted.Add(ctx, int64(attempted))
	m.alertsDelivered.Add(ctx, int64(delivered))
}

func (m *Metrics) RecordRelay(ctx context.Context, outcome string) {
	m.relayOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ObservePresence reports the registered connections per role on every
// collection. counts is called from the exporter's goroutine.
func (m *Metrics) ObservePresence(counts func() map[string]int) error {
	_, err := m.meter.Int64ObservableGauge("alertd.connections.active",
		metric.WithDescription("Registered realtime connections"),
		metric.WithUnit("{connection}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for role, n := range counts() {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("role", role)))
			}
			return nil
		}))
	return err
}

func (m *Metrics) RecordAdmission(ctx context.Context, result string) {
	m.admissions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
