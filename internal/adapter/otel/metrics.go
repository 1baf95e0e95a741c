package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fixapp"

// Metrics holds the tenancy instruments. It satisfies the recorder
// interfaces of the directory, the isolation guard, the auth service and the
// realtime router.
type Metrics struct {
	resolutions metric.Int64Counter
	violations  metric.Int64Counter
	auth        metric.Int64Counter
	connections metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments on provider, or on the global
// provider when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	m.resolutions, err = meter.Int64Counter("fixapp.tenant.resolutions",
		metric.WithDescription("Tenant directory lookups by outcome"))
	if err != nil {
		return nil, err
	}

	m.violations, err = meter.Int64Counter("fixapp.isolation.violations",
		metric.WithDescription("Rows loaded that belong to another tenant"))
	if err != nil {
		return nil, err
	}

	m.auth, err = meter.Int64Counter("fixapp.auth.outcomes",
		metric.WithDescription("Authentication operations by outcome"))
	if err != nil {
		return nil, err
	}

	m.connections, err = meter.Int64UpDownCounter("fixapp.realtime.connections",
		metric.WithDescription("Open realtime connections"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordTenantResolution(ctx context.Context, outcome string) {
	m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordIsolationViolation(ctx context.Context, table string) {
	m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

func (m *Metrics) RecordAuth(ctx context.Context, operation, outcome string) {
	m.auth.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordConnection adjusts the open connection gauge. Tenant ids are not
// used as attributes to keep cardinality bounded.
func (m *Metrics) RecordConnection(ctx context.Context, _ string, delta int64) {
	m.connections.Add(ctx, delta)
}
