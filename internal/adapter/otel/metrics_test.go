package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()

	m.RecordTenantResolution(ctx, "hit")
	m.RecordTenantResolution(ctx, "hit")
	m.RecordTenantResolution(ctx, "miss")
	m.RecordIsolationViolation(ctx, "users")
	m.RecordAuth(ctx, "login", "ok")
	m.RecordConnection(ctx, "acme", 1)
	m.RecordConnection(ctx, "acme", 1)
	m.RecordConnection(ctx, "acme", -1)

	data := collect(t, reader)

	res, ok := data["fixapp.tenant.resolutions"].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("resolutions missing: %#v", data)
	}
	byOutcome := map[string]int64{}
	for _, dp := range res.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	if byOutcome["hit"] != 2 || byOutcome["miss"] != 1 {
		t.Errorf("resolutions = %v", byOutcome)
	}

	conns, ok := data["fixapp.realtime.connections"].(metricdata.Sum[int64])
	if !ok || len(conns.DataPoints) != 1 || conns.DataPoints[0].Value != 1 {
		t.Errorf("connections = %#v", data["fixapp.realtime.connections"])
	}
	if _, ok := data["fixapp.isolation.violations"]; !ok {
		t.Error("violations missing")
	}
	if _, ok := data["fixapp.auth.outcomes"]; !ok {
		t.Error("auth outcomes missing")
	}
}
