package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsFrom(mp)
	if err != nil {
		t.Fatalf("NewMetricsFrom: %v", err)
	}
	ctx := context.Background()

	m.RecordDecision(ctx, "allow", "default", 1.5)
	m.RecordDecision(ctx, "deny", "deny_all", 0.3)
	m.RecordApprovalResolved(ctx, "approved")
	m.RecordAuditSpooled(ctx, "queue_full")
	m.RecordAuditDropped(ctx, "spool_failed")
	m.RecordAuditWritten(ctx, 3)

	if got := collectSum(t, reader, "cowork.decisions"); got != 2 {
		t.Errorf("decisions = %d, want 2", got)
	}
	if got := collectSum(t, reader, "cowork.approvals.resolved"); got != 1 {
		t.Errorf("approvals.resolved = %d, want 1", got)
	}
	if got := collectSum(t, reader, "cowork.audit.spooled"); got != 1 {
		t.Errorf("audit.spooled = %d, want 1", got)
	}
	if got := collectSum(t, reader, "cowork.audit.dropped"); got != 1 {
		t.Errorf("audit.dropped = %d, want 1", got)
	}
	if got := collectSum(t, reader, "cowork.audit.written"); got != 3 {
		t.Errorf("audit.written = %d, want 3", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordDecision(ctx, "allow", "default", 1)
	m.RecordApprovalResolved(ctx, "approved")
	m.RecordAuditDropped(ctx, "x")
	m.RecordAuditSpooled(ctx, "x")
	m.RecordAuditWritten(ctx, 1)
}
