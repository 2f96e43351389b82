package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cowork"

// Metrics holds the gate's metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions         metric.Int64Counter
	approvalsResolved metric.Int64Counter
	auditWritten      metric.Int64Counter
	auditDropped      metric.Int64Counter
	auditSpooled      metric.Int64Counter
	checkDuration     metric.Float64Histogram
}

// NewMetrics creates all instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates all instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.decisions, err = meter.Int64Counter("cowork.decisions",
		metric.WithDescription("Authorization decisions by verdict"))
	if err != nil {
		return nil, err
	}

	m.approvalsResolved, err = meter.Int64Counter("cowork.approvals.resolved",
		metric.WithDescription("Approvals moved to a terminal status"))
	if err != nil {
		return nil, err
	}

	m.auditWritten, err = meter.Int64Counter("cowork.audit.written",
		metric.WithDescription("Audit entries persisted"))
	if err != nil {
		return nil, err
	}

	m.auditDropped, err = meter.Int64Counter("cowork.audit.dropped",
		metric.WithDescription("Audit entries lost after queue overflow and spool failure"))
	if err != nil {
		return nil, err
	}

	m.auditSpooled, err = meter.Int64Counter("cowork.audit.spooled",
		metric.WithDescription("Audit entries diverted to the dead-letter spool"))
	if err != nil {
		return nil, err
	}

	m.checkDuration, err = meter.Float64Histogram("cowork.check.duration_ms",
		metric.WithDescription("CheckAction latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(ctx context.Context, verdict, source string, elapsedMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("verdict", verdict),
		attribute.String("policy.source", source),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.checkDuration.Record(ctx, elapsedMs, attrs)
}

// RecordApprovalResolved counts one approval resolution.
func (m *Metrics) RecordApprovalResolved(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.approvalsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAuditWritten counts persisted audit entries.
func (m *Metrics) RecordAuditWritten(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.auditWritten.Add(ctx, n)
}

// RecordAuditDropped counts lost audit entries.
func (m *Metrics) RecordAuditDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAuditSpooled counts entries written to the dead-letter spool.
func (m *Metrics) RecordAuditSpooled(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.auditSpooled.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
