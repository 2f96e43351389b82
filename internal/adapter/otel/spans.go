package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cowork"

// StartCheckSpan starts a span for one authorization check.
func StartCheckSpan(ctx context.Context, sessionID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "authorize.check",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("action.kind", kind),
		),
	)
}

// StartResolveSpan starts a span for policy resolution of a workspace.
func StartResolveSpan(ctx context.Context, workspaceRoot string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "policy.resolve",
		trace.WithAttributes(attribute.String("workspace.root", workspaceRoot)),
	)
}

// StartApprovalSpan starts a span for an approval resolution.
func StartApprovalSpan(ctx context.Context, approvalID, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.resolve",
		trace.WithAttributes(
			attribute.String("approval.id", approvalID),
			attribute.String("approval.status", status),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
