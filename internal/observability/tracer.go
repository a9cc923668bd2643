package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for bridge spans
var (
	AttrServerID     = attribute.Key("bridge.server.id")
	AttrMethod       = attribute.Key("bridge.method")
	AttrRiskLevel    = attribute.Key("bridge.risk_level")
	AttrRequestID    = attribute.Key("bridge.request_id")
	AttrDurationMs   = attribute.Key("bridge.duration_ms")
	AttrConfirmation = attribute.Key("bridge.confirmation_id")
)
