package observability

import (
	"context"
	"testing"
)

func TestGetTraceID_EmptyWithoutAnActiveSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Fatalf("expected empty trace id with no active span, got %q", got)
	}
	if got := GetSpanID(context.Background()); got != "" {
		t.Fatalf("expected empty span id with no active span, got %q", got)
	}
}

func TestInjectTraceContext_NoopWithoutTraceParent(t *testing.T) {
	ctx := context.Background()
	got := InjectTraceContext(ctx, TraceContext{})
	if got != ctx {
		t.Fatal("expected the original context back when traceparent is empty")
	}
}

func TestInit_DisabledProducesNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing to report disabled")
	}

	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()
	if GetTraceID(ctx) != "" {
		t.Fatalf("expected a no-op tracer to not produce a usable trace id")
	}
}

func TestExtractTraceContext_EmptyWhenDisabled(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("init: %v", err)
	}
	tc := ExtractTraceContext(context.Background())
	if tc.TraceParent != "" || tc.TraceState != "" {
		t.Fatalf("expected empty trace context while tracing disabled, got %+v", tc)
	}
}
