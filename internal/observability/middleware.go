package observability

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// RiskLookup resolves a registered server's effective risk level for span
// tagging. ok is false when the server named by the request path is
// unknown. It is supplied by the HTTP layer's wiring to the supervisor
// registry so this package stays free of a registry dependency.
type RiskLookup func(serverID string) (level int, ok bool)

// HTTPMiddleware wraps an http.Handler with OpenTelemetry tracing: it
// extracts trace context from incoming request headers, starts one server
// span per request, and — once routing has filled in the request's path
// values — tags that span with the bridge's own domain attributes
// (AttrServerID, AttrMethod, AttrRiskLevel, AttrConfirmation) rather than
// only generic HTTP ones, so a trace viewer can filter the HTTP-level span
// by server or risk class the same way bridge.call spans already do.
// riskLookup may be nil, in which case AttrRiskLevel is never set.
func HTTPMiddleware(next http.Handler, riskLookup RiskLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.HTTPScheme(r.URL.Scheme),
				attribute.String("http.host", r.Host),
				attribute.String("http.user_agent", r.UserAgent()),
				AttrMethod.String(bridgeMethod(r)),
			),
		)
		defer span.End()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		routed := r.WithContext(ctx)
		next.ServeHTTP(rw, routed)

		// The mux fills in path values on routed as it dispatches; reading
		// them back here (after ServeHTTP returns) picks up whatever the
		// matched route bound, without this package needing its own
		// routing table.
		if id := routed.PathValue("id"); id != "" {
			span.SetAttributes(AttrServerID.String(id))
			if riskLookup != nil {
				if level, ok := riskLookup(id); ok {
					span.SetAttributes(AttrRiskLevel.Int(level))
				}
			}
		} else if handle := routed.PathValue("handle"); handle != "" {
			span.SetAttributes(AttrConfirmation.String(handle))
		}

		span.SetAttributes(
			semconv.HTTPStatusCode(rw.statusCode),
			attribute.Int64("http.response_size", rw.bytesWritten),
		)
		if rw.statusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// bridgeMethod maps an HTTP request onto the bridge-domain operation name
// it invokes, mirroring the route table in api.Handler.RegisterRoutes, so
// the HTTP server span's AttrMethod lines up with the same value the
// correlation engine tags its own bridge.call spans with.
func bridgeMethod(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/servers":
		if r.Method == http.MethodPost {
			return "servers/create"
		}
		return "servers/list"
	case path == "/health":
		return "health"
	case strings.HasPrefix(path, "/confirmations/"):
		return "confirmations/resolve"
	case strings.Contains(path, "/tools/"):
		return "tools/call"
	case strings.HasSuffix(path, "/tools"):
		return "tools/list"
	case strings.Contains(path, "/resources/"):
		return "resources/read"
	case strings.HasSuffix(path, "/resources"):
		return "resources/list"
	case strings.Contains(path, "/prompts/"):
		return "prompts/get"
	case strings.HasSuffix(path, "/prompts"):
		return "prompts/list"
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/servers/"):
		return "servers/delete"
	default:
		return r.Method + " " + path
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
