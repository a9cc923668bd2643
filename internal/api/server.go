package api

import (
	"net/http"

	"mcp-bridge/internal/confirmation"
	"mcp-bridge/internal/correlation"
	"mcp-bridge/internal/logging"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/observability"
	"mcp-bridge/internal/registry"
)

// ServerConfig contains the dependencies for the bridge's HTTP server.
type ServerConfig struct {
	Registry *registry.Registry
	Engine   *correlation.Engine
	Ledger   *confirmation.Ledger
}

// StartHTTPServer builds the bridge's mux, wraps it with the tracing
// middleware, and attaches the /metrics JSON and Prometheus endpoints.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := New(cfg.Registry, cfg.Engine, cfg.Ledger)
	h.RegisterRoutes(mux)

	mux.Handle("GET /metrics", metrics.Global().JSONHandler())
	mux.Handle("GET /metrics/prometheus", metrics.PrometheusHandler())

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler, func(serverID string) (int, bool) {
		rec, err := cfg.Registry.Lookup(serverID)
		if err != nil {
			return 0, false
		}
		return int(rec.EffRisk), true
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
