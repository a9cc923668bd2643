package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for bridge metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	callsTotal        *prometheus.CounterVec
	deferredTotal     *prometheus.CounterVec
	serverEventsTotal *prometheus.CounterVec
	confirmationTotal *prometheus.CounterVec

	callDuration *prometheus.HistogramVec

	uptime        prometheus.GaugeFunc
	activeServers prometheus.Gauge
	activeCalls   prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of correlation-engine calls to children",
			},
			[]string{"server", "method", "outcome"},
		),

		deferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deferred_calls_total",
				Help:      "Total tool calls routed through the confirmation ledger",
			},
			[]string{"server", "method"},
		),

		serverEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_events_total",
				Help:      "Supervisor lifecycle events (started, stopped, crashed)",
			},
			[]string{"event"},
		),

		confirmationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "confirmations_total",
				Help:      "Confirmation ledger state transitions",
			},
			[]string{"outcome"},
		),

		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_milliseconds",
				Help:      "Duration of correlation-engine calls in milliseconds",
				Buckets:   buckets,
			},
			[]string{"server", "method"},
		),

		activeServers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_servers",
				Help:      "Number of children currently registered",
			},
		),

		activeCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_calls",
				Help:      "Number of outstanding requests awaiting a reply",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the bridge process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.callsTotal,
		pm.deferredTotal,
		pm.serverEventsTotal,
		pm.confirmationTotal,
		pm.callDuration,
		pm.uptime,
		pm.activeServers,
		pm.activeCalls,
	)

	promMetrics = pm
}

// RecordPrometheusCall records a completed correlation-engine call.
func RecordPrometheusCall(server, method string, durationMs int64, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.callsTotal.WithLabelValues(server, method, outcome).Inc()
	promMetrics.callDuration.WithLabelValues(server, method).Observe(float64(durationMs))
}

// RecordPrometheusDeferred records a call deferred to the confirmation ledger.
func RecordPrometheusDeferred(server, method string) {
	if promMetrics == nil {
		return
	}
	promMetrics.deferredTotal.WithLabelValues(server, method).Inc()
}

// RecordPrometheusServerEvent records a supervisor lifecycle event.
func RecordPrometheusServerEvent(event string) {
	if promMetrics == nil {
		return
	}
	promMetrics.serverEventsTotal.WithLabelValues(event).Inc()
}

// RecordPrometheusConfirmation records a confirmation ledger transition.
func RecordPrometheusConfirmation(outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.confirmationTotal.WithLabelValues(outcome).Inc()
}

// SetActiveServers sets the active-server gauge.
func SetActiveServers(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeServers.Set(float64(count))
}

// IncActiveCalls increments the outstanding-request gauge.
func IncActiveCalls() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeCalls.Inc()
}

// DecActiveCalls decrements the outstanding-request gauge.
func DecActiveCalls() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeCalls.Dec()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
