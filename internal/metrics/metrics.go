// Package metrics collects and exposes bridge observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (atomic counters) for the lightweight
//     JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordCall is invoked by the correlation engine on every JSON-RPC
// round trip and must be cheap: atomic increments only, no locks.
//
// # Invariants
//
//   - TotalCalls == SuccessCalls + FailedCalls; TimedOutCalls counts the
//     subset of FailedCalls that ended in a timeout.
//   - DeferredCalls counts calls that went through the confirmation ledger
//     instead of an immediate round trip; it is not part of TotalCalls
//     until the deferred call is eventually committed and replayed.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics collects and exposes bridge runtime metrics.
type Metrics struct {
	TotalCalls    atomic.Int64
	SuccessCalls  atomic.Int64
	FailedCalls   atomic.Int64
	TimedOutCalls atomic.Int64
	DeferredCalls atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	ServersStarted atomic.Int64
	ServersStopped atomic.Int64
	ServersCrashed atomic.Int64

	ConfirmationsIssued  atomic.Int64
	ConfirmationsCommit  atomic.Int64
	ConfirmationsAbandon atomic.Int64
	ConfirmationsExpired atomic.Int64

	startTime time.Time
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics subsystem was initialized.
func StartTime() time.Time { return global.startTime }

// RecordCall records the outcome of one correlation-engine call.
func (m *Metrics) RecordCall(server, method string, durationMs int64, outcome string) {
	m.TotalCalls.Add(1)
	switch outcome {
	case "success":
		m.SuccessCalls.Add(1)
	case "timeout":
		m.TimedOutCalls.Add(1)
		m.FailedCalls.Add(1)
	default:
		m.FailedCalls.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	RecordPrometheusCall(server, method, durationMs, outcome)
}

// RecordDeferred records a call that was routed through the confirmation
// ledger instead of executing immediately.
func (m *Metrics) RecordDeferred(server, method string) {
	m.DeferredCalls.Add(1)
	RecordPrometheusDeferred(server, method)
}

// RecordServerStarted records a successful supervisor Start.
func (m *Metrics) RecordServerStarted() {
	m.ServersStarted.Add(1)
	RecordPrometheusServerEvent("started")
}

// RecordServerStopped records an explicit supervisor Stop.
func (m *Metrics) RecordServerStopped() {
	m.ServersStopped.Add(1)
	RecordPrometheusServerEvent("stopped")
}

// RecordServerCrashed records a child exiting without an explicit Stop.
func (m *Metrics) RecordServerCrashed() {
	m.ServersCrashed.Add(1)
	RecordPrometheusServerEvent("crashed")
}

// RecordConfirmation records a confirmation ledger state transition.
// outcome is one of "issued", "committed", "abandoned", "expired".
func (m *Metrics) RecordConfirmation(outcome string) {
	switch outcome {
	case "issued":
		m.ConfirmationsIssued.Add(1)
	case "committed":
		m.ConfirmationsCommit.Add(1)
	case "abandoned":
		m.ConfirmationsAbandon.Add(1)
	case "expired":
		m.ConfirmationsExpired.Add(1)
	}
	RecordPrometheusConfirmation(outcome)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalCalls.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"calls": map[string]interface{}{
			"total":    total,
			"success":  m.SuccessCalls.Load(),
			"failed":   m.FailedCalls.Load(),
			"timeout":  m.TimedOutCalls.Load(),
			"deferred": m.DeferredCalls.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"servers": map[string]interface{}{
			"started": m.ServersStarted.Load(),
			"stopped": m.ServersStopped.Load(),
			"crashed": m.ServersCrashed.Load(),
		},
		"confirmations": map[string]interface{}{
			"issued":    m.ConfirmationsIssued.Load(),
			"committed": m.ConfirmationsCommit.Load(),
			"abandoned": m.ConfirmationsAbandon.Load(),
			"expired":   m.ConfirmationsExpired.Load(),
		},
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
