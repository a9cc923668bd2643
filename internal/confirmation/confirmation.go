// Package confirmation implements the deferred-confirmation workflow: a
// server-side two-phase gate that suspends a flagged invocation, mints a
// confirmation handle, and requires a second client call to either commit
// or abandon it, with a bounded lifetime enforced lazily on lookup.
package confirmation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcp-bridge/internal/config"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/observability"
)

// TTL is the bound on a PendingInvocation's lifetime (§3, §4.6).
const TTL = 10 * time.Minute

// state is the confirmation ledger's state machine per the design notes:
// Pending -> (Committed | Abandoned | Expired), all non-Pending states
// terminal.
type state int

const (
	statePending state = iota
	stateCommitted
	stateAbandoned
	stateExpired
)

// pendingInvocation is one deferred call awaiting client confirmation.
type pendingInvocation struct {
	server    string
	method    string
	toolName  string
	params    interface{}
	risk      config.RiskLevel
	createdAt time.Time
	expiresAt time.Time
	state     state
}

// DeferralResponse is returned to the caller that triggered the defer —
// it does not block on the eventual commit.
type DeferralResponse struct {
	RequiresConfirmation bool      `json:"requires_confirmation"`
	ConfirmationID       string    `json:"confirmation_id"`
	RiskLevel            int       `json:"risk_level"`
	RiskDescription      string    `json:"risk_description"`
	ServerID             string    `json:"server_id"`
	Method               string    `json:"method"`
	ToolName             string    `json:"tool_name"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// Ledger stores PendingInvocations keyed by confirmation handle. It has no
// background sweeper; expiry is enforced lazily on lookup, which is
// adequate because an abandoned handle consumes at most a few hundred
// bytes for ten minutes.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*pendingInvocation
}

// NewLedger constructs an empty confirmation ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*pendingInvocation)}
}

// Defer records a Medium-risk tool call as pending and returns its
// deferral response (§4.6).
func (l *Ledger) Defer(server, method string, params interface{}, risk config.RiskLevel) DeferralResponse {
	handle := uuid.NewString()
	now := time.Now()

	toolName := ""
	if m, ok := params.(map[string]interface{}); ok {
		if n, ok := m["name"].(string); ok {
			toolName = n
		}
	}

	inv := &pendingInvocation{
		server:    server,
		method:    method,
		toolName:  toolName,
		params:    params,
		risk:      risk,
		createdAt: now,
		expiresAt: now.Add(TTL),
		state:     statePending,
	}

	l.mu.Lock()
	l.entries[handle] = inv
	l.mu.Unlock()

	metrics.Global().RecordConfirmation("issued")

	return DeferralResponse{
		RequiresConfirmation: true,
		ConfirmationID:       handle,
		RiskLevel:            int(risk),
		RiskDescription:      risk.Description(),
		ServerID:             server,
		Method:               method,
		ToolName:             toolName,
		ExpiresAt:            inv.expiresAt,
	}
}

// ErrNotFound is returned for an unknown or already-resolved handle (404).
var ErrNotFound = fmt.Errorf("not found or expired")

// ErrExpired is returned for a handle past its ten-minute bound (410).
var ErrExpired = fmt.Errorf("has expired")

// Replayer executes the committed invocation through the correlation
// engine; it is implemented by the HTTP layer's wiring to correlation.Engine
// so this package stays free of a dependency on child process machinery.
type Replayer func(ctx context.Context, server, method string, params interface{}, bypassHandle string) (interface{}, error)

// RejectionResponse is returned when a pending invocation is abandoned.
type RejectionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Resolve implements the commit/abandon operation (§4.6). On commit it
// replays the stored invocation through replay, passing handle itself as
// replay's bypassHandle argument — a marker the HTTP layer's replay
// implementation uses to tag the resulting call's span and audit entry,
// not a credential that grants anything by itself.
func (l *Ledger) Resolve(ctx context.Context, handle string, commit bool, replay Replayer) (interface{}, error) {
	ctx, span := observability.StartSpan(ctx, "bridge.confirmation.resolve",
		observability.AttrConfirmation.String(handle),
	)
	defer span.End()

	l.mu.Lock()
	inv, ok := l.entries[handle]
	if !ok {
		l.mu.Unlock()
		observability.SetSpanError(span, ErrNotFound)
		return nil, ErrNotFound
	}

	if time.Now().After(inv.expiresAt) {
		inv.state = stateExpired
		delete(l.entries, handle)
		l.mu.Unlock()
		metrics.Global().RecordConfirmation("expired")
		observability.SetSpanError(span, ErrExpired)
		return nil, ErrExpired
	}

	delete(l.entries, handle)
	l.mu.Unlock()

	if !commit {
		inv.state = stateAbandoned
		metrics.Global().RecordConfirmation("abandoned")
		observability.SetSpanOK(span)
		return RejectionResponse{Status: "rejected", Message: "invocation abandoned by caller"}, nil
	}

	inv.state = stateCommitted
	metrics.Global().RecordConfirmation("committed")
	result, err := replay(ctx, inv.server, inv.method, inv.params, handle)
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	return result, err
}
