// Package correlation multiplexes JSON-RPC requests and replies over a
// single pair of byte streams per child: it assigns unique identifiers to
// outbound requests, dispatches each inbound reply to the waiter
// registered for its identifier, and enforces per-request timeouts.
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"mcp-bridge/internal/child"
	"mcp-bridge/internal/codec"
	"mcp-bridge/internal/config"
	"mcp-bridge/internal/logging"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/observability"
)

func unmarshalResult(raw json.RawMessage, out interface{}) error {
	return json.Unmarshal(raw, out)
}

type ctxKey int

const confirmationHandleKey ctxKey = iota

// WithConfirmationHandle tags ctx with the confirmation handle that
// authorized this call. The HTTP layer's replay path (confirmation.Replayer)
// sets this before invoking Call on a committed Medium-risk invocation, so
// the call's span and CallLog entry carry the handle that cleared it —
// useful for auditing which confirmation produced which child call, without
// giving Call itself any risk-gating logic.
func WithConfirmationHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, confirmationHandleKey, handle)
}

func confirmationHandleFrom(ctx context.Context) string {
	h, _ := ctx.Value(confirmationHandleKey).(string)
	return h
}

// CallTimeout is the hard per-request deadline measured from after the
// framed request is written (§5).
const CallTimeout = 10 * time.Second

// outstanding is one OutstandingRequest: a one-shot delivery slot, indexed
// by request id within one child. Its deadline is the timer in call.
type outstanding struct {
	slot chan codec.Reply
}

// Engine owns the outstanding-requests index for every registered child
// and routes inbound replies to the matching waiter. One Engine is shared
// across all HTTP handlers; per-child state is guarded by mu.
type Engine struct {
	mu      sync.Mutex
	pending map[string]map[string]*outstanding // child id -> request id -> waiter
}

// NewEngine constructs an empty correlation engine.
func NewEngine() *Engine {
	return &Engine{pending: make(map[string]map[string]*outstanding)}
}

// Child bundles everything the engine needs to address one registered
// server: its write path, its risk class, and its container descriptor for
// the High-risk result-wrapping rule.
type Child struct {
	ID        string
	Handle    *child.Handle
	Writer    *codec.Writer
	RiskLevel config.RiskLevel
	Docker    *config.DockerConfig
}

// RegisterChild starts the engine's bookkeeping for a newly spawned child
// and launches the single permanent reader that routes every reply it
// emits for the child's lifetime. Call once per child, before any Call.
func (e *Engine) RegisterChild(c Child, reader *codec.Reader) {
	e.mu.Lock()
	e.pending[c.ID] = make(map[string]*outstanding)
	e.mu.Unlock()

	go func() {
		reader.Run(func(rk codec.ReplyKey) {
			e.deliver(c.ID, rk)
		})
		e.resolveAllWithFailure(c.ID, fmt.Errorf("child exited"))
	}()
}

// deliver routes one parsed reply to its waiter, if any. A reply with no
// matching waiter (a late reply after timeout) is silently discarded.
func (e *Engine) deliver(childID string, rk codec.ReplyKey) {
	e.mu.Lock()
	waiters, ok := e.pending[childID]
	if !ok {
		e.mu.Unlock()
		return
	}
	w, ok := waiters[rk.Key]
	if ok {
		delete(waiters, rk.Key)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	w.slot <- rk.Reply
}

// resolveAllWithFailure fails every OutstandingRequest for a child — used
// when the child exits, per the invariant that no request outlives its
// child unresolved.
func (e *Engine) resolveAllWithFailure(childID string, cause error) {
	e.mu.Lock()
	waiters := e.pending[childID]
	delete(e.pending, childID)
	e.mu.Unlock()

	for _, w := range waiters {
		select {
		case w.slot <- codec.Reply{Error: &codec.RPCError{Message: cause.Error()}}:
		default:
		}
	}
}

// Deregister drops a child's bookkeeping without sending failures — used
// by the registry's Stop. A Call still waiting on that child returns once
// the child's Done channel closes.
func (e *Engine) Deregister(childID string) {
	e.mu.Lock()
	delete(e.pending, childID)
	e.mu.Unlock()
}

// Call sends method/params to c and waits for the matching reply, a
// timeout, or the child's exit, per §4.4 steps 3-6. It performs no
// risk-gating of its own: the Medium-risk defer-and-confirm decision is
// made entirely by the HTTP layer (api.Handler.CallTool), which calls Call
// only once a tool invocation is known to be clear to run — either because
// it isn't Medium risk, or because a prior confirmation handle was just
// committed through the confirmation ledger's Replayer.
func (e *Engine) Call(ctx context.Context, c Child, method string, params interface{}) (interface{}, error) {
	requestID := uuid.NewString()
	confirmationHandle := confirmationHandleFrom(ctx)

	spanAttrs := []attribute.KeyValue{
		observability.AttrServerID.String(c.ID),
		observability.AttrMethod.String(method),
		observability.AttrRiskLevel.Int(int(c.RiskLevel)),
		observability.AttrRequestID.String(requestID),
	}
	if confirmationHandle != "" {
		spanAttrs = append(spanAttrs, observability.AttrConfirmation.String(confirmationHandle))
	}
	ctx, span := observability.StartSpan(ctx, "bridge.call", spanAttrs...)
	defer span.End()
	traceID := observability.GetTraceID(ctx)
	spanID := observability.GetSpanID(ctx)

	start := time.Now()
	result, err := e.call(ctx, c, requestID, method, params)

	durationMs := time.Since(start).Milliseconds()
	span.SetAttributes(observability.AttrDurationMs.Int64(durationMs))

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if err == errTimedOut {
			outcome = "timeout"
		}
		observability.SetSpanError(span, err)
		logging.OpWithTrace(traceID, spanID).Warn("call failed",
			"request_id", requestID, "server", c.ID, "method", method, "outcome", outcome, "error", err)
	} else {
		observability.SetSpanOK(span)
	}
	metrics.Global().RecordCall(c.ID, method, durationMs, outcome)

	entry := &logging.CallLog{
		RequestID:  requestID,
		TraceID:    traceID,
		SpanID:     spanID,
		Server:     c.ID,
		Method:     method,
		RiskLevel:  int(c.RiskLevel),
		DurationMs: durationMs,
		Success:    err == nil,
		Confirmed:  confirmationHandle,
		ParamsSize: jsonSize(params),
		ResultSize: jsonSize(result),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Default().Log(entry)

	return result, err
}

// jsonSize returns the encoded byte length of v, or 0 if it does not
// marshal (used only for the call-log's size fields, never for wire
// transmission).
func jsonSize(v interface{}) int {
	if v == nil {
		return 0
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

var errTimedOut = fmt.Errorf("request timed out after %v", CallTimeout)

func (e *Engine) call(ctx context.Context, c Child, id, method string, params interface{}) (interface{}, error) {
	slot := make(chan codec.Reply, 1)

	e.mu.Lock()
	waiters, ok := e.pending[c.ID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("server not found or not connected")
	}
	waiters[id] = &outstanding{slot: slot}
	e.mu.Unlock()

	metrics.IncActiveCalls()
	defer metrics.DecActiveCalls()

	req := codec.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.Writer.WriteRequest(req); err != nil {
		e.mu.Lock()
		delete(waiters, id)
		e.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(CallTimeout)
	defer timer.Stop()

	select {
	case reply := <-slot:
		return e.handleReply(c, reply)
	case <-timer.C:
		e.mu.Lock()
		delete(waiters, id)
		e.mu.Unlock()
		return nil, errTimedOut
	case <-c.Handle.Done:
		ev := c.Handle.Exit()
		return nil, fmt.Errorf("child exited with code %d", ev.ExitCode)
	case <-ctx.Done():
		e.mu.Lock()
		delete(waiters, id)
		e.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (e *Engine) handleReply(c Child, reply codec.Reply) (interface{}, error) {
	if reply.Error != nil {
		return nil, fmt.Errorf("%s", reply.Error.Message)
	}

	var result interface{}
	if len(reply.Result) > 0 {
		if err := unmarshalResult(reply.Result, &result); err != nil {
			return nil, fmt.Errorf("parse reply result: %w", err)
		}
	}

	if c.RiskLevel == config.RiskHigh {
		env := map[string]interface{}{"risk_level": int(c.RiskLevel), "container": true}
		if c.Docker != nil {
			env["image"] = c.Docker.Image
		}
		if asMap, ok := result.(map[string]interface{}); ok {
			asMap["execution_environment"] = env
			return asMap, nil
		}
		return map[string]interface{}{"result": result, "execution_environment": env}, nil
	}

	return result, nil
}
