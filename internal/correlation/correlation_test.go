package correlation

import (
	"context"
	"testing"
	"time"

	"mcp-bridge/internal/child"
	"mcp-bridge/internal/codec"
	"mcp-bridge/internal/config"
)

// spawnEchoChild starts /bin/cat as a stand-in child: every line written to
// its stdin is echoed verbatim to its stdout, which lets the engine's
// write/route loop be exercised without a real JSON-RPC server.
func spawnEchoChild(t *testing.T, id string, risk config.RiskLevel) (Child, *Engine) {
	t.Helper()

	h, err := child.Spawn("/bin/cat", nil, nil, false)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Kill() })

	c := Child{
		ID:        id,
		Handle:    h,
		Writer:    codec.NewWriter(h.Stdin, &h.WriteMu),
		RiskLevel: risk,
	}

	e := NewEngine()
	e.RegisterChild(c, codec.NewReader(h.Stdout))
	return c, e
}

func TestEngine_CallRoutesReplyByID(t *testing.T) {
	c, e := spawnEchoChild(t, "echo", config.RiskLow)

	// /bin/cat echoes our own request back; since our request carries the
	// id we generated, the engine should route it to this call.
	go func() {
		// nothing to do; cat echoes automatically
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := e.Call(ctx, c, "tools/list", map[string]interface{}{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result field (cat echoes the request, not a response), got %v", result)
	}
}

func TestEngine_CallFailsWhenServerNotRegistered(t *testing.T) {
	e := NewEngine()
	c := Child{ID: "missing", RiskLevel: config.RiskLow}

	// Handle is nil, but RegisterChild was never called, so the
	// "server not found" branch must fire before the Handle is touched.
	_, err := e.Call(context.Background(), c, "tools/list", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered child")
	}
}

func TestEngine_CallAfterDeregisterFails(t *testing.T) {
	c, e := spawnEchoChild(t, "echo2", config.RiskLow)
	e.Deregister(c.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := e.Call(ctx, c, "tools/list", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error once the child has been deregistered")
	}
}
