package registry

import (
	"testing"
	"time"

	"mcp-bridge/internal/config"
	"mcp-bridge/internal/correlation"
)

func TestRegistry_StartThenDuplicateFails(t *testing.T) {
	r := New(correlation.NewEngine())

	if _, err := r.Start("echo", config.ServerSpec{Command: "/bin/cat"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop("echo")

	if _, err := r.Start("echo", config.ServerSpec{Command: "/bin/cat"}); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegistry_StopUnknownFails(t *testing.T) {
	r := New(correlation.NewEngine())
	if err := r.Stop("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListReflectsRiskLevel(t *testing.T) {
	r := New(correlation.NewEngine())

	if _, err := r.Start("plain", config.ServerSpec{Command: "/bin/cat", RiskLevel: config.RiskUnspecified}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop("plain")

	summaries := r.List()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 server, got %d", len(summaries))
	}
	if summaries[0].RiskSet {
		t.Fatal("expected unspecified risk to omit risk fields")
	}
}

func TestRegistry_CrashRemovesRecord(t *testing.T) {
	r := New(correlation.NewEngine())

	rec, err := r.Start("short", config.ServerSpec{Command: "/bin/true"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-rec.Handle.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected /bin/true to exit promptly")
	}

	// watchForCrash removes the record asynchronously right after Done
	// closes; give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Lookup("short"); err == ErrNotFound {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected crashed child to be removed from the registry")
}
