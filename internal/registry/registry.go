// Package registry indexes live children by logical identifier and handles
// start, stop, crash detection, and enumeration — the supervisor registry
// of the component design.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcp-bridge/internal/child"
	"mcp-bridge/internal/codec"
	"mcp-bridge/internal/config"
	"mcp-bridge/internal/correlation"
	"mcp-bridge/internal/docker"
	"mcp-bridge/internal/logging"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/resolver"
)

// Record is one ServerRecord: everything the registry knows about a
// registered child.
type Record struct {
	ID         string
	Spec       config.ServerSpec
	EffRisk    config.RiskLevel
	Downgraded bool
	Container  bool
	Handle     *child.Handle
}

// Summary is the read-only projection returned by List.
type Summary struct {
	ID              string
	Connected       bool
	PID             int
	RiskLevel       config.RiskLevel
	RiskSet         bool
	RiskDescription string
	RunningInDocker bool
}

// Registry owns every ServerRecord. It is shared across all HTTP handlers
// and must be safe for concurrent start/stop/lookup; readers dominate, so
// a single RWMutex is sufficient here.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	engine  *correlation.Engine
}

// New constructs an empty registry backed by the given correlation engine.
func New(engine *correlation.Engine) *Registry {
	return &Registry{records: make(map[string]*Record), engine: engine}
}

// ErrAlreadyExists is returned by Start when the identifier is taken
// (409-equivalent).
var ErrAlreadyExists = fmt.Errorf("already exists")

// ErrNotFound is returned by Stop and Lookup for an unknown identifier
// (404-equivalent).
var ErrNotFound = fmt.Errorf("not found")

// Start resolves spec, spawns the child, registers it with the correlation
// engine, and stores the record. On any failure in resolution or spawn it
// fails with a descriptive message and leaves the registry unchanged.
func (r *Registry) Start(id string, spec config.ServerSpec) (*Record, error) {
	r.mu.Lock()
	if _, exists := r.records[id]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	// Reserve the slot under lock so a racing exit handler (see watchForCrash)
	// cannot remove an insertion that hasn't happened yet — guards the
	// crash-during-startup race called out in the design notes.
	r.records[id] = nil
	r.mu.Unlock()

	resolved := resolver.Resolve(spec)

	if resolved.Container {
		probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := docker.Probe(probeCtx)
		cancel()
		if err != nil {
			r.mu.Lock()
			delete(r.records, id)
			r.mu.Unlock()
			return nil, fmt.Errorf("container launcher unavailable: %w", err)
		}
	}

	h, err := child.Spawn(resolved.Path, resolved.Args, resolved.Env, resolved.UseShell)
	if err != nil {
		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("spawn: %w", err)
	}

	rec := &Record{
		ID:         id,
		Spec:       spec,
		EffRisk:    resolved.EffRisk,
		Downgraded: resolved.Downgraded,
		Container:  resolved.Container,
		Handle:     h,
	}

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	cc := correlation.Child{
		ID:        id,
		Handle:    h,
		Writer:    codec.NewWriter(h.Stdin, &h.WriteMu),
		RiskLevel: resolved.EffRisk,
		Docker:    spec.Docker,
	}
	r.engine.RegisterChild(cc, codec.NewReader(h.Stdout))

	// The reply is deliberately not awaited before Start returns to its
	// caller; the delay only gives the child time to open its pipes.
	go func() {
		time.Sleep(child.InitializeDelay)
		ctx, cancel := context.WithTimeout(context.Background(), correlation.CallTimeout)
		defer cancel()
		if _, err := r.engine.Call(ctx, cc, "initialize", child.InitializeParams()); err != nil {
			logging.Op().Debug("initialize handshake did not complete", "server", id, "err", err)
		}
	}()

	metrics.Global().RecordServerStarted()
	metrics.SetActiveServers(r.Count())
	go r.watchForCrash(id, h)

	return rec, nil
}

// watchForCrash removes a child's record when it exits without an
// explicit Stop, resolving its outstanding requests via the correlation
// engine's own exit-driven cleanup.
func (r *Registry) watchForCrash(id string, h *child.Handle) {
	<-h.Done

	r.mu.Lock()
	rec, exists := r.records[id]
	stillOurs := exists && rec != nil && rec.Handle == h
	if stillOurs {
		delete(r.records, id)
	}
	r.mu.Unlock()

	if stillOurs {
		logging.Op().Warn("child exited without an explicit stop", "server", id, "exit_code", h.Exit().ExitCode)
		metrics.Global().RecordServerCrashed()
		metrics.SetActiveServers(r.Count())
	}
}

// Stop sends the OS default termination signal and removes the record
// immediately, not waiting for the exit event — watchForCrash will also
// attempt removal but is idempotent against an already-missing record.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || rec == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.records, id)
	r.mu.Unlock()

	r.engine.Deregister(id)
	metrics.Global().RecordServerStopped()
	metrics.SetActiveServers(r.Count())
	return rec.Handle.Terminate()
}

// Lookup returns the record for id, or ErrNotFound.
func (r *Registry) Lookup(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok || rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns a snapshot of every registered identifier.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.records))
	for id, rec := range r.records {
		if rec == nil {
			continue
		}
		s := Summary{ID: id, Connected: true, PID: rec.Handle.PID}
		if rec.EffRisk != config.RiskUnspecified {
			s.RiskSet = true
			s.RiskLevel = rec.EffRisk
			s.RiskDescription = rec.EffRisk.Description()
			s.RunningInDocker = rec.Container
		}
		out = append(out, s)
	}
	return out
}

// Count returns the number of currently registered children.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// StopAll signals every registered child to stop and waits for each one's
// termination event — used on graceful process shutdown (§7 fatality).
func (r *Registry) StopAll() {
	r.mu.RLock()
	handles := make([]*child.Handle, 0, len(r.records))
	for _, rec := range r.records {
		if rec != nil {
			handles = append(handles, rec.Handle)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *child.Handle) {
			defer wg.Done()
			h.Terminate()
			<-h.Done
		}(h)
	}
	wg.Wait()
}
