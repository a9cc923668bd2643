// Package api translates the external REST shape into calls against the
// supervisor registry, the correlation engine, and the confirmation
// ledger, shaping responses and error codes per the bridge's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"mcp-bridge/internal/codec"
	"mcp-bridge/internal/config"
	"mcp-bridge/internal/confirmation"
	"mcp-bridge/internal/correlation"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/registry"
)

// Handler wires the three core subsystems to HTTP routes.
type Handler struct {
	Registry *registry.Registry
	Engine   *correlation.Engine
	Ledger   *confirmation.Ledger

	startTime time.Time
}

// New constructs a Handler around the given subsystems.
func New(reg *registry.Registry, engine *correlation.Engine, ledger *confirmation.Ledger) *Handler {
	return &Handler{Registry: reg, Engine: engine, Ledger: ledger, startTime: time.Now()}
}

// RegisterRoutes attaches every route in the external interface table (§6)
// to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /servers", h.ListServers)
	mux.HandleFunc("POST /servers", h.CreateServer)
	mux.HandleFunc("DELETE /servers/{id}", h.DeleteServer)
	mux.HandleFunc("GET /servers/{id}/tools", h.ListTools)
	mux.HandleFunc("POST /servers/{id}/tools/{name}", h.CallTool)
	mux.HandleFunc("GET /servers/{id}/resources", h.ListResources)
	mux.HandleFunc("GET /servers/{id}/resources/{uri}", h.ReadResource)
	mux.HandleFunc("GET /servers/{id}/prompts", h.ListPrompts)
	mux.HandleFunc("POST /servers/{id}/prompts/{name}", h.GetPrompt)
	mux.HandleFunc("POST /confirmations/{handle}", h.ResolveConfirmation)
	mux.HandleFunc("GET /health", h.Health)
}

// ListServers implements GET /servers.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	summaries := h.Registry.List()

	out := make([]map[string]interface{}, 0, len(summaries))
	for _, s := range summaries {
		entry := map[string]interface{}{
			"id":        s.ID,
			"connected": s.Connected,
			"pid":       s.PID,
		}
		if s.RiskSet {
			entry["risk_level"] = int(s.RiskLevel)
			entry["risk_description"] = s.RiskDescription
			entry["running_in_docker"] = s.RunningInDocker
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": out})
}

type createServerRequest struct {
	ID        string               `json:"id"`
	Command   string               `json:"command"`
	Args      []string             `json:"args"`
	Env       map[string]string    `json:"env"`
	RiskLevel *config.RiskLevel    `json:"riskLevel"`
	Docker    *config.DockerConfig `json:"docker"`
}

// CreateServer implements POST /servers.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ID == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "id and command are required")
		return
	}

	spec := config.ServerSpec{
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
		Docker:  req.Docker,
	}
	if req.RiskLevel != nil {
		spec.RiskLevel = *req.RiskLevel
	}

	if spec.RiskLevel < config.RiskUnspecified || spec.RiskLevel > config.RiskHigh {
		writeError(w, http.StatusBadRequest, "invalid risk level")
		return
	}
	if spec.RiskLevel == config.RiskHigh && (spec.Docker == nil || spec.Docker.Image == "") {
		writeError(w, http.StatusBadRequest, "docker image is required when risk level is High")
		return
	}

	rec, err := h.Registry.Start(req.ID, spec)
	if err == registry.ErrAlreadyExists {
		writeError(w, http.StatusConflict, "id already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"id":     rec.ID,
		"status": "connected",
		"pid":    rec.Handle.PID,
	}
	if rec.EffRisk != config.RiskUnspecified {
		resp["risk_level"] = int(rec.EffRisk)
		resp["risk_description"] = rec.EffRisk.Description()
		resp["running_in_docker"] = rec.Container
	}

	writeJSON(w, http.StatusCreated, resp)
}

// DeleteServer implements DELETE /servers/:id.
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.Registry.Stop(id); err != nil {
		if err == registry.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// lookupOrNotFound resolves id or writes a 404 and returns ok=false.
func (h *Handler) lookupOrNotFound(w http.ResponseWriter, id string) (*registry.Record, bool) {
	rec, err := h.Registry.Lookup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown id")
		return nil, false
	}
	return rec, true
}

// correlationChild builds a correlation.Child for an already-resolved record.
func correlationChild(rec *registry.Record) correlation.Child {
	return correlation.Child{
		ID:        rec.ID,
		Handle:    rec.Handle,
		Writer:    codec.NewWriter(rec.Handle.Stdin, &rec.Handle.WriteMu),
		RiskLevel: rec.EffRisk,
		Docker:    rec.Spec.Docker,
	}
}

// ListTools implements GET /servers/:id/tools.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "tools/list", map[string]interface{}{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CallTool implements POST /servers/:id/tools/:name. A Medium-risk server
// defers the call to the confirmation ledger instead of an immediate round
// trip (§4.4 step 2).
func (h *Handler) CallTool(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}
	name := r.PathValue("name")

	var args interface{}
	if err := decodeJSONBody(r, &args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params := map[string]interface{}{"name": name, "arguments": args}

	if rec.EffRisk == config.RiskMedium {
		metrics.Global().RecordDeferred(rec.ID, "tools/call")
		resp := h.Ledger.Defer(rec.ID, "tools/call", params, rec.EffRisk)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "tools/call", params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListResources implements GET /servers/:id/resources.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "resources/list", map[string]interface{}{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReadResource implements GET /servers/:id/resources/:uri. r.PathValue
// returns the already percent-decoded path segment, satisfying the
// "percent-decoded once before use" rule for opaque identifiers.
func (h *Handler) ReadResource(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}
	uri := r.PathValue("uri")

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPrompts implements GET /servers/:id/prompts.
func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "prompts/list", map[string]interface{}{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPrompt implements POST /servers/:id/prompts/:name.
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupOrNotFound(w, r.PathValue("id"))
	if !ok {
		return
	}
	name := r.PathValue("name")

	var args interface{}
	if err := decodeJSONBody(r, &args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params := map[string]interface{}{"name": name, "arguments": args}

	result, err := h.Engine.Call(r.Context(), correlationChild(rec), "prompts/get", params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResolveConfirmation implements POST /confirmations/:handle.
func (h *Handler) ResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.Ledger.Resolve(r.Context(), handle, body.Confirm, h.replay)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, result)
	case confirmation.ErrNotFound:
		writeError(w, http.StatusNotFound, "unknown confirmation handle")
	case confirmation.ErrExpired:
		writeError(w, http.StatusGone, "has expired")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// replay adapts the correlation engine to confirmation.Replayer, looking
// up the target server fresh so a child that exited while the confirmation
// was pending surfaces as "server not found" rather than a dangling handle.
// bypassHandle is the confirmation handle that just committed; it carries
// no authority of its own (Call performs no risk-gating), but tagging the
// context with it lets the replayed call's span and CallLog entry record
// which confirmation produced it.
func (h *Handler) replay(ctx context.Context, server, method string, params interface{}, bypassHandle string) (interface{}, error) {
	rec, err := h.Registry.Lookup(server)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, correlation.CallTimeout+time.Second)
	defer cancel()
	ctx = correlation.WithConfirmationHandle(ctx, bypassHandle)
	return h.Engine.Call(ctx, correlationChild(rec), method, params)
}

// Health implements GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	summaries := h.Registry.List()
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(h.startTime).Seconds(),
		"serverCount": len(ids),
		"servers":     ids,
	})
}

func decodeJSONBody(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(out)
	if err == io.EOF {
		return nil
	}
	return err
}
