package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// maxRequestBody caps the request payload handed to a sandbox.
const maxRequestBody = 10 << 20

// Handlers exposes the engine over HTTP: invocation routes plus a small
// operational surface (health, status, logs, manual invalidation).
type Handlers struct {
	engine *Engine
	logger logging.Logger
}

func NewHandlers(engine *Engine, logger logging.Logger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

// HTTPHandler builds the route table.
func (h *Handlers) HTTPHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/invoke/{function}/{version}", h.handleInvoke)
	mux.HandleFunc("/invoke/{function}/{version}/{path...}", h.handleInvoke)
	mux.HandleFunc("/f/{function}", h.handleInvokeActive)
	mux.HandleFunc("/f/{function}/{path...}", h.handleInvokeActive)

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /logs/{function}/{version}", h.handleLogs)
	mux.HandleFunc("POST /admin/invalidate", h.handleInvalidate)

	return mux
}

// handleInvoke serves invocations that pin an explicit version.
func (h *Handlers) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := types.NewDeploymentID(r.PathValue("function"), r.PathValue("version"))
	h.invoke(w, r, id)
}

// handleInvokeActive serves invocations routed to the function's active
// version, as published by the change feed.
func (h *Handlers) handleInvokeActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.engine.Router().Lookup(r.PathValue("function"))
	if !ok {
		writeError(w, http.StatusNotFound, "no active deployment for function")
		return
	}
	h.invoke(w, r, id)
}

func (h *Handlers) invoke(w http.ResponseWriter, r *http.Request, id types.DeploymentID) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	path := "/" + r.PathValue("path")

	req := &types.InvocationRequest{
		Deployment: id,
		Method:     r.Method,
		Path:       path,
		Headers:    headers,
		Body:       body,
		Trigger:    types.TriggerHTTP,
		ReceivedAt: time.Now(),
	}

	resp := h.engine.Dispatch(r.Context(), req)
	writeInvocationResponse(w, resp)
}

// writeInvocationResponse maps outcomes onto HTTP statuses. A successful
// invocation passes the sandbox's own status and headers through.
func writeInvocationResponse(w http.ResponseWriter, resp *types.InvocationResponse) {
	if resp.Outcome == types.OutcomeOK {
		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}

	status := http.StatusInternalServerError
	switch resp.Outcome {
	case types.OutcomeNotFound:
		status = http.StatusNotFound
	case types.OutcomeRejected:
		status = http.StatusTooManyRequests
	case types.OutcomeTimeout:
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"outcome": string(resp.Outcome),
		"error":   resp.Error,
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.engine.Status())
}

func (h *Handlers) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := types.NewDeploymentID(r.PathValue("function"), r.PathValue("version"))

	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid tail parameter")
			return
		}
		tail = n
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter, expected RFC3339")
			return
		}
		since = t
	}

	logs := h.engine.LogStore().GetLogs(id.String(), since, tail)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"deployment": id.String(),
		"logs":       logs,
	})
}

// handleInvalidate lets an operator retire contexts without a feed event.
func (h *Handlers) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FunctionID string `json:"function_id"`
		VersionID  string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.FunctionID == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with function_id")
		return
	}

	count := h.engine.pool.Invalidate(payload.FunctionID, payload.VersionID)
	h.logger.Printf("Manual invalidation of %s/%s retired %d context(s)",
		payload.FunctionID, payload.VersionID, count)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"invalidated": count})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
