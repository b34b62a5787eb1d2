// Package api provides HTTP handlers and routing for the pipeline service.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/orchestrator"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// Config holds HTTP layer settings.
type Config struct {
	CORSOrigins []string

	// HeartbeatInterval is the idle time before an event stream gets a heartbeat comment
	HeartbeatInterval time.Duration
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	orch       *orchestrator.Orchestrator
	flows      flowstore.FlowStore
	validator  *validator.Validator
	archive    runstore.Archive
	runnerPath string
	config     *Config
	logger     *slog.Logger
}

// Options wires the handlers. Flows and Archive are optional.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Flows        flowstore.FlowStore
	Validator    *validator.Validator
	Archive      runstore.Archive

	// RunnerPath is checked by the readiness probe
	RunnerPath string

	Config *Config
	Logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(opts Options) *Handlers {
	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orch:       opts.Orchestrator,
		flows:      opts.Flows,
		validator:  opts.Validator,
		archive:    opts.Archive,
		runnerPath: opts.RunnerPath,
		config:     cfg,
		logger:     logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the archive and the runner binary.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{"status": "ready"}

	if h.archive != nil {
		info, err := h.archive.AdapterInfo(ctx)
		if err != nil {
			writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "run archive unhealthy", map[string]interface{}{"error": err.Error()})
			return
		}
		resp["archive"] = info
	}

	if h.runnerPath != "" {
		path, err := lookRunner(h.runnerPath)
		if err != nil {
			writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "job runner unavailable", map[string]interface{}{"error": err.Error()})
			return
		}
		resp["runner"] = path
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func lookRunner(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return exec.LookPath(path)
}

// --- Runs ---

// CreateRunResponse is the response body after submitting a run.
type CreateRunResponse struct {
	JobID     string `json:"jobId"`
	EventsURL string `json:"eventsUrl"`
}

func eventsURL(runID string) string {
	return "/runs/" + runID + "/events"
}

// CreateRun handles POST /runs
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeSubmission(w, r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.submit(w, r, req)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, req *types.SubmitRequest) {
	runID, err := h.orch.Submit(r.Context(), req.Flow, req.Params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/runs/"+runID)
	h.respondJSON(w, http.StatusCreated, CreateRunResponse{
		JobID:     runID,
		EventsURL: eventsURL(runID),
	})
}

// decodeSubmission validates the body against the submission schema before decoding it.
func (h *Handlers) decodeSubmission(w http.ResponseWriter, r *http.Request) (*types.SubmitRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err)
	}

	if h.validator != nil {
		if err := h.validator.ValidateSubmissionJSON(body).Err(); err != nil {
			return nil, err
		}
	}

	var req types.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &req, nil
}

// ListRuns handles GET /runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := h.orch.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, list)
}

// GetRun handles GET /runs/{jobId}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orch.Lookup(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

// GetRunPlan handles GET /runs/{jobId}/plan
func (h *Handlers) GetRunPlan(w http.ResponseWriter, r *http.Request) {
	data, err := h.orch.PlanFile(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Steps ---

// ListSteps handles GET /steps
func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"steps":  h.orch.Steps(),
		"policy": h.orch.Policy(),
	})
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// respondError maps err to a status and writes the standard error body.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", GetRequestID(r.Context(), r))
	} else {
		h.logger.Debug("request rejected", "error", err, "code", code, "path", r.URL.Path)
	}
	writeErrorResponse(w, r, status, code, err.Error(), errorDetails(err))
}
