package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/auth"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/flowstore"
)

var errFlowsDisabled = errors.New("saved flows are not configured")

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (h *Handlers) flowsAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.flows == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, errFlowsDisabled.Error(), nil)
		return false
	}
	return true
}

// ListFlows handles GET /flows
func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	q := r.URL.Query()
	opts := &flowstore.ListOptions{CreatedBy: q.Get("created_by")}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))

	flows, err := h.flows.List(r.Context(), opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

// CreateFlow handles POST /flows
func (h *Handlers) CreateFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	var req flowstore.CreateFlowRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if principal := auth.Principal(r.Context()); principal != "" {
		req.CreatedBy = principal
	}

	flow, err := h.flows.Create(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/flows/"+flow.ID)
	h.respondJSON(w, http.StatusCreated, flow)
}

// GetFlow handles GET /flows/{id}
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	flow, err := h.flows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// UpdateFlow handles PUT /flows/{id}
func (h *Handlers) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	var req flowstore.UpdateFlowRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	flow, err := h.flows.Update(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// DeleteFlow handles DELETE /flows/{id}
func (h *Handlers) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	if err := h.flows.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunFlow handles POST /flows/{id}/runs: it submits the saved graph and params.
func (h *Handlers) RunFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsAvailable(w, r) {
		return
	}

	flow, err := h.flows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("running saved flow", "flow_id", flow.ID, "version", flow.Version)
	h.submit(w, r, flow.Submission())
}
