package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/compiler"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
)

// Error codes for consistent error identification.
const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeEmptyPlan        = "empty_plan"
	ErrCodeUnsupportedGraph = "unsupported_graph"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternalError    = "internal_error"
	ErrCodeServiceUnavail   = "service_unavailable"
)

// ErrInvalidRequest marks request bodies that cannot be decoded.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error     string                 `json:"error"`                // Short error code
	Message   string                 `json:"message"`              // Human-readable message
	Details   map[string]interface{} `json:"details,omitempty"`    // Optional additional details
	RequestID string                 `json:"request_id,omitempty"` // Request ID for correlation
}

// requestIDContextKey is the context key for request ID.
type requestIDContextKey struct{}

// RequestIDKey is the exported context key for request ID.
var RequestIDKey = requestIDContextKey{}

// GetRequestID retrieves the request ID from context or request header.
func GetRequestID(ctx context.Context, r *http.Request) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, validator.ErrInvalid),
		errors.Is(err, compiler.ErrInvalidGraph),
		errors.Is(err, flowstore.ErrInvalidFlow):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, compiler.ErrEmptyPlan):
		return http.StatusBadRequest, ErrCodeEmptyPlan
	case errors.Is(err, compiler.ErrCyclicGraph), errors.Is(err, compiler.ErrNonLinearGraph):
		return http.StatusBadRequest, ErrCodeUnsupportedGraph
	case errors.Is(err, runstore.ErrRunNotFound), errors.Is(err, flowstore.ErrFlowNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, runstore.ErrRunAttached), errors.Is(err, flowstore.ErrFlowExists):
		return http.StatusConflict, ErrCodeConflict
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// errorDetails exposes structured context carried by err.
func errorDetails(err error) map[string]interface{} {
	var gerr *compiler.GraphError
	if errors.As(err, &gerr) {
		details := map[string]interface{}{}
		if gerr.NodeID != "" {
			details["node"] = gerr.NodeID
		}
		if gerr.Shape != "" {
			details["shape"] = string(gerr.Shape)
		}
		if len(details) > 0 {
			return details
		}
	}
	return nil
}

// writeErrorResponse writes a standardized JSON error response.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]interface{}) {
	requestID := GetRequestID(r.Context(), r)

	resp := ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}

	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
