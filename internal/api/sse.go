package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// StreamEvents handles GET /runs/{jobId}/events.
// It streams the run's events as Server-Sent Events to its single subscriber
// and ends right after the terminal done event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["jobId"]
	requestID := GetRequestID(ctx, r)
	startTime := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, r, http.StatusInternalServerError, ErrCodeInternalError, "streaming not supported", nil)
		return
	}

	sub, err := h.orch.Subscribe(ctx, runID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer sub.Close()

	logger := h.logger.With(slog.String("run_id", runID), slog.String("request_id", requestID))
	logger.Info("SSE connection opened", slog.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.config.HeartbeatInterval)
		evt, err := sub.Deliver(waitCtx, func(evt types.Event) error {
			return h.writeSSE(w, flusher, evt)
		})
		cancel()

		if errors.Is(err, errWriteFailed) {
			logger.Info("SSE connection closed",
				slog.String("reason", "write_failed"),
				slog.Duration("duration", time.Since(startTime)),
			)
			return
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if !h.writeComment(w, flusher, "heartbeat") {
					return
				}
				continue
			}
			logger.Info("SSE connection closed",
				slog.String("reason", "client_disconnect"),
				slog.Duration("duration", time.Since(startTime)),
			)
			return
		}

		if evt.IsTerminal() {
			logger.Info("SSE connection closed",
				slog.String("reason", "run_completed"),
				slog.Duration("duration", time.Since(startTime)),
			)
			return
		}
	}
}

var errWriteFailed = errors.New("sse write failed")

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt types.Event) error {
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Debug("failed to write SSE event", "error", err)
		return fmt.Errorf("%w: %v", errWriteFailed, err)
	}
	flusher.Flush()
	return nil
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) bool {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Debug("failed to write SSE comment", "error", err)
		return false
	}
	flusher.Flush()
	return true
}
