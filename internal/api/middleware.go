package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":  "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "Content-Type, Authorization, " + requestIDHeader,
	"Access-Control-Expose-Headers": requestIDHeader + ", Location",
	"Access-Control-Max-Age":        "86400",
}

// allowedOrigin picks the Access-Control-Allow-Origin value for a request.
// Unknown origins get the first configured one, which browsers reject.
func (h *Handlers) allowedOrigin(origin string) (string, bool) {
	origins := h.config.CORSOrigins
	if origin != "" && (slices.Contains(origins, origin) || slices.Contains(origins, "*")) {
		return origin, true
	}
	if len(origins) > 0 {
		return origins[0], false
	}
	return "", false
}

// CORSMiddleware answers preflight requests and decorates every response
// with CORS headers for the editor UI.
func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		if value, mirrored := h.allowedOrigin(r.Header.Get("Origin")); value != "" {
			hdr.Set("Access-Control-Allow-Origin", value)
			if mirrored {
				hdr.Add("Vary", "Origin")
			}
		}
		for k, v := range corsHeaders {
			hdr.Set(k, v)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// quietPath reports health and scrape endpoints, which are neither logged
// nor counted.
func quietPath(p string) bool {
	return p == "/ready" || p == "/metrics" || strings.HasPrefix(p, "/health")
}

// LoggingMiddleware tags the request with an ID, then logs and measures it.
func (h *Handlers) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if quietPath(r.URL.Path) {
			return
		}
		elapsed := time.Since(started)
		route := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		h.logger.Info("request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
			slog.String("remote_addr", r.RemoteAddr),
		)
	})
}

// normalizePath collapses resource ids so metric label cardinality stays
// bounded: /runs/<id>/events becomes /runs/{id}/events.
func normalizePath(path string) string {
	segs := strings.Split(path, "/")
	for i := 1; i < len(segs); i++ {
		s := segs[i]
		if s == "" {
			continue
		}
		if segs[i-1] == "runs" || segs[i-1] == "flows" {
			segs[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(s); err == nil {
			segs[i] = "{id}"
		} else if _, err := strconv.Atoi(s); err == nil {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}

// RecoveryMiddleware turns a handler panic into a 500 JSON error.
func (h *Handlers) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			h.logger.Error("panic recovered",
				"error", v,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeErrorResponse(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
