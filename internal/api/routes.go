package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	chain    []Middleware
}

// NewServer creates a new API server with the given handlers. Extra
// middleware (tracing, rate limiting, auth) runs inside request logging,
// outermost first.
func NewServer(h *Handlers, extra ...Middleware) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		chain:    extra,
	}
	s.setupRoutes()
	return s
}

// Router returns the fully wrapped handler for use with http.Server.
// Middleware wraps the router itself so preflight requests never hit route matching.
func (s *Server) Router() http.Handler {
	var handler http.Handler = s.router
	for i := len(s.chain) - 1; i >= 0; i-- {
		handler = s.chain[i](handler)
	}
	handler = s.handlers.CORSMiddleware(handler)
	handler = s.handlers.LoggingMiddleware(handler)
	return s.handlers.RecoveryMiddleware(handler)
}

func (s *Server) setupRoutes() {
	h := s.handlers

	// Health endpoints
	s.router.HandleFunc("/health", h.Health).Methods("GET")
	s.router.HandleFunc("/healthz", h.Health).Methods("GET")
	s.router.HandleFunc("/ready", h.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Runs
	s.router.HandleFunc("/runs", h.CreateRun).Methods("POST")
	s.router.HandleFunc("/runs", h.ListRuns).Methods("GET")
	s.router.HandleFunc("/runs/{jobId}", h.GetRun).Methods("GET")
	s.router.HandleFunc("/runs/{jobId}/plan", h.GetRunPlan).Methods("GET")
	s.router.HandleFunc("/runs/{jobId}/events", h.StreamEvents).Methods("GET")

	// Step kinds
	s.router.HandleFunc("/steps", h.ListSteps).Methods("GET")

	// Saved flows
	s.router.HandleFunc("/flows", h.ListFlows).Methods("GET")
	s.router.HandleFunc("/flows", h.CreateFlow).Methods("POST")
	s.router.HandleFunc("/flows/{id}", h.GetFlow).Methods("GET")
	s.router.HandleFunc("/flows/{id}", h.UpdateFlow).Methods("PUT")
	s.router.HandleFunc("/flows/{id}", h.DeleteFlow).Methods("DELETE")
	s.router.HandleFunc("/flows/{id}/runs", h.RunFlow).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusNotFound, ErrCodeNotFound, "no such route", nil)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusMethodNotAllowed, ErrCodeInvalidRequest, "method not allowed", nil)
	})
}
