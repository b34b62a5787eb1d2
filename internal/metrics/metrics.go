// Package metrics provides Prometheus metrics for the pipeline service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts total runs by status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		},
		[]string{"status"}, // "succeeded", "failed"
	)

	// RunsActive tracks runs whose runner process is alive.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Number of runs with a live runner process",
		},
	)

	// RunsRetained tracks runs held in the run registry.
	RunsRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "runs_retained",
			Help:      "Number of runs held in memory awaiting consumption",
		},
	)

	// RunsRetired counts runs leaving the registry by reason.
	RunsRetired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "runs_retired_total",
			Help:      "Total number of runs removed from the registry",
		},
		[]string{"reason"}, // "consumed", "reaped"
	)

	// RunDuration tracks run execution duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// StepsTotal counts steps reported by the runner, by status.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Total number of steps reported by status",
		},
		[]string{"status"}, // "done", "failed"
	)

	// SubmissionsTotal counts run submissions by outcome.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Total number of run submissions by result",
		},
		[]string{"result"}, // "accepted", "empty_plan", "invalid_graph", "unsupported_graph", "error"
	)

	// CompileDuration tracks flow compilation latency.
	CompileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "compile_duration_seconds",
			Help:      "Flow compilation duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// GraphShapes counts compiled graphs by shape.
	GraphShapes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "graph_shapes_total",
			Help:      "Total number of submitted graphs by shape",
		},
		[]string{"shape"},
	)

	// EventsTotal counts events enqueued by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of events enqueued",
		},
		[]string{"type"},
	)

	// RunnerParseErrors counts structured runner lines that failed to parse.
	RunnerParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "runner_parse_errors_total",
			Help:      "Total number of malformed structured runner lines",
		},
		[]string{"reason"}, // "malformed", "version"
	)

	// SynthesizedDone counts terminal events the relay had to synthesize.
	SynthesizedDone = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "synthesized_done_total",
			Help:      "Total number of runs whose runner exited without a done event",
		},
	)

	// SSEConnections tracks attached event stream subscribers.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "sse_connections",
			Help:      "Number of attached event stream subscribers",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ArchiveOperations counts run archive operations.
	ArchiveOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "archive_operations_total",
			Help:      "Total number of run archive operations",
		},
		[]string{"operation", "result"}, // operation: save, get, list; result: success, error
	)

	// ArtifactOperations counts plan artifact store operations.
	ArtifactOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipeline",
			Name:      "artifact_operations_total",
			Help:      "Total number of plan artifact store operations",
		},
		[]string{"backend", "operation", "result"},
	)
)
