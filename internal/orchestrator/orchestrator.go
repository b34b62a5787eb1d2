// Package orchestrator turns flow submissions into runs: it compiles the graph,
// persists the step plan, launches the job runner, and hands out run subscriptions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/auth"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/compiler"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/dataflow"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/driver"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/planfile"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/steps"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// PlanMarker prefixes the log events the orchestrator adds to a run before the runner starts.
const PlanMarker = "[PLAN]"

// Config holds orchestrator configuration.
type Config struct {
	// PlanDir receives persisted plan files (empty = os.TempDir())
	PlanDir string
}

// Orchestrator accepts submissions and supervises their runners.
type Orchestrator struct {
	compiler  *compiler.Compiler
	kinds     *steps.Registry
	registry  *runstore.Registry
	driver    driver.Driver
	artifacts *dataflow.Service
	planDir   string
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options wires the orchestrator's collaborators. Artifacts is optional.
type Options struct {
	Compiler  *compiler.Compiler
	Steps     *steps.Registry
	Registry  *runstore.Registry
	Driver    driver.Driver
	Artifacts *dataflow.Service
	Config    *Config
	Logger    *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}
	planDir := cfg.PlanDir
	if planDir == "" {
		planDir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		compiler:  opts.Compiler,
		kinds:     opts.Steps,
		registry:  opts.Registry,
		driver:    opts.Driver,
		artifacts: opts.Artifacts,
		planDir:   planDir,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Submit compiles a flow, persists its plan, registers the run, and launches
// the runner in the background. Compile errors reject the submission.
func (o *Orchestrator) Submit(ctx context.Context, graph types.FlowGraph, params types.Params) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "orchestrator.Submit",
		trace.WithAttributes(
			attribute.Int("flow.nodes", len(graph.Nodes)),
			attribute.Int("flow.edges", len(graph.Edges)),
			attribute.String("flow.policy", string(o.compiler.Policy())),
		),
	)
	defer span.End()

	res, err := o.compile(ctx, graph, params)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(submissionResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	path, err := planfile.Write(o.planDir, res.Plan)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("persist plan: %w", err)
	}

	run := o.registry.Create(runstore.CreateOptions{
		PlanPath:    path,
		StepCount:   len(res.Plan.Steps),
		SubmittedBy: auth.Principal(ctx),
	})
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("flow.shape", string(res.Shape)))

	logger := o.logger.With("run_id", run.ID)
	run.Enqueue(types.NewLogEvent(fmt.Sprintf("%s %s", PlanMarker, path), ""))
	for _, evt := range diagnostics(res) {
		run.Enqueue(evt)
	}
	o.archivePlan(ctx, run, res.Plan, logger)

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	logger.Info("run submitted",
		"plan", path,
		"steps", len(res.Plan.Steps),
		"shape", res.Shape,
		"skipped", len(res.Skipped),
		"unreached", len(res.Unreached),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.driver.Run(o.baseCtx, run.ID, path, driver.NewMetricsSink(run))
	}()

	return run.ID, nil
}

func (o *Orchestrator) compile(ctx context.Context, graph types.FlowGraph, params types.Params) (*compiler.Result, error) {
	_, span := tracing.Tracer().Start(ctx, "compiler.Compile")
	defer span.End()

	start := time.Now()
	res, err := o.compiler.Compile(graph, params)
	metrics.CompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	metrics.GraphShapes.WithLabelValues(string(res.Shape)).Inc()
	span.SetAttributes(attribute.Int("plan.steps", len(res.Plan.Steps)))
	return res, nil
}

// archivePlan copies the plan to the artifact store. Failures are reported on
// the run and never fail the submission.
func (o *Orchestrator) archivePlan(ctx context.Context, run *runstore.Run, plan *types.StepPlan, logger *slog.Logger) {
	if o.artifacts == nil {
		return
	}

	data, err := planfile.Marshal(plan)
	if err == nil {
		var ref *dataflow.ArtifactRef
		ref, err = o.artifacts.StorePlan(ctx, run.ID, data)
		if err == nil {
			run.SetPlanURI(ref.URI)
			run.Enqueue(types.NewLogEvent(fmt.Sprintf("%s archived to %s", PlanMarker, ref.URI), ""))
			return
		}
	}

	logger.Warn("plan archive failed", "error", err)
	run.Enqueue(types.NewLogEvent(fmt.Sprintf("%s archive failed: %v", PlanMarker, err), types.LogLevelWarning))
}

// diagnostics reports everything the compiler left out of the plan.
func diagnostics(res *compiler.Result) []types.Event {
	var events []types.Event
	if res.Shape != compiler.ShapeLinear {
		events = append(events, types.NewLogEvent(
			fmt.Sprintf("%s graph is %s; running %d steps in compiled order", PlanMarker, res.Shape, len(res.Plan.Steps)),
			types.LogLevelInfo,
		))
	}
	for _, n := range res.Skipped {
		events = append(events, types.NewLogEvent(
			fmt.Sprintf("%s skipped node %s: unknown step kind %q", PlanMarker, n.ID, n.Label),
			types.LogLevelWarning,
		))
	}
	for _, id := range res.Unreached {
		events = append(events, types.NewLogEvent(
			fmt.Sprintf("%s node %s is not on the execution path", PlanMarker, id),
			types.LogLevelWarning,
		))
	}
	for _, e := range res.Ignored {
		events = append(events, types.NewLogEvent(
			fmt.Sprintf("%s ignored edge %s -> %s: unknown node", PlanMarker, e.Source, e.Target),
			types.LogLevelWarning,
		))
	}
	return events
}

func submissionResult(err error) string {
	switch {
	case errors.Is(err, compiler.ErrEmptyPlan):
		return "empty_plan"
	case errors.Is(err, compiler.ErrInvalidGraph):
		return "invalid_graph"
	case errors.Is(err, compiler.ErrCyclicGraph), errors.Is(err, compiler.ErrNonLinearGraph):
		return "unsupported_graph"
	default:
		return "error"
	}
}

// Subscribe attaches the caller as the run's single subscriber.
func (o *Orchestrator) Subscribe(ctx context.Context, runID string) (*runstore.Subscription, error) {
	sub, err := o.registry.Attach(runID)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("subscriber attached", "run_id", runID)
	return sub, nil
}

// Lookup returns a run's summary, live or archived.
func (o *Orchestrator) Lookup(ctx context.Context, runID string) (*types.RunSummary, error) {
	return o.registry.Lookup(ctx, runID)
}

// RunList is the response shape of the run listing.
type RunList struct {
	Live     []*types.RunSummary `json:"live"`
	Archived []string            `json:"archived"`
}

// List returns live runs and archived run ids.
func (o *Orchestrator) List(ctx context.Context) (*RunList, error) {
	archived, err := o.registry.Archived(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archived runs: %w", err)
	}
	return &RunList{Live: o.registry.List(), Archived: archived}, nil
}

// PlanFile returns the persisted plan of a run, reading the artifact store
// when the local file is gone.
func (o *Orchestrator) PlanFile(ctx context.Context, runID string) ([]byte, error) {
	summary, err := o.registry.Lookup(ctx, runID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(summary.PlanPath)
	if err == nil {
		return data, nil
	}
	if o.artifacts != nil && summary.PlanURI != "" {
		return o.artifacts.ReadPlan(ctx, summary.PlanURI)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("plan for run %s: %w", runID, runstore.ErrRunNotFound)
	}
	return nil, fmt.Errorf("read plan: %w", err)
}

// Steps lists the registered step kinds.
func (o *Orchestrator) Steps() []*steps.Kind {
	return o.kinds.Kinds()
}

// Policy returns the compiler's graph policy.
func (o *Orchestrator) Policy() compiler.Policy {
	return o.compiler.Policy()
}

// Shutdown waits for running runners until ctx is done, then kills the rest.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.logger.Warn("shutdown deadline reached; killing runners")
		o.cancel()
		<-done
		return ctx.Err()
	}
}
