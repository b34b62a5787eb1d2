package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/k8s"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
)

// cleanupTimeout bounds deleting a run's Job and ConfigMap.
const cleanupTimeout = 10 * time.Second

// JobDriver executes plans by running the job runner as a Kubernetes Job.
// The plan travels in a ConfigMap mounted into the pod; pod logs feed the
// same relay as the local runner's output.
type JobDriver struct {
	client  *k8s.Client
	builder *k8s.JobBuilder
	logger  *slog.Logger
}

// NewJobDriver creates a Kubernetes Job driver.
func NewJobDriver(client *k8s.Client, cfg *k8s.JobConfig, logger *slog.Logger) *JobDriver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = k8s.DefaultJobConfig()
	}
	cfg.Namespace = client.Namespace()
	return &JobDriver{
		client:  client,
		builder: k8s.NewJobBuilder(cfg),
		logger:  logger,
	}
}

// Run submits the Job, relays its pod logs and returns the runner's exit code.
func (d *JobDriver) Run(ctx context.Context, runID, planPath string, sink EventSink) int {
	logger := d.logger.With("run_id", runID)
	relay := &relay{runID: runID, sink: sink, logger: logger}

	plan, err := os.ReadFile(planPath)
	if err != nil {
		relay.finish(-1, fmt.Errorf("read plan: %w", err))
		return -1
	}

	job, err := d.builder.BuildJob(runID)
	if err != nil {
		relay.finish(-1, fmt.Errorf("build job: %w", err))
		return -1
	}
	if _, err := d.client.CreateConfigMap(ctx, d.builder.BuildPlanConfigMap(runID, plan)); err != nil {
		relay.finish(-1, fmt.Errorf("create plan configmap: %w", err))
		return -1
	}
	defer d.cleanup(logger, job.Name)

	if _, err := d.client.CreateJob(ctx, job); err != nil {
		relay.finish(-1, fmt.Errorf("create job: %w", err))
		return -1
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	logger.Info("runner job created", "job", job.Name, "namespace", d.client.Namespace())

	podName, err := d.client.WaitForPod(ctx, job.Name)
	if err != nil {
		relay.finish(-1, fmt.Errorf("wait for runner pod: %w", err))
		return -1
	}

	stream, err := d.client.StreamLogs(ctx, podName)
	if err != nil {
		relay.finish(-1, err)
		return -1
	}
	relay.read(stream)
	stream.Close()

	code, err := d.client.WaitForExit(ctx, podName)
	if err != nil {
		relay.finish(-1, fmt.Errorf("wait for runner exit: %w", err))
		return -1
	}
	relay.finish(code, nil)
	logger.Info("runner job finished", "job", job.Name, "exit_code", code)
	return code
}

// cleanup deletes the Job and its ConfigMap; it runs after ctx may be cancelled.
func (d *JobDriver) cleanup(logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := d.client.DeleteJob(ctx, name); err != nil {
		logger.Debug("delete runner job", "job", name, "error", err)
	}
	if err := d.client.DeleteConfigMap(ctx, name); err != nil {
		logger.Debug("delete plan configmap", "configmap", name, "error", err)
	}
}

var _ Driver = (*JobDriver)(nil)
