// Package driver launches the job runner for a run and relays its output as events.
package driver

import (
	"context"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Driver executes a persisted step plan for one run.
type Driver interface {
	// Run launches the runner for planPath and blocks until it exits.
	// The driver is responsible for:
	// - Spawning the runner with its stdout and stderr joined
	// - Turning EVENT/1 lines into typed events and everything else into log events
	// - Delivering exactly one terminal done event, synthesizing it if the runner did not
	//
	// Returns the runner's exit code (-1 when it could not be started or was killed by a signal).
	Run(ctx context.Context, runID, planPath string, sink EventSink) int
}

// EventSink receives the events of one run in order.
type EventSink interface {
	Enqueue(evt types.Event)
}
