// Package runstore holds live runs, their event queues, and the archive of finished runs.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Common errors returned by the registry and archives.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunAttached = errors.New("run already has a subscriber")
)

// Archive keeps summaries of retired runs for inspection.
// Implementations must be safe for concurrent use.
type Archive interface {
	// Save stores a retired run's summary, including its bounded event history.
	Save(ctx context.Context, summary *types.RunSummary) error

	// Get returns an archived run or ErrRunNotFound.
	Get(ctx context.Context, runID string) (*types.RunSummary, error)

	// List returns archived run IDs.
	List(ctx context.Context) ([]string, error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	Close() error
}

// Config holds configuration for the run registry.
type Config struct {
	// Maximum number of events kept per run for the archive (oldest dropped first)
	EventMaxLen int

	// How long a finished run waits for its subscriber before it is reaped
	Retention time.Duration

	// How often the reaper scans (0 = Retention/4, minimum one second)
	ReapInterval time.Duration
}

// DefaultConfig returns sensible defaults for the run registry.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		Retention:   30 * time.Minute,
	}
}
