package runstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Retire reasons.
const (
	RetireConsumed = "consumed"
	RetireReaped   = "reaped"
)

// archiveTimeout bounds a single archive write on retirement.
const archiveTimeout = 5 * time.Second

// Registry tracks live runs from submission until their events are consumed
// or they are reaped. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*Run
	archive Archive
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates a run registry. A nil archive discards retired runs.
func NewRegistry(cfg *Config, archive Archive, logger *slog.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:    make(map[string]*Run),
		archive: archive,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateOptions describes a new run.
type CreateOptions struct {
	PlanPath    string
	StepCount   int
	SubmittedBy string
}

// Create registers a new running run with a fresh id.
func (g *Registry) Create(opts CreateOptions) *Run {
	run := &Run{
		ID:          uuid.NewString(),
		PlanPath:    opts.PlanPath,
		StepCount:   opts.StepCount,
		SubmittedBy: opts.SubmittedBy,
		CreatedAt:   g.now().UTC(),
		events:      newQueue(),
		status:      types.RunStatusRunning,
		maxHistory:  g.config.EventMaxLen,
	}

	g.mu.Lock()
	g.runs[run.ID] = run
	n := len(g.runs)
	g.mu.Unlock()

	metrics.RunsRetained.Set(float64(n))
	return run
}

// Get returns a live run.
func (g *Registry) Get(runID string) (*Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	run, ok := g.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// List returns summaries of live runs, oldest first.
func (g *Registry) List() []*types.RunSummary {
	g.mu.Lock()
	runs := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		runs = append(runs, r)
	}
	g.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	out := make([]*types.RunSummary, len(runs))
	for i, r := range runs {
		out[i] = r.Summary(false)
	}
	return out
}

// Lookup returns a run's summary, live or archived.
func (g *Registry) Lookup(ctx context.Context, runID string) (*types.RunSummary, error) {
	if run, err := g.Get(runID); err == nil {
		return run.Summary(true), nil
	}
	if g.archive == nil {
		return nil, ErrRunNotFound
	}

	summary, err := g.archive.Get(ctx, runID)
	recordArchive("get", err)
	return summary, err
}

// Archived returns the ids of archived runs.
func (g *Registry) Archived(ctx context.Context) ([]string, error) {
	if g.archive == nil {
		return []string{}, nil
	}
	ids, err := g.archive.List(ctx)
	recordArchive("list", err)
	return ids, err
}

// Attach makes the caller the run's single subscriber.
// Delivery resumes at the first event not yet delivered.
func (g *Registry) Attach(runID string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	run, ok := g.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.retired {
		return nil, ErrRunNotFound
	}
	if run.attached {
		return nil, ErrRunAttached
	}
	run.attached = true
	metrics.SSEConnections.Inc()

	return &Subscription{registry: g, run: run}, nil
}

// detach releases the subscriber slot; the run stays available for reattachment.
func (g *Registry) detach(run *Run) {
	run.mu.Lock()
	wasAttached := run.attached
	run.attached = false
	run.mu.Unlock()

	if wasAttached {
		metrics.SSEConnections.Dec()
	}
}

// Retire removes a run from the registry and archives its summary.
// Retiring an unknown or already retired run is a no-op.
func (g *Registry) Retire(runID, reason string) {
	g.mu.Lock()
	run, ok := g.runs[runID]
	if ok {
		delete(g.runs, runID)
	}
	n := len(g.runs)
	g.mu.Unlock()

	if !ok {
		return
	}

	run.mu.Lock()
	run.retired = true
	run.mu.Unlock()

	metrics.RunsRetained.Set(float64(n))
	metrics.RunsRetired.WithLabelValues(reason).Inc()
	g.logger.Debug("run retired", "run_id", runID, "reason", reason)

	if g.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	err := g.archive.Save(ctx, run.Summary(true))
	recordArchive("save", err)
	if err != nil {
		g.logger.Warn("failed to archive run", "run_id", runID, "error", err)
	}
}

// Reap retires finished runs that have no subscriber and finished more than
// Retention ago. It returns the number of runs reaped.
func (g *Registry) Reap() int {
	cutoff := g.now().Add(-g.config.Retention)

	g.mu.Lock()
	var expired []string
	for id, run := range g.runs {
		run.mu.Lock()
		if run.finishedAt != nil && !run.attached && run.finishedAt.Before(cutoff) {
			expired = append(expired, id)
		}
		run.mu.Unlock()
	}
	g.mu.Unlock()

	for _, id := range expired {
		g.Retire(id, RetireReaped)
	}
	if len(expired) > 0 {
		g.logger.Info("reaped unconsumed runs", "count", len(expired))
	}
	return len(expired)
}

// StartReaper runs Reap periodically until ctx is done.
func (g *Registry) StartReaper(ctx context.Context) {
	interval := g.config.ReapInterval
	if interval <= 0 {
		interval = g.config.Retention / 4
	}
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Reap()
			}
		}
	}()
}

// Count returns the number of live runs.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runs)
}

// Subscription is the single consumer side of a run's event queue.
type Subscription struct {
	registry *Registry
	run      *Run
	once     sync.Once
	done     bool
}

// RunID returns the subscribed run's id.
func (s *Subscription) RunID() string {
	return s.run.ID
}

// Next blocks for the next event and removes it from the queue. After the
// terminal done event has been returned the run is retired and further calls
// return ErrRunNotFound.
func (s *Subscription) Next(ctx context.Context) (types.Event, error) {
	return s.Deliver(ctx, nil)
}

// Deliver blocks for the next event and hands it to send. The event leaves
// the queue only when send returns nil, so a failed write leaves it for the
// next subscriber. A nil send always succeeds.
func (s *Subscription) Deliver(ctx context.Context, send func(types.Event) error) (types.Event, error) {
	if s.done {
		return types.Event{}, ErrRunNotFound
	}

	evt, err := s.run.events.peek(ctx)
	if err != nil {
		return types.Event{}, err
	}
	if send != nil {
		if err := send(evt); err != nil {
			return evt, err
		}
	}
	s.run.events.drop()

	if evt.IsTerminal() {
		s.done = true
		s.Close()
		s.registry.Retire(s.run.ID, RetireConsumed)
	}
	return evt, nil
}

// Close detaches the subscriber. Undelivered events stay queued.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.registry.detach(s.run)
	})
}

func recordArchive(op string, err error) {
	result := "success"
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		result = "error"
	}
	metrics.ArchiveOperations.WithLabelValues(op, result).Inc()
}
