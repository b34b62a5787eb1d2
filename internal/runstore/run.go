package runstore

import (
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Run is one submitted pipeline execution held in the registry.
// The relay is its only producer and the attached subscriber its only consumer.
type Run struct {
	ID          string
	PlanPath    string
	StepCount   int
	SubmittedBy string
	CreatedAt   time.Time

	events *queue

	mu         sync.Mutex
	planURI    string
	status     types.RunStatus
	stepsDone  int
	failedStep string
	finishedAt *time.Time
	history    []types.Event
	maxHistory int
	attached   bool
	retired    bool
}

// Enqueue appends evt to the run's queue and folds it into the run's summary.
// Events after the terminal done are dropped.
func (r *Run) Enqueue(evt types.Event) {
	r.mu.Lock()
	if r.finishedAt != nil {
		r.mu.Unlock()
		return
	}
	r.observe(evt)
	r.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(evt.Type)).Inc()
	r.events.push(evt)
}

// observe updates summary state; r.mu must be held.
func (r *Run) observe(evt types.Event) {
	switch evt.Type {
	case types.EventTypeStage:
		if stage, err := evt.Stage(); err == nil {
			switch stage.Status {
			case types.StageStatusDone:
				r.stepsDone++
			case types.StageStatusFailed:
				r.failedStep = stage.StepID
			}
		}
	case types.EventTypeDone:
		r.status = types.RunStatusFailed
		if done, err := evt.Done(); err == nil {
			r.status = done.Status
		}
		now := time.Now().UTC()
		r.finishedAt = &now
	}

	if r.maxHistory > 0 {
		if len(r.history) >= r.maxHistory {
			copy(r.history, r.history[1:])
			r.history = r.history[:len(r.history)-1]
		}
		r.history = append(r.history, evt)
	}
}

// SetPlanURI records where the plan was archived.
func (r *Run) SetPlanURI(uri string) {
	r.mu.Lock()
	r.planURI = uri
	r.mu.Unlock()
}

// Finished reports whether the terminal event has been enqueued.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt != nil
}

// Pending returns the number of undelivered events.
func (r *Run) Pending() int {
	return r.events.len()
}

// Summary returns a snapshot of the run. History is included when withEvents is set.
func (r *Run) Summary(withEvents bool) *types.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &types.RunSummary{
		ID:          r.ID,
		Status:      r.status,
		PlanPath:    r.PlanPath,
		PlanURI:     r.planURI,
		StepCount:   r.StepCount,
		StepsDone:   r.stepsDone,
		FailedStep:  r.failedStep,
		SubmittedBy: r.SubmittedBy,
		CreatedAt:   r.CreatedAt,
	}
	if r.finishedAt != nil {
		t := *r.finishedAt
		s.FinishedAt = &t
	}
	if withEvents {
		s.Events = append([]types.Event(nil), r.history...)
	}
	return s
}
