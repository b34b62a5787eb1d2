package driver

import (
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// MetricsSink records step and run outcomes before forwarding events to the next sink.
type MetricsSink struct {
	next    EventSink
	started time.Time
}

// NewMetricsSink wraps next. Run duration is measured from now.
func NewMetricsSink(next EventSink) *MetricsSink {
	return &MetricsSink{next: next, started: time.Now()}
}

// Enqueue records evt and forwards it.
func (s *MetricsSink) Enqueue(evt types.Event) {
	switch evt.Type {
	case types.EventTypeStage:
		if stage, err := evt.Stage(); err == nil {
			metrics.StepsTotal.WithLabelValues(string(stage.Status)).Inc()
		}
	case types.EventTypeDone:
		status := string(types.RunStatusFailed)
		if done, err := evt.Done(); err == nil {
			status = string(done.Status)
		}
		metrics.RunsTotal.WithLabelValues(status).Inc()
		metrics.RunDuration.WithLabelValues(status).Observe(time.Since(s.started).Seconds())
	}
	s.next.Enqueue(evt)
}

// Ensure MetricsSink implements EventSink
var _ EventSink = (*MetricsSink)(nil)
