package types

import (
	"encoding/json"
	"fmt"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventTypeLog   EventType = "log"
	EventTypeStage EventType = "stage"
	EventTypeDone  EventType = "done"
)

// LogLevel represents the severity of a log event.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// StageStatus is the outcome of a single step.
type StageStatus string

const (
	StageStatusDone   StageStatus = "done"
	StageStatusFailed StageStatus = "failed"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Event is a single message in a run's event stream.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// LogEvent is the payload of a log event.
type LogEvent struct {
	Line  string   `json:"line"`
	Level LogLevel `json:"level,omitempty"`
}

// StageEvent is the payload of a stage event.
type StageEvent struct {
	JobID    string      `json:"jobId,omitempty"`
	StepID   string      `json:"stepId"`
	Status   StageStatus `json:"status"`
	ExitCode *int        `json:"exitCode,omitempty"`
}

// DoneEvent is the payload of the terminal event.
type DoneEvent struct {
	Status   RunStatus `json:"status"`
	ExitCode *int      `json:"exitCode,omitempty"`
}

// NewEvent encodes payload as the data of an event of the given type.
func NewEvent(t EventType, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this only trips on programmer error.
		data, _ = json.Marshal(LogEvent{Line: fmt.Sprintf("unencodable %s payload: %v", t, err), Level: LogLevelError})
		t = EventTypeLog
	}
	return Event{Type: t, Data: data}
}

// NewLogEvent builds a log event at the given level. An empty level is plain passthrough.
func NewLogEvent(line string, level LogLevel) Event {
	return NewEvent(EventTypeLog, LogEvent{Line: line, Level: level})
}

// NewStageEvent builds a stage event for a step.
func NewStageEvent(jobID, stepID string, status StageStatus, exitCode *int) Event {
	return NewEvent(EventTypeStage, StageEvent{JobID: jobID, StepID: stepID, Status: status, ExitCode: exitCode})
}

// NewDoneEvent builds the terminal event.
func NewDoneEvent(status RunStatus, exitCode *int) Event {
	return NewEvent(EventTypeDone, DoneEvent{Status: status, ExitCode: exitCode})
}

// IsTerminal reports whether e ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventTypeDone
}

// Stage decodes the payload of a stage event.
func (e Event) Stage() (*StageEvent, error) {
	if e.Type != EventTypeStage {
		return nil, fmt.Errorf("event type %q is not %q", e.Type, EventTypeStage)
	}
	var s StageEvent
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, fmt.Errorf("decode stage event: %w", err)
	}
	return &s, nil
}

// Done decodes the payload of a done event.
func (e Event) Done() (*DoneEvent, error) {
	if e.Type != EventTypeDone {
		return nil, fmt.Errorf("event type %q is not %q", e.Type, EventTypeDone)
	}
	var d DoneEvent
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode done event: %w", err)
	}
	return &d, nil
}

// ToSSE formats the event for the Server-Sent Events protocol.
// Format: event: <type>\ndata: <json>\n\n
func (e Event) ToSSE() []byte {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data))
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
