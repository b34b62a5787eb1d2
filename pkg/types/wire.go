package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// WireVersion is the version of the runner line protocol.
	WireVersion = 1

	// markerPrefix starts every structured line the runner writes.
	markerPrefix = "EVENT/"
)

// Marker is the full prefix of a structured line, including the trailing space.
var Marker = fmt.Sprintf("%s%d ", markerPrefix, WireVersion)

var (
	ErrMalformedEvent     = errors.New("malformed runner event")
	ErrUnsupportedVersion = errors.New("unsupported runner event version")
)

// RunnerMessage is the JSON body of a structured runner line.
type RunnerMessage struct {
	Type     EventType `json:"type"`
	StepID   string    `json:"stepId,omitempty"`
	Status   string    `json:"status"`
	ExitCode *int      `json:"exitCode,omitempty"`
}

// EncodeRunnerLine renders msg as a single marker-prefixed line, without the newline.
func EncodeRunnerLine(msg RunnerMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode runner message: %w", err)
	}
	return Marker + string(body), nil
}

// IsStructuredLine reports whether line carries the structured-event marker of any version.
func IsStructuredLine(line string) bool {
	return strings.HasPrefix(line, markerPrefix)
}

// ParseRunnerLine decodes a structured line into a typed event for jobID.
// The caller must check IsStructuredLine first.
func ParseRunnerLine(jobID, line string) (Event, error) {
	if !strings.HasPrefix(line, Marker) {
		version, _, _ := strings.Cut(strings.TrimPrefix(line, markerPrefix), " ")
		return Event{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	var msg RunnerMessage
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, Marker)), &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch msg.Type {
	case EventTypeStage:
		if msg.StepID == "" {
			return Event{}, fmt.Errorf("%w: stage event without stepId", ErrMalformedEvent)
		}
		status := StageStatus(msg.Status)
		if status != StageStatusDone && status != StageStatusFailed {
			return Event{}, fmt.Errorf("%w: stage status %q", ErrMalformedEvent, msg.Status)
		}
		return NewStageEvent(jobID, msg.StepID, status, msg.ExitCode), nil
	case EventTypeDone:
		status := RunStatus(msg.Status)
		if status != RunStatusSucceeded && status != RunStatusFailed {
			return Event{}, fmt.Errorf("%w: done status %q", ErrMalformedEvent, msg.Status)
		}
		return NewDoneEvent(status, msg.ExitCode), nil
	default:
		return Event{}, fmt.Errorf("%w: event type %q", ErrMalformedEvent, msg.Type)
	}
}
