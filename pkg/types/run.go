package types

import (
	"time"
)

// RunSummary describes a run for inspection endpoints, live or archived.
type RunSummary struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	PlanPath    string     `json:"planPath"`
	PlanURI     string     `json:"planUri,omitempty"`
	StepCount   int        `json:"stepCount"`
	StepsDone   int        `json:"stepsDone"`
	FailedStep  string     `json:"failedStep,omitempty"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Events      []Event    `json:"events,omitempty"`
}
