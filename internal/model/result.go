package model

import (
	"encoding/json"
	"time"
)

// Run is the record of one workflow execution.
type Run struct {
	ID            string     `json:"id"`
	Workflow      string     `json:"workflow"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	ErrorCategory string     `json:"error_category,omitempty"`
	StepsTotal    int        `json:"steps_total"`
	DurationMS    *int       `json:"duration_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// StepResult is the immutable terminal outcome of one step. Attempts counts
// every execution attempt, including the first.
type StepResult struct {
	RunID         string          `json:"run_id"`
	StepID        string          `json:"step_id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCategory string          `json:"error_category,omitempty"`
	Attempts      int             `json:"attempts"`
	DurationMS    int             `json:"duration_ms"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// RunResult aggregates a run's terminal state with its per-step results.
type RunResult struct {
	Run   Run                   `json:"run"`
	Steps map[string]StepResult `json:"steps"`
}

// Event is a step status transition emitted by the engine while a run is in
// flight. Terminal events carry the error detail of the step, if any.
type Event struct {
	RunID   string    `json:"run_id"`
	StepID  string    `json:"step_id,omitempty"`
	Status  string    `json:"status"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}
