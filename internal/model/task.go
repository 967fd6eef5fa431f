package model

import "encoding/json"

// Step and run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
	StatusCancelled = "cancelled"
)

// Task priority levels. Higher values are retained longer under memory
// pressure and may be used by runners as a scheduling hint.
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 10
	PriorityCritical = 15
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusRetrying:  true,
		StatusSuccess:   true,
		StatusFailed:    true,
		StatusTimedOut:  true,
		StatusCancelled: true,
	},
	StatusRetrying: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Task is an immutable unit of work. Kind selects the runner that executes
// it; Payload is opaque to the engine and interpreted by the runner alone.
type Task struct {
	ID         string          `json:"id,omitempty"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TimeoutMS  *int            `json:"timeout_ms,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	Priority   int             `json:"priority,omitempty"`
}

// WorkflowStep wraps a Task with its position in the workflow graph.
// A Sequential step acts as a barrier: no step declared after it may be
// scheduled until it succeeds.
type WorkflowStep struct {
	ID         string   `json:"id"`
	Task       Task     `json:"task"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Sequential bool     `json:"sequential,omitempty"`
}

// Workflow is a DAG of steps submitted for execution as one unit.
// Concurrency bounds the number of steps in flight; nil means the
// configured default.
type Workflow struct {
	Name        string         `json:"name"`
	Steps       []WorkflowStep `json:"steps"`
	TimeoutMS   *int           `json:"timeout_ms,omitempty"`
	Concurrency *int           `json:"concurrency,omitempty"`
}
