// Package runner defines the unit-of-work contract between the execution
// engine and the code that actually performs a task, along with a registry
// that resolves runners by task kind.
package runner

import (
	"context"
	"encoding/json"

	"agentcore/internal/memory"
)

// Runner executes one task attempt. Implementations must honor ctx
// cancellation and deadlines; the engine enforces per-attempt timeouts
// through the context alone. Returning an error marks the attempt failed;
// wrap with model.Permanent to suppress retries.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Request carries everything a runner may consult for one attempt.
// Payload is the task's opaque payload; Inputs holds the outputs of the
// step's dependencies keyed by step ID. Memory is the shared short-term
// store; any partial writes a cancelled attempt leaves behind are the
// runner's own responsibility.
type Request struct {
	RunID   string                     `json:"run_id"`
	StepID  string                     `json:"step_id"`
	TaskID  string                     `json:"task_id"`
	Kind    string                     `json:"kind"`
	Attempt int                        `json:"attempt"`
	Payload json.RawMessage            `json:"payload,omitempty"`
	Inputs  map[string]json.RawMessage `json:"inputs,omitempty"`

	Memory *memory.Store `json:"-"`
}

// Result holds the output produced by a successful attempt.
type Result struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Run implements Runner.
func (f Func) Run(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
