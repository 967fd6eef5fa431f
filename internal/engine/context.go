package engine

import (
	"encoding/json"
	"sync"
	"time"
)

// ExecutionContext is the mutable state of one workflow run: per-step attempt
// counters and the accumulated outputs of completed steps. It is owned by a
// single run and never shared across runs; all access is mutex-guarded
// because worker goroutines within the run touch it concurrently.
type ExecutionContext struct {
	runID    string
	started  time.Time
	deadline time.Time // zero when the run has no deadline

	mu       sync.Mutex
	attempts map[string]int
	outputs  map[string]json.RawMessage
}

func newExecutionContext(runID string, started, deadline time.Time) *ExecutionContext {
	return &ExecutionContext{
		runID:    runID,
		started:  started,
		deadline: deadline,
		attempts: make(map[string]int),
		outputs:  make(map[string]json.RawMessage),
	}
}

// RunID returns the identifier of the run this context belongs to.
func (c *ExecutionContext) RunID() string { return c.runID }

// StartedAt returns when the run began.
func (c *ExecutionContext) StartedAt() time.Time { return c.started }

// Deadline returns the run's computed deadline, if any.
func (c *ExecutionContext) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// beginAttempt increments and returns the attempt counter for stepID,
// starting at 1.
func (c *ExecutionContext) beginAttempt(stepID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[stepID]++
	return c.attempts[stepID]
}

// Attempts returns how many attempts stepID has made so far.
func (c *ExecutionContext) Attempts(stepID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[stepID]
}

// setOutput records the output of a successfully completed step.
func (c *ExecutionContext) setOutput(stepID string, out json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = out
}

// Output returns the recorded output of stepID, if it has completed.
func (c *ExecutionContext) Output(stepID string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[stepID]
	return out, ok
}

// inputsFor collects the outputs of the given dependency steps into a fresh
// map for handing to a runner.
func (c *ExecutionContext) inputsFor(depIDs []string) map[string]json.RawMessage {
	if len(depIDs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	in := make(map[string]json.RawMessage, len(depIDs))
	for _, id := range depIDs {
		if out, ok := c.outputs[id]; ok {
			in[id] = out
		}
	}
	return in
}
