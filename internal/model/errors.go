package model

import (
	"errors"
	"fmt"
)

// Error categories carried on Run and StepResult records. They classify a
// failure well enough to diagnose it without re-running the workflow.
const (
	CategoryCycle            = "cycle"
	CategoryValidation       = "validation"
	CategoryStepFailed       = "step_failed"
	CategoryStepTimeout      = "step_timeout"
	CategoryRetriesExhausted = "retries_exhausted"
	CategoryWorkflowTimeout  = "workflow_timeout"
	CategoryCancelled        = "cancelled"
	CategoryMemoryCapacity   = "memory_capacity"
)

// Workflow construction errors. All are detected before any step is dispatched.
var (
	ErrCycleDetected      = errors.New("workflow has a dependency cycle")
	ErrNoSteps            = errors.New("workflow has no steps")
	ErrInvalidStep        = errors.New("invalid step")
	ErrDuplicateStep      = errors.New("duplicate step id")
	ErrUnknownDependency  = errors.New("dependency references unknown step")
	ErrSelfDependency     = errors.New("step depends on itself")
	ErrInvalidConcurrency = errors.New("concurrency limit must be positive")
)

// ErrPermanent marks a failure that never qualifies for retry, regardless of
// remaining attempts.
var ErrPermanent = errors.New("permanent")

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
