package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentcore/internal/memory"
	"agentcore/internal/model"
	"agentcore/internal/policy"
	"agentcore/internal/runner"
	"agentcore/internal/store"
)

// Options carries the engine-wide execution defaults. Individual tasks and
// workflows may override timeouts, retry budgets and concurrency per request;
// these values apply where they do not.
type Options struct {
	// StepTimeout bounds a single task attempt. Zero disables the bound.
	StepTimeout time.Duration
	// WorkflowTimeout bounds a whole run. Zero disables the bound.
	WorkflowTimeout time.Duration
	// Concurrency is the maximum number of steps in flight per run.
	Concurrency int
	// CancelGrace is how long an in-flight attempt may keep running after
	// its run is cancelled before its context is forcibly cancelled too.
	CancelGrace time.Duration
}

// Engine executes workflows: it validates the dependency graph, dispatches
// ready steps onto a bounded worker pool, applies the retry policy to failed
// attempts, and records run and step outcomes in the store.
type Engine struct {
	store    store.Store
	registry *runner.Registry
	memory   *memory.Store
	policy   *policy.Policy
	broker   *Broker
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine. A Concurrency of zero or less falls back to 1.
func New(st store.Store, reg *runner.Registry, mem *memory.Store, pol *policy.Policy, opts Options, logger *slog.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Engine{
		store:    st,
		registry: reg,
		memory:   mem,
		policy:   pol,
		broker:   NewBroker(),
		logger:   logger,
		opts:     opts,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for subscribing to run events.
func (e *Engine) Broker() *Broker { return e.broker }

// Run executes wf synchronously and returns its aggregated result. Graph
// validation errors are returned before any step is dispatched; once
// execution starts, step failures surface in the result rather than as an
// error.
func (e *Engine) Run(ctx context.Context, wf *model.Workflow) (*model.RunResult, error) {
	g, err := e.validate(wf)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := model.Run{
		ID:         model.NewID(),
		Workflow:   wf.Name,
		Status:     model.StatusRunning,
		StepsTotal: len(wf.Steps),
		CreatedAt:  now,
		StartedAt:  &now,
	}
	if err := e.store.CreateRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return e.execute(ctx, run, wf, g), nil
}

// Submit validates wf, records it as pending, and executes it in the
// background. It returns the run ID immediately; progress is observable
// through the store and the event broker.
func (e *Engine) Submit(ctx context.Context, wf *model.Workflow) (string, error) {
	g, err := e.validate(wf)
	if err != nil {
		return "", err
	}

	run := model.Run{
		ID:         model.NewID(),
		Workflow:   wf.Name,
		Status:     model.StatusPending,
		StepsTotal: len(wf.Steps),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, &run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.Background(), run, wf, g)
	}()

	return run.ID, nil
}

// Cancel requests cancellation of an in-flight run. It reports whether the
// run was found; completion of the cancellation is asynchronous.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all background runs have finished. Intended for
// shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) validate(wf *model.Workflow) (*graph, error) {
	if wf.Concurrency != nil && *wf.Concurrency <= 0 {
		return nil, model.ErrInvalidConcurrency
	}
	return buildGraph(wf)
}

// stepOutcome is a worker's report of one step reaching terminal status.
type stepOutcome struct {
	idx      int
	status   string
	output   []byte
	errMsg   string
	category string
	attempts int
	duration time.Duration
}

// execute runs the scheduling loop for one workflow. It owns all per-run
// state; workers communicate exclusively through the done channel.
func (e *Engine) execute(ctx context.Context, run model.Run, wf *model.Workflow, g *graph) *model.RunResult {
	concurrency := e.opts.Concurrency
	if wf.Concurrency != nil {
		concurrency = *wf.Concurrency
	}
	workflowTimeout := e.opts.WorkflowTimeout
	if wf.TimeoutMS != nil {
		workflowTimeout = time.Duration(*wf.TimeoutMS) * time.Millisecond
	}

	started := time.Now().UTC()
	if run.StartedAt == nil {
		run.StartedAt = &started
	}

	runCtx, cancel := context.WithCancel(ctx)
	if workflowTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, workflowTimeout)
	}
	defer cancel()

	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, run.ID)
		e.mu.Unlock()
	}()

	activeRuns.Inc()
	defer activeRuns.Dec()

	// Submitted runs arrive pending; transition them only after the cancel
	// func is registered, so a caller that observes "running" can cancel.
	if run.Status == model.StatusPending {
		run.Status = model.StatusRunning
		if err := e.store.UpdateRunStatus(context.Background(), run.ID, model.StatusRunning); err != nil {
			e.logger.Error("mark run running", "run_id", run.ID, "error", err)
		}
	}

	var deadline time.Time
	if workflowTimeout > 0 {
		deadline = started.Add(workflowTimeout)
	}
	ectx := newExecutionContext(run.ID, started, deadline)

	log := e.logger.With("run_id", run.ID, "workflow", run.Workflow)
	log.Info("run started", "steps", len(g.steps), "concurrency", concurrency)
	e.broker.Publish(run.ID, model.Event{
		RunID:  run.ID,
		Status: model.StatusRunning,
		Time:   started,
	})

	n := len(g.steps)
	state := make([]string, n)
	for i := range state {
		state[i] = model.StatusPending
	}
	indeg := make([]int, n)
	copy(indeg, g.indegree)

	results := make(map[string]model.StepResult, n)
	done := make(chan stepOutcome)
	sem := make(chan struct{}, concurrency)

	dispatch := func(idx int) {
		state[idx] = model.StatusRunning
		go e.runStep(runCtx, run.ID, idx, g, ectx, sem, done)
	}

	// settle records a terminal step outcome without dispatching anything.
	finished := 0
	settle := func(idx int, out stepOutcome) {
		finished++
		state[idx] = out.status
		res := model.StepResult{
			RunID:         run.ID,
			StepID:        g.steps[idx].ID,
			Status:        out.status,
			Output:        out.output,
			Error:         out.errMsg,
			ErrorCategory: out.category,
			Attempts:      out.attempts,
			DurationMS:    int(out.duration.Milliseconds()),
			FinishedAt:    time.Now().UTC(),
		}
		results[res.StepID] = res

		stepsTotal.WithLabelValues(out.status).Inc()
		stepDuration.Observe(out.duration.Seconds())

		if err := e.store.InsertStepResult(context.Background(), &res); err != nil {
			log.Error("persist step result", "step_id", res.StepID, "error", err)
		}
		e.broker.Publish(run.ID, model.Event{
			RunID:   run.ID,
			StepID:  res.StepID,
			Status:  res.Status,
			Attempt: res.Attempts,
			Error:   res.Error,
			Time:    res.FinishedAt,
		})
		log.Info("step finished",
			"step_id", res.StepID,
			"status", res.Status,
			"attempts", res.Attempts,
			"duration_ms", res.DurationMS,
		)
	}

	for _, idx := range g.roots() {
		dispatch(idx)
	}

	aborted := false
	abortCategory := ""
	runDone := runCtx.Done()

	for finished < n {
		select {
		case out := <-done:
			settle(out.idx, out)

			switch out.status {
			case model.StatusSuccess:
				if aborted {
					break
				}
				for _, dep := range g.dependents[out.idx] {
					indeg[dep]--
					if indeg[dep] == 0 && state[dep] == model.StatusPending {
						dispatch(dep)
					}
				}
			default:
				// A failed, timed-out or cancelled step takes its entire
				// downstream cone with it. Only pending steps are affected;
				// a dependent cannot be in flight while its dependency is
				// unfinished.
				for _, idx := range g.transitiveDependents(out.idx) {
					if state[idx] != model.StatusPending {
						continue
					}
					settle(idx, stepOutcome{
						idx:      idx,
						status:   model.StatusCancelled,
						errMsg:   fmt.Sprintf("dependency %q %s", g.steps[out.idx].ID, out.status),
						category: model.CategoryCancelled,
					})
				}
			}

		case <-runDone:
			runDone = nil
			aborted = true
			abortCategory = model.CategoryCancelled
			reason := "run cancelled"
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				abortCategory = model.CategoryWorkflowTimeout
				reason = fmt.Sprintf("workflow deadline of %s exceeded", workflowTimeout)
			}
			log.Warn("run aborted", "reason", reason)

			// Pending steps cancel immediately; in-flight steps get the
			// grace period and report their own outcomes.
			for idx := range g.steps {
				if state[idx] != model.StatusPending {
					continue
				}
				settle(idx, stepOutcome{
					idx:      idx,
					status:   model.StatusCancelled,
					errMsg:   reason,
					category: abortCategory,
				})
			}
		}
	}

	finishedAt := time.Now().UTC()
	durationMS := int(finishedAt.Sub(started).Milliseconds())
	run.FinishedAt = &finishedAt
	run.DurationMS = &durationMS

	switch {
	case aborted:
		run.Status = model.StatusCancelled
		run.ErrorCategory = abortCategory
		run.Error = "run cancelled"
		if abortCategory == model.CategoryWorkflowTimeout {
			run.Error = fmt.Sprintf("workflow deadline of %s exceeded", workflowTimeout)
		}
	default:
		run.Status = model.StatusSuccess
		for _, step := range g.steps {
			res := results[step.ID]
			if res.Status == model.StatusFailed || res.Status == model.StatusTimedOut {
				run.Status = model.StatusFailed
				run.ErrorCategory = res.ErrorCategory
				run.Error = fmt.Sprintf("step %q %s after %d attempts: %s",
					step.ID, res.Status, res.Attempts, res.Error)
				break
			}
		}
	}

	if err := e.store.UpdateRun(context.Background(), &run); err != nil {
		log.Error("persist run", "error", err)
	}

	runsTotal.WithLabelValues(run.Status).Inc()
	e.broker.Publish(run.ID, model.Event{
		RunID:  run.ID,
		Status: run.Status,
		Error:  run.Error,
		Time:   finishedAt,
	})
	e.broker.Close(run.ID)
	log.Info("run finished", "status", run.Status, "duration_ms", durationMS)

	return &model.RunResult{Run: run, Steps: results}
}

// runStep drives one step from dispatch to terminal status: it acquires a
// worker slot per attempt, executes the runner, consults the retry policy on
// failure, and reports exactly one outcome on done.
func (e *Engine) runStep(ctx context.Context, runID string, idx int, g *graph, ectx *ExecutionContext, sem chan struct{}, done chan<- stepOutcome) {
	step := g.steps[idx]
	task := step.Task

	pol := e.policy
	if task.MaxRetries != nil {
		pol = pol.ForTask(*task.MaxRetries)
	}
	stepTimeout := e.opts.StepTimeout
	if task.TimeoutMS != nil {
		stepTimeout = time.Duration(*task.TimeoutMS) * time.Millisecond
	}

	start := time.Now()

	r, err := e.registry.Resolve(task.Kind)
	if err != nil {
		done <- stepOutcome{
			idx:      idx,
			status:   model.StatusFailed,
			errMsg:   err.Error(),
			category: model.CategoryValidation,
			duration: time.Since(start),
		}
		return
	}

	cancelled := func() stepOutcome {
		category := model.CategoryCancelled
		errMsg := "run cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			category = model.CategoryWorkflowTimeout
			errMsg = "workflow deadline exceeded"
		}
		return stepOutcome{
			idx:      idx,
			status:   model.StatusCancelled,
			errMsg:   errMsg,
			category: category,
			attempts: ectx.Attempts(step.ID),
			duration: time.Since(start),
		}
	}

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			done <- cancelled()
			return
		}

		attempt := ectx.beginAttempt(step.ID)
		if attempt > 1 {
			retriesTotal.Inc()
		}
		e.broker.Publish(runID, model.Event{
			RunID:   runID,
			StepID:  step.ID,
			Status:  model.StatusRunning,
			Attempt: attempt,
			Time:    time.Now().UTC(),
		})

		req := runner.Request{
			RunID:   runID,
			StepID:  step.ID,
			TaskID:  task.ID,
			Kind:    task.Kind,
			Attempt: attempt,
			Payload: task.Payload,
			Inputs:  ectx.inputsFor(step.DependsOn),
			Memory:  e.memory,
		}
		res, err := e.attempt(ctx, stepTimeout, r, req)
		<-sem

		if err == nil {
			ectx.setOutput(step.ID, res.Output)
			done <- stepOutcome{
				idx:      idx,
				status:   model.StatusSuccess,
				output:   res.Output,
				attempts: attempt,
				duration: time.Since(start),
			}
			return
		}

		// The run was aborted while this attempt was in flight; whatever the
		// runner returned, the step is cancelled, not failed.
		if ctx.Err() != nil {
			done <- cancelled()
			return
		}

		timedOut := errors.Is(err, context.DeadlineExceeded)

		if d := pol.Decide(attempt, err); d.Retry {
			e.broker.Publish(runID, model.Event{
				RunID:   runID,
				StepID:  step.ID,
				Status:  model.StatusRetrying,
				Attempt: attempt,
				Error:   err.Error(),
				Time:    time.Now().UTC(),
			})
			e.logger.Debug("step retrying",
				"run_id", runID,
				"step_id", step.ID,
				"attempt", attempt,
				"delay", d.Delay,
				"error", err,
			)
			select {
			case <-time.After(d.Delay):
				continue
			case <-ctx.Done():
				done <- cancelled()
				return
			}
		}

		out := stepOutcome{
			idx:      idx,
			errMsg:   err.Error(),
			attempts: attempt,
			duration: time.Since(start),
		}
		switch {
		case timedOut:
			out.status = model.StatusTimedOut
			out.category = model.CategoryStepTimeout
			out.errMsg = fmt.Sprintf("attempt timed out after %s", stepTimeout)
		case pol.MaxRetries() > 0 && attempt > pol.MaxRetries():
			out.status = model.StatusFailed
			out.category = model.CategoryRetriesExhausted
		default:
			out.status = model.StatusFailed
			out.category = model.CategoryStepFailed
		}
		done <- out
		return
	}
}

// attempt runs a single runner invocation under the per-attempt timeout.
// The attempt context deliberately does not inherit run cancellation
// directly: when the run is cancelled, the attempt keeps its context alive
// for the grace period so it can finish cleanly before being cut off.
func (e *Engine) attempt(ctx context.Context, stepTimeout time.Duration, r runner.Runner, req runner.Request) (runner.Result, error) {
	base := context.WithoutCancel(ctx)

	var attemptCtx context.Context
	var cancelAttempt context.CancelFunc
	if stepTimeout > 0 {
		attemptCtx, cancelAttempt = context.WithTimeout(base, stepTimeout)
	} else {
		attemptCtx, cancelAttempt = context.WithCancel(base)
	}
	defer cancelAttempt()

	stop := context.AfterFunc(ctx, func() {
		if e.opts.CancelGrace <= 0 {
			cancelAttempt()
			return
		}
		// Firing after the attempt already returned is harmless.
		time.AfterFunc(e.opts.CancelGrace, cancelAttempt)
	})
	defer stop()

	return r.Run(attemptCtx, req)
}
