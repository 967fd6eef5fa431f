// testserver starts an agentcore API server with an in-memory database and
// extra stub runners for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"agentcore/internal/api"
	"agentcore/internal/engine"
	"agentcore/internal/memory"
	"agentcore/internal/model"
	"agentcore/internal/policy"
	"agentcore/internal/runner"
	"agentcore/internal/store"
)

// stubRunner simulates work with a fixed delay and canned output.
type stubRunner struct {
	delay  time.Duration
	output []byte
}

func (s *stubRunner) Run(ctx context.Context, _ runner.Request) (runner.Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}
	return runner.Result{Output: s.output}, nil
}

// flakyRunner fails a fixed number of times before succeeding, for exercising
// retry behavior end to end.
type flakyRunner struct {
	mu       sync.Mutex
	failures int
	seen     map[string]int
}

func (f *flakyRunner) Run(_ context.Context, req runner.Request) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.RunID + "/" + req.StepID
	f.seen[key]++
	if f.seen[key] <= f.failures {
		return runner.Result{}, errors.New("flaky: transient failure")
	}
	out, _ := json.Marshal(map[string]int{"attempts": f.seen[key]})
	return runner.Result{Output: out}, nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("AGENTCORE_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	mem := memory.New(128, 5*time.Minute)

	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	reg.Register("stub.fast", &stubRunner{
		delay:  50 * time.Millisecond,
		output: []byte(`"fast done"`),
	})
	reg.Register("stub.slow", &stubRunner{
		delay:  2 * time.Second,
		output: []byte(`"slow done"`),
	})
	reg.Register("stub.flaky", &flakyRunner{failures: 2, seen: make(map[string]int)})
	reg.Register("stub.fail", runner.Func(func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{}, model.Permanent(errors.New("stub: permanent failure"))
	}))

	pol := policy.New(policy.Config{
		MaxRetries: 3,
		Backoff:    policy.BackoffExponential,
		BaseDelay:  100 * time.Millisecond,
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.New(db, reg, mem, pol, engine.Options{
		StepTimeout:     10 * time.Second,
		WorkflowTimeout: time.Minute,
		Concurrency:     8,
		CancelGrace:     time.Second,
	}, logger)

	srv := api.NewServer(addr, db, mem, reg, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
