// Package e2e exercises the full stack in process: HTTP API, engine,
// memory store and SQLite persistence wired together the way cmd/agentcore
// wires them.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentcore/internal/api"
	"agentcore/internal/engine"
	"agentcore/internal/memory"
	"agentcore/internal/model"
	"agentcore/internal/policy"
	"agentcore/internal/runner"
	"agentcore/internal/store"
)

const pollInterval = 20 * time.Millisecond

type stack struct {
	ts  *httptest.Server
	db  *store.SQLiteStore
	eng *engine.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem := memory.New(128, time.Minute)
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)

	pol := policy.New(policy.Config{
		MaxRetries: 2,
		Backoff:    policy.BackoffConstant,
		BaseDelay:  10 * time.Millisecond,
	})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(db, reg, mem, pol, engine.Options{
		StepTimeout: 5 * time.Second,
		Concurrency: 4,
		CancelGrace: 100 * time.Millisecond,
	}, logger)

	srv := api.NewServer(":0", db, mem, reg, eng, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(eng.Wait)

	return &stack{ts: ts, db: db, eng: eng}
}

func (st *stack) waitForRun(t *testing.T, id, status string) *model.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.db.GetRun(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status == status {
			return run
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("run %s did not reach status %q", id, status)
	return nil
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestWorkflowLifecycle(t *testing.T) {
	st := newStack(t)

	// Submit asynchronously, follow events, then inspect the final record.
	body := `{
		"name": "lifecycle",
		"steps": [
			{"id": "seed", "task": {"kind": "memory.put",
				"payload": {"key": "shared", "value": {"n": 7}, "priority": 10}}},
			{"id": "read", "task": {"kind": "memory.get",
				"payload": {"key": "shared"}}, "depends_on": ["seed"]},
			{"id": "slow", "task": {"kind": "sleep",
				"payload": {"duration_ms": 200}}, "depends_on": ["seed"]}
		]
	}`
	resp := postJSON(t, st.ts.URL+"/v1/runs", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var sub struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	resp.Body.Close()

	// Follow the SSE stream while the run executes.
	stream, err := http.Get(st.ts.URL + "/v1/runs/" + sub.RunID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	sawDone := false
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: done" {
			sawDone = true
		}
	}
	if !sawDone && stream.StatusCode == http.StatusOK {
		// The run may have finished before the subscription attached; the
		// store check below is the authoritative assertion.
		t.Log("event stream closed without done marker")
	}

	run := st.waitForRun(t, sub.RunID, model.StatusSuccess)
	if run.StepsTotal != 3 {
		t.Errorf("steps_total = %d, want 3", run.StepsTotal)
	}

	// Step results over HTTP.
	stepsResp, err := http.Get(st.ts.URL + "/v1/runs/" + sub.RunID + "/steps")
	if err != nil {
		t.Fatalf("GET steps: %v", err)
	}
	defer stepsResp.Body.Close()
	var steps []model.StepResult
	if err := json.NewDecoder(stepsResp.Body).Decode(&steps); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	byID := make(map[string]model.StepResult, len(steps))
	for _, s := range steps {
		byID[s.StepID] = s
	}

	// The read step saw the value the seed step wrote.
	var readOut struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(byID["read"].Output, &readOut); err != nil {
		t.Fatalf("unmarshal read output: %v", err)
	}
	if !readOut.Found {
		t.Error("read step did not find the seeded key")
	}
	if !strings.Contains(string(readOut.Value), "7") {
		t.Errorf("read value = %s, want the seeded object", readOut.Value)
	}

	// The seeded entry is visible over the memory API too.
	memResp, err := http.Get(st.ts.URL + "/v1/memory/shared")
	if err != nil {
		t.Fatalf("GET memory: %v", err)
	}
	memResp.Body.Close()
	if memResp.StatusCode != http.StatusOK {
		t.Errorf("memory GET status = %d, want 200", memResp.StatusCode)
	}

	// Stats reflect the finished run.
	statsResp, err := http.Get(st.ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer statsResp.Body.Close()
	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[model.StatusSuccess] != 1 {
		t.Errorf("stats = %+v, want one successful run", stats)
	}
}

func TestWorkflowSyncFailurePropagation(t *testing.T) {
	st := newStack(t)

	// sleep with a negative duration is a permanent payload error; its
	// dependents never run.
	body := `{
		"name": "failing",
		"steps": [
			{"id": "bad", "task": {"kind": "sleep", "payload": {"duration_ms": -1}}},
			{"id": "after", "task": {"kind": "echo"}, "depends_on": ["bad"]}
		]
	}`
	resp := postJSON(t, st.ts.URL+"/v1/runs?wait=true", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res model.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Run.Status != model.StatusFailed {
		t.Errorf("run status = %q, want failed", res.Run.Status)
	}
	if res.Steps["bad"].Status != model.StatusFailed {
		t.Errorf("step bad = %q, want failed", res.Steps["bad"].Status)
	}
	if res.Steps["bad"].Attempts != 1 {
		t.Errorf("permanent failure attempts = %d, want 1", res.Steps["bad"].Attempts)
	}
	if res.Steps["after"].Status != model.StatusCancelled {
		t.Errorf("step after = %q, want cancelled", res.Steps["after"].Status)
	}
}

func TestWorkflowCancellationOverHTTP(t *testing.T) {
	st := newStack(t)

	body := `{"name": "cancellable", "steps": [
		{"id": "forever", "task": {"kind": "sleep", "payload": {"duration_ms": 60000}}}
	]}`
	resp := postJSON(t, st.ts.URL+"/v1/runs", body)
	var sub struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	resp.Body.Close()

	st.waitForRun(t, sub.RunID, model.StatusRunning)

	req, _ := http.NewRequest(http.MethodDelete, st.ts.URL+"/v1/runs/"+sub.RunID, nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE run: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", cancelResp.StatusCode)
	}

	run := st.waitForRun(t, sub.RunID, model.StatusCancelled)
	if run.ErrorCategory != model.CategoryCancelled {
		t.Errorf("error category = %q, want %q", run.ErrorCategory, model.CategoryCancelled)
	}
}
