package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentcore/internal/model"
)

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsFinishedRun(t *testing.T) {
	srv := newTestServer(t)

	run := &model.Run{
		ID:         model.NewID(),
		Workflow:   "done",
		Status:     model.StatusSuccess,
		StepsTotal: 1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := srv.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestStreamEventsDeliversTransitions(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Submit a run that blocks long enough to attach a subscriber, then
	// finishes quickly.
	body := `{"name": "stream", "steps": [
		{"id": "a", "task": {"kind": "sleep", "payload": {"duration_ms": 300}}}
	]}`
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/v1/runs/" + sub.RunID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	if stream.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", stream.StatusCode)
	}

	var events []model.Event
	var sawDone bool
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			sawDone = true
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && strings.HasPrefix(data, "{") {
			var ev model.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("unmarshal event %q: %v", data, err)
			}
			events = append(events, ev)
		}
	}

	if !sawDone {
		t.Error("stream ended without done event")
	}

	var sawStepTerminal, sawRunTerminal bool
	for _, ev := range events {
		if ev.StepID == "a" && ev.Status == model.StatusSuccess {
			sawStepTerminal = true
		}
		if ev.StepID == "" && ev.Status == model.StatusSuccess {
			sawRunTerminal = true
		}
	}
	if !sawStepTerminal {
		t.Errorf("no terminal step event in %+v", events)
	}
	if !sawRunTerminal {
		t.Errorf("no terminal run event in %+v", events)
	}
}
