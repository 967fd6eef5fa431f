package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentcore/internal/memory"
	"agentcore/internal/model"
)

func putKey(t *testing.T, url, key, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPut, url+"/v1/memory/"+key, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/memory/%s: %v", key, err)
	}
	return resp
}

func TestMemoryPutGetDelete(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := putKey(t, ts.URL, "greeting", `{"value": "hello", "priority": 10}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/v1/memory/greeting")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}

	var entry memoryEntryResponse
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Key != "greeting" {
		t.Errorf("key = %q, want greeting", entry.Key)
	}
	if string(entry.Value) != `"hello"` {
		t.Errorf("value = %s, want \"hello\"", entry.Value)
	}
	if entry.Priority != 10 {
		t.Errorf("priority = %d, want 10", entry.Priority)
	}
	if entry.ExpiresAt == nil {
		t.Error("expires_at missing for default-TTL entry")
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/memory/greeting", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", delResp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/v1/memory/greeting")
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestMemoryPutDefaultsPriority(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := putKey(t, ts.URL, "plain", `{"value": 1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	entry, ok := srv.memory.Peek("plain")
	if !ok {
		t.Fatal("entry not stored")
	}
	if entry.Priority != model.PriorityNormal {
		t.Errorf("priority = %d, want %d", entry.Priority, model.PriorityNormal)
	}
}

func TestMemoryPutPinned(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := putKey(t, ts.URL, "pinned", `{"value": true, "ttl_ms": -1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	entry, ok := srv.memory.Peek("pinned")
	if !ok {
		t.Fatal("entry not stored")
	}
	if !entry.ExpiresAt.IsZero() {
		t.Errorf("pinned entry has expiry %v", entry.ExpiresAt)
	}
}

func TestMemoryPutValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "not json"},
		{"missing value", `{"priority": 1}`},
		{"bad ttl", `{"value": 1, "ttl_ms": -2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := putKey(t, ts.URL, "k", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestMemoryStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := putKey(t, ts.URL, "counted", `{"value": 1}`)
	resp.Body.Close()

	statsResp, err := http.Get(ts.URL + "/v1/memory/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", statsResp.StatusCode)
	}

	var stats memory.Stats
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
	if stats.Capacity != 64 {
		t.Errorf("capacity = %d, want 64", stats.Capacity)
	}
}

func TestMemorySweepEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/memory/sweep", "application/json", nil)
	if err != nil {
		t.Fatalf("POST sweep: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sweep sweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&sweep); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if sweep.Expired != 0 {
		t.Errorf("expired = %d, want 0 on fresh store", sweep.Expired)
	}
}
