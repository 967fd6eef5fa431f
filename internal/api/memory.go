package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agentcore/internal/memory"
	"agentcore/internal/model"
)

// putMemoryRequest is the JSON body for PUT /v1/memory/{key}.
// TTLMS zero or absent uses the configured default; -1 pins the entry.
type putMemoryRequest struct {
	Value    json.RawMessage `json:"value"`
	TTLMS    int64           `json:"ttl_ms"`
	Priority int             `json:"priority"`
}

// memoryEntryResponse is the JSON shape of one memory entry.
type memoryEntryResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func (s *Server) handlePutMemory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req putMemoryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 {
		s.writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if req.TTLMS < -1 {
		s.writeError(w, http.StatusBadRequest, "ttl_ms must be -1, 0 or positive")
		return
	}
	if req.Priority == 0 {
		req.Priority = model.PriorityNormal
	}

	ttl := time.Duration(req.TTLMS) * time.Millisecond
	if req.TTLMS == -1 {
		ttl = memory.NoExpiry
	}

	if err := s.memory.Put(key, req.Value, ttl, req.Priority); err != nil {
		s.writeError(w, http.StatusInsufficientStorage, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	entry, ok := s.memory.Peek(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, "key not found")
		return
	}
	// Peek checked existence without counting a hit; Get records the access
	// so HTTP reads participate in recency like runner reads do.
	value, _ := s.memory.Get(key)

	resp := memoryEntryResponse{
		Key:       entry.Key,
		Value:     value,
		Priority:  entry.Priority,
		CreatedAt: entry.CreatedAt,
	}
	if !entry.ExpiresAt.IsZero() {
		resp.ExpiresAt = &entry.ExpiresAt
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if !s.memory.Delete(key) {
		s.writeError(w, http.StatusNotFound, "key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.memory.Stats())
}

// sweepResponse is the JSON response for POST /v1/memory/sweep.
type sweepResponse struct {
	Expired int `json:"expired"`
}

func (s *Server) handleMemorySweep(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, sweepResponse{Expired: s.memory.EvictExpired()})
}
