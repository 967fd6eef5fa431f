package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"agentcore/internal/model"
	"agentcore/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs.
type createRunRequest struct {
	Name        string               `json:"name"`
	Steps       []model.WorkflowStep `json:"steps"`
	TimeoutMS   *int                 `json:"timeout_ms"`
	Concurrency *int                 `json:"concurrency"`
}

// submitResponse is the JSON response for an async submission.
type submitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	wf := &model.Workflow{
		Name:        req.Name,
		Steps:       req.Steps,
		TimeoutMS:   req.TimeoutMS,
		Concurrency: req.Concurrency,
	}

	if r.URL.Query().Get("wait") == "true" {
		res, err := s.engine.Run(r.Context(), wf)
		if err != nil {
			s.writeWorkflowError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
		return
	}

	id, err := s.engine.Submit(r.Context(), wf)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		RunID:  id,
		Status: model.StatusPending,
	})
}

// writeWorkflowError maps workflow construction errors to 400 responses and
// everything else to 500.
func (s *Server) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrCycleDetected),
		errors.Is(err, model.ErrNoSteps),
		errors.Is(err, model.ErrInvalidStep),
		errors.Is(err, model.ErrDuplicateStep),
		errors.Is(err, model.ErrUnknownDependency),
		errors.Is(err, model.ErrSelfDependency),
		errors.Is(err, model.ErrInvalidConcurrency):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("execute workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to execute workflow")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetRunSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run for steps", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	results, err := s.store.GetStepResults(r.Context(), id)
	if err != nil {
		s.logger.Error("get step results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get step results")
		return
	}

	if results == nil {
		results = []model.StepResult{}
	}

	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for cancel", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	if model.IsTerminal(run.Status) {
		s.writeError(w, http.StatusConflict, "run already finished")
		return
	}

	if !s.engine.Cancel(id) {
		// Pending but not yet picked up, or finished between the check and
		// the cancel. The store is authoritative; report conflict.
		s.writeError(w, http.StatusConflict, "run is not active")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		RunID:  id,
		Status: model.StatusCancelled,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
