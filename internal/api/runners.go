package api

import "net/http"

// listRunnersResponse is the JSON response for GET /v1/runners.
type listRunnersResponse struct {
	Kinds []string `json:"kinds"`
}

func (s *Server) handleListRunners(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listRunnersResponse{Kinds: s.registry.Kinds()})
}
