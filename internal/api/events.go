package api

import (
	"encoding/json"
	"net/http"
)

// eventRequest is the JSON body for POST /v1/events.
type eventRequest struct {
	Event string `json:"event"`
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		s.writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	// Unrecognized events are accepted and ignored, matching the engine.
	s.executor.ProcessEvent(req.Event)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"event": req.Event})
}
