package api

import (
	"net/http"
	"sort"

	"github.com/seantiz/traject/internal/controller"
)

// controllerResponse is the JSON view of one registered controller.
type controllerResponse struct {
	Name        string   `json:"name"`
	Joints      []string `json:"joints"`
	Overlapping []string `json:"overlapping,omitempty"`
	State       string   `json:"state"`
	Active      bool     `json:"active"`
}

func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.executor.Controllers()
	if err != nil {
		s.logger.Error("list controllers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list controllers")
		return
	}

	out := make([]controllerResponse, len(infos))
	for i, ci := range infos {
		out[i] = controllerResponse{
			Name:        ci.Name,
			Joints:      sortedKeys(ci.Joints),
			Overlapping: sortedKeys(ci.Overlapping),
			State:       string(ci.State),
			Active:      ci.State == controller.StateActive,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"controllers": out,
		"managing":    s.executor.IsManagingControllers(),
	})
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
