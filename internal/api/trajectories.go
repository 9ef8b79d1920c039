package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/executor"
	"github.com/seantiz/traject/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// waypointReq is one trajectory waypoint; time_from_start is in seconds.
type waypointReq struct {
	Positions     []float64 `json:"positions"`
	Velocities    []float64 `json:"velocities,omitempty"`
	TimeFromStart float64   `json:"time_from_start"`
}

// trajectoryReq is the JSON form of a combined multi-joint trajectory.
type trajectoryReq struct {
	Joints []string      `json:"joints"`
	Points []waypointReq `json:"points"`
}

// pushRequest is the JSON body for POST /v1/trajectories and
// POST /v1/trajectories/stream. For the streaming endpoint, positions may be
// given instead of a trajectory to command a single hold waypoint.
type pushRequest struct {
	Trajectory  *trajectoryReq     `json:"trajectory"`
	Positions   map[string]float64 `json:"positions,omitempty"`
	Controllers []string           `json:"controllers,omitempty"`
}

// executeRequest is the JSON body for POST /v1/trajectories/execute.
type executeRequest struct {
	AutoClear bool `json:"auto_clear"`
}

func (req *trajectoryReq) toModel() model.JointTrajectory {
	traj := model.JointTrajectory{
		Joints: req.Joints,
		Points: make([]model.Waypoint, len(req.Points)),
	}
	for i, p := range req.Points {
		traj.Points[i] = model.Waypoint{
			Positions:     p.Positions,
			Velocities:    p.Velocities,
			TimeFromStart: time.Duration(p.TimeFromStart * float64(time.Second)),
		}
	}
	return traj
}

func (s *Server) handlePushTrajectory(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Trajectory == nil {
		s.writeError(w, http.StatusBadRequest, "trajectory is required")
		return
	}

	if err := s.executor.Push(req.Trajectory.toModel(), req.Controllers...); err != nil {
		s.writeExecutorError(w, "push trajectory", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]int{
		"queued": len(s.executor.Trajectories()),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	// An empty body means default options.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.executor.Execute(nil, nil, req.AutoClear)
	if err != nil {
		s.writeExecutorError(w, "execute", err)
		return
	}
	if id == "" {
		// Nothing queued; the run succeeded trivially.
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status": string(model.StatusSucceeded),
		})
		return
	}

	rec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		s.logger.Error("get execution after start", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load execution record")
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var traj model.JointTrajectory
	switch {
	case req.Trajectory != nil:
		traj = req.Trajectory.toModel()
	case len(req.Positions) > 0:
		traj = model.SingleWaypoint(req.Positions)
	default:
		s.writeError(w, http.StatusBadRequest, "trajectory or positions is required")
		return
	}

	id, err := s.executor.PushAndExecute(traj, req.Controllers, nil)
	if err != nil {
		s.writeExecutorError(w, "stream trajectory", err)
		return
	}

	rec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		s.logger.Error("get execution after enqueue", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load execution record")
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

// queuedContextResponse describes one queued batch context.
type queuedContextResponse struct {
	Controllers []string `json:"controllers"`
	Waypoints   int      `json:"waypoints"`
	DurationMS  int64    `json:"duration_ms"`
}

func (s *Server) handleListQueued(w http.ResponseWriter, r *http.Request) {
	contexts := s.executor.Trajectories()
	out := make([]queuedContextResponse, len(contexts))
	for i, ctx := range contexts {
		waypoints := 0
		for _, part := range ctx.Parts {
			if len(part.Points) > waypoints {
				waypoints = len(part.Points)
			}
		}
		out[i] = queuedContextResponse{
			Controllers: ctx.Controllers,
			Waypoints:   waypoints,
			DurationMS:  ctx.Duration().Milliseconds(),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"contexts": out,
		"total":    len(out),
	})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.Clear(); err != nil {
		s.writeExecutorError(w, "clear queue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeExecutorError maps executor errors onto HTTP statuses: rejected input
// is the client's fault, an active run is a conflict, shutdown means the
// service is going away.
func (s *Server) writeExecutorError(w http.ResponseWriter, op string, err error) {
	var verr *executor.ValidationError
	var derr *executor.DistributionError
	var aerr *controller.ActivationError
	switch {
	case errors.Is(err, executor.ErrEmptyTrajectory),
		errors.Is(err, executor.ErrMalformedTrajectory),
		errors.Is(err, controller.ErrUnknownController),
		errors.Is(err, controller.ErrNoCoveringCombination),
		errors.As(err, &derr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "start state validation failed",
			"mismatches": verr.Mismatches,
		})
	case errors.As(err, &aerr):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrExecutionActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
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
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
