package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/traject/internal/api"
	"github.com/seantiz/traject/internal/config"
	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/controller/sim"
	"github.com/seantiz/traject/internal/executor"
	"github.com/seantiz/traject/internal/model"
	"github.com/seantiz/traject/internal/store"
)

// newTestServer builds a server backed by a fast simulated provider with an
// arm (j1, j2) and a gripper (j3).
func newTestServer(t *testing.T) (*api.Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := sim.NewProvider(0.01)
	p.Add("arm", []string{"j1", "j2"}, true)
	p.Add("gripper", []string{"j3"}, true)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := controller.NewRegistry(p, true, logger)
	ec := config.DefaultExecution()
	ec.WaitForCompletion = false
	ex := executor.New(reg, s, p, ec, logger)
	t.Cleanup(ex.Close)

	return api.NewServer(":0", s, ex, logger), s
}

func doJSON(t *testing.T, srv *api.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func trajectoryBody(joints []string, span float64) map[string]any {
	positions := make([]float64, len(joints))
	end := make([]float64, len(joints))
	for i := range end {
		end[i] = 1.0
	}
	return map[string]any{
		"trajectory": map[string]any{
			"joints": joints,
			"points": []map[string]any{
				{"positions": positions, "time_from_start": 0},
				{"positions": end, "time_from_start": span},
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestPushListAndClearQueue(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories", trajectoryBody([]string{"j1", "j2"}, 0.5))
	if rr.Code != http.StatusCreated {
		t.Fatalf("push status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/trajectories", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Total    int `json:"total"`
		Contexts []struct {
			Controllers []string `json:"controllers"`
		} `json:"contexts"`
	}
	decodeBody(t, rr, &list)
	if list.Total != 1 {
		t.Fatalf("queued total = %d, want 1", list.Total)
	}
	if len(list.Contexts[0].Controllers) != 1 || list.Contexts[0].Controllers[0] != "arm" {
		t.Errorf("controllers = %v, want [arm]", list.Contexts[0].Controllers)
	}

	rr = doJSON(t, srv, http.MethodDelete, "/v1/trajectories", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rr.Code)
	}
	rr = doJSON(t, srv, http.MethodGet, "/v1/trajectories", nil)
	decodeBody(t, rr, &list)
	if list.Total != 0 {
		t.Errorf("queued total after clear = %d, want 0", list.Total)
	}
}

func TestPushInvalidTrajectory(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing trajectory: status = %d, want 400", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/trajectories", trajectoryBody([]string{"j1", "unknown"}, 0.5))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("uncovered joint: status = %d, want 400", rr.Code)
	}

	// A waypoint shorter than the joint list must be a 400, not a panic
	// swallowed by the recoverer.
	rr = doJSON(t, srv, http.MethodPost, "/v1/trajectories", map[string]any{
		"trajectory": map[string]any{
			"joints": []string{"j1", "j2"},
			"points": []map[string]any{{"positions": []float64{0.5}}},
		},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("ragged waypoint: status = %d, want 400", rr.Code)
	}
}

func TestExecuteFlow(t *testing.T) {
	srv, s := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories", trajectoryBody([]string{"j1", "j2"}, 0.5))
	if rr.Code != http.StatusCreated {
		t.Fatalf("push status = %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/trajectories/execute", map[string]any{"auto_clear": true})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("execute status = %d, body %s", rr.Code, rr.Body.String())
	}
	var rec model.ExecutionRecord
	decodeBody(t, rr, &rec)
	if rec.Mode != model.ModeBatch {
		t.Errorf("mode = %s, want batch", rec.Mode)
	}

	waitForTerminal(t, s, rec.ID)
	stored, err := s.GetExecution(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != string(model.StatusSucceeded) {
		t.Errorf("status = %s, want succeeded", stored.Status)
	}
}

func TestExecuteEmptyQueue(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories/execute", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != string(model.StatusSucceeded) {
		t.Errorf("status = %q, want succeeded", resp["status"])
	}
}

func TestStreamFlow(t *testing.T) {
	srv, s := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories/stream", trajectoryBody([]string{"j3"}, 0.2))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stream status = %d, body %s", rr.Code, rr.Body.String())
	}
	var rec model.ExecutionRecord
	decodeBody(t, rr, &rec)
	if rec.Mode != model.ModeStream {
		t.Errorf("mode = %s, want stream", rec.Mode)
	}

	waitForTerminal(t, s, rec.ID)
	stored, err := s.GetExecution(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != string(model.StatusSucceeded) {
		t.Errorf("status = %s, want succeeded", stored.Status)
	}
}

func TestStreamSingleWaypoint(t *testing.T) {
	srv, s := newTestServer(t)

	// Hold near the current sensed position so start-state validation passes.
	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories/stream", map[string]any{
		"positions": map[string]float64{"j3": 0.005},
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stream status = %d, body %s", rr.Code, rr.Body.String())
	}
	var rec model.ExecutionRecord
	decodeBody(t, rr, &rec)
	waitForTerminal(t, s, rec.ID)
}

func TestGetExecutionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/v1/executions/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestListControllers(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/v1/controllers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Controllers []struct {
			Name   string   `json:"name"`
			Joints []string `json:"joints"`
			Active bool     `json:"active"`
		} `json:"controllers"`
		Managing bool `json:"managing"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Controllers) != 2 {
		t.Fatalf("got %d controllers, want 2", len(resp.Controllers))
	}
	if !resp.Managing {
		t.Error("managing = false, want true")
	}
}

func TestPostStopEvent(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/events", map[string]string{"event": "stop"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stop event status = %d", rr.Code)
	}

	// Unrecognized events are accepted and ignored.
	rr = doJSON(t, srv, http.MethodPost, "/v1/events", map[string]string{"event": "bogus"})
	if rr.Code != http.StatusAccepted {
		t.Errorf("unknown event status = %d, want 202", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/events", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty event status = %d, want 400", rr.Code)
	}
}

func TestStats(t *testing.T) {
	srv, s := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/trajectories/stream", trajectoryBody([]string{"j3"}, 0.1))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stream status = %d", rr.Code)
	}
	var rec model.ExecutionRecord
	decodeBody(t, rr, &rec)
	waitForTerminal(t, s, rec.ID)

	rr = doJSON(t, srv, http.MethodGet, "/v1/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	var stats struct {
		Total    int            `json:"total"`
		ByMode   map[string]int `json:"by_mode"`
		ByStatus map[string]int `json:"by_status"`
	}
	decodeBody(t, rr, &stats)
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByMode[model.ModeStream] != 1 {
		t.Errorf("by_mode[stream] = %d, want 1", stats.ByMode[model.ModeStream])
	}
}

func TestCurrentIndexIdle(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/v1/executions/current", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Executing bool `json:"executing"`
	}
	decodeBody(t, rr, &resp)
	if resp.Executing {
		t.Error("executing = true while idle, want false")
	}
}

// waitForTerminal polls the store until the execution reaches a terminal status.
func waitForTerminal(t *testing.T, s store.Store, id string) *model.ExecutionRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.GetExecution(context.Background(), id)
		if err == nil && model.ExecutionStatus(rec.Status).Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal status", id)
	return nil
}
