package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "trajectd-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "trajectd")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/trajectd")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T) *serverProc {
	t.Helper()
	binary := getBinary(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary, "serve",
		"--time-scale=0.01",
		"--controller", "arm=j1,j2",
		"--controller", "gripper=j3",
		"--controller", "arm_alt=j1",
	)
	cmd.Env = append(os.Environ(),
		"TRAJECT_LISTEN_ADDR="+addr,
		"TRAJECT_DB_PATH="+dbPath,
		"TRAJECT_LOG_LEVEL=info",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// postJSON POSTs a JSON body and decodes the JSON response into out (if non-nil).
func (sp *serverProc) postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(sp.url+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode POST %s response %q: %v", path, data, err)
		}
	}
	return resp.StatusCode
}

// getJSON GETs a path and decodes the JSON response into out (if non-nil).
func (sp *serverProc) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(sp.url + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode GET %s response %q: %v", path, data, err)
		}
	}
	return resp.StatusCode
}

// executionRecord mirrors the API's execution record JSON.
type executionRecord struct {
	ID          string   `json:"id"`
	Mode        string   `json:"mode"`
	Status      string   `json:"status"`
	Controllers []string `json:"controllers"`
	Contexts    int      `json:"contexts"`
	Error       string   `json:"error"`
	DurationMS  *int     `json:"duration_ms"`
}

func isTerminal(status string) bool {
	switch status {
	case "succeeded", "preempted", "timed_out", "aborted", "failed":
		return true
	}
	return false
}

// waitForExecution polls until the execution reaches a terminal status.
func (sp *serverProc) waitForExecution(t *testing.T, id string, timeout time.Duration) executionRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var rec executionRecord
	for time.Now().Before(deadline) {
		if code := sp.getJSON(t, "/v1/executions/"+id, &rec); code == http.StatusOK && isTerminal(rec.Status) {
			return rec
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("execution %s never reached a terminal status (last: %q)\nstdout:\n%s",
		id, rec.Status, sp.stdout.String())
	return rec
}

// trajectoryBody builds a two-waypoint trajectory request body ending at 1.0
// on every joint, spanning span seconds.
func trajectoryBody(span float64, joints ...string) map[string]any {
	start := make([]float64, len(joints))
	end := make([]float64, len(joints))
	for i := range end {
		end[i] = 1.0
	}
	return map[string]any{
		"trajectory": map[string]any{
			"joints": joints,
			"points": []map[string]any{
				{"positions": start, "time_from_start": 0},
				{"positions": end, "time_from_start": span},
			},
		},
	}
}

// readSSE reads the SSE stream at path until the done event, the stream ends,
// or the timeout elapses, returning the raw payload lines.
func (sp *serverProc) readSSE(t *testing.T, path string, timeout time.Duration) []string {
	t.Helper()
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(sp.url + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil && !strings.Contains(err.Error(), "Client.Timeout") {
		t.Fatalf("read SSE body: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
