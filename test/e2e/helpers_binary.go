//go:build e2e

package e2e

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// looperServer manages a running `looper serve` process backed by SQLite.
type looperServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	apiKey  string
	logFile *os.File
}

// startLooper launches the server on a fresh data directory and waits for it
// to become healthy. Looper is configured entirely via environment variables.
func startLooper(t *testing.T) *looperServer {
	t.Helper()
	if looperBin == "" {
		t.Skip("looper binary not available (set LOOPER_BIN or add to PATH)")
	}
	s := &looperServer{
		dataDir: t.TempDir(),
		apiKey:  "e2e-test-api-key",
	}
	s.start(t)
	t.Cleanup(s.stop)
	return s
}

// start runs the server process on the current data directory.
func (s *looperServer) start(t *testing.T) {
	t.Helper()
	port := freePort(t)
	s.address = fmt.Sprintf("127.0.0.1:%d", port)

	s.cmd = exec.Command(looperBin, "serve")
	s.cmd.Env = append(s.env(),
		fmt.Sprintf("LOOPER_PORT=%d", port),
		"LOOPER_DB_DRIVER=sqlite",
		"LOOPER_DB_PATH="+s.dbPath(),
		"LOOPER_SHUTDOWN_TIMEOUT=2s",
	)

	lf, err := os.OpenFile(filepath.Join(s.dataDir, "looper.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	s.logFile = lf
	s.cmd.Stdout = lf
	s.cmd.Stderr = lf

	if err := s.cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start looper: %v", err)
	}
	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("looper not healthy: %v", err)
	}
}

// restart stops the process and starts it again on the same database.
func (s *looperServer) restart(t *testing.T) {
	t.Helper()
	s.stop()
	s.start(t)
}

func (s *looperServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
		s.cmd = nil
	}
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

// env is the environment shared by the server and CLI invocations.
func (s *looperServer) env() []string {
	return append(os.Environ(),
		"LOOPER_API_KEY="+s.apiKey,
		"LOOPER_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"),
		"LOOPER_LOG_LEVEL=debug",
	)
}

func (s *looperServer) dbPath() string {
	return filepath.Join(s.dataDir, "looper.db")
}

func (s *looperServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *looperServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("looper not healthy after %s", timeout)
}

// do sends an authenticated request and decodes a JSON response into out
// when out is non-nil. It fails the test on an unexpected status.
func (s *looperServer) do(t *testing.T, method, path, body string, wantStatus int, out any) http.Header {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, s.baseURL()+path, rd)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Looper-Client", "e2e")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, respBody)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.Header
}

// logRows counts rows in the server's update_log table.
func (s *looperServer) logRows(t *testing.T) int {
	t.Helper()
	db, err := sql.Open("sqlite", s.dbPath())
	if err != nil {
		t.Fatalf("open update log: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM update_log").Scan(&n); err != nil {
		t.Fatalf("count update log: %v", err)
	}
	return n
}

// cli runs a looper subcommand pointed at this server.
func (s *looperServer) cli(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(looperBin, args...)
	cmd.Env = append(s.env(),
		"LOOPER_SERVER_URL="+s.baseURL(),
		"LOOPER_CLIENT_ID=e2e-cli",
		"LOOPER_SNAPSHOT_DIR="+filepath.Join(s.dataDir, "snapshots"),
		"LOOPER_LOG_LEVEL=error",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("looper %v: %v\nstderr: %s", args, err, stderr.String())
	}
	return stdout.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}
