// Package e2e builds cmd/testserver and drives provisioning runs through its
// HTTP API.
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
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
	runTimeout     = 30 * time.Second
	pollInterval   = 100 * time.Millisecond
)

const publishConfig = `{
	"cb_project": "kernels",
	"env_overrides": {"PY_VERSION": "3.10"},
	"ecr_repo_name": "kernels",
	"image_name": "py310",
	"image_permissions": "arn:aws:iam::123456789012:role/sm",
	"app_image_config": {"AppImageConfigName": "py310-config"},
	"update_domain_input": {
		"DomainId": "d-abc",
		"DefaultUserSettings": {
			"KernelGatewayAppSettings": {
				"CustomImages": [{"ImageName": "py310", "AppImageConfigName": "py310-config"}]
			}
		}
	}
}`

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
		dir, err := os.MkdirTemp("", "kernelforge-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
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

func startServer(t *testing.T, binary string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), "KERNELFORGE_LISTEN_ADDR="+addr)
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

type run struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Variant   string          `json:"variant"`
	Report    json.RawMessage `json:"report"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
}

func submit(t *testing.T, sp *serverProc, path, body string) run {
	t.Helper()
	resp, err := http.Post(sp.url+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var r run
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return r
}

func waitForTerminal(t *testing.T, sp *serverProc, id string) run {
	t.Helper()
	deadline := time.Now().Add(runTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/v1/runs/" + id)
		if err != nil {
			t.Fatalf("GET run: %v", err)
		}
		var r run
		err = json.NewDecoder(resp.Body).Decode(&r)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode run: %v", err)
		}
		if r.Status == "succeeded" || r.Status == "failed" {
			return r
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("run %s did not finish within %v\nstdout:\n%s", id, runTimeout, sp.stdout.String())
	return run{}
}

func TestPublishRunStreamsAndRecords(t *testing.T) {
	sp := startServer(t, getBinary(t))

	accepted := submit(t, sp, "/v1/runs/async", `{"remaining_ms":3600000,"config":`+publishConfig+`}`)
	if accepted.ID == "" || accepted.Variant != "publish" {
		t.Fatalf("accepted = %+v", accepted)
	}

	resp, err := http.Get(sp.url + "/v1/runs/" + accepted.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	var streamed int
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data: {") {
			streamed++
		}
	}
	resp.Body.Close()

	final := waitForTerminal(t, sp, accepted.ID)
	if final.Status != "succeeded" {
		t.Fatalf("status = %q: %s\nstdout:\n%s", final.Status, final.Error, sp.stdout.String())
	}
	if streamed == 0 {
		t.Error("no progress streamed while the run was in flight")
	}

	var report struct {
		Status    string   `json:"status"`
		Completed []string `json:"completed"`
	}
	if err := json.Unmarshal(final.Report, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	want := "build,create_image,create_image_ver,config_app_image,update_domain"
	if report.Status != "SUCCESS" || strings.Join(report.Completed, ",") != want {
		t.Errorf("report = %s", final.Report)
	}

	resp, err = http.Get(sp.url + "/v1/runs/" + accepted.ID + "/events/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()
	var hist struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Events) != 10 {
		t.Errorf("history events = %d, want 10", len(hist.Events))
	}
}

func TestBuildRunSynchronous(t *testing.T) {
	sp := startServer(t, getBinary(t))

	r := submit(t, sp, "/v1/runs", `{"variant":"build","config":{"cb_project":"kernels"}}`)
	if r.Status != "succeeded" {
		t.Fatalf("status = %q: %s", r.Status, r.Error)
	}
}

func TestRejectedRunsAreRecorded(t *testing.T) {
	sp := startServer(t, getBinary(t))

	r := submit(t, sp, "/v1/runs", `{"variant":"publish","config":{"cb_project":"kernels"}}`)
	if r.Status != "failed" || r.ErrorKind != "ConfigurationError" {
		t.Errorf("run = %+v", r)
	}

	resp, err := http.Get(sp.url + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var stats struct {
		Total       int            `json:"total"`
		ByErrorKind map[string]int `json:"by_error_kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.ByErrorKind["ConfigurationError"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
