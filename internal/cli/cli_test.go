package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
)

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = Execute(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`[{"id":1,"name":"pho"}]`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := execute(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "surge "+version+"\n", out)
}

func TestPresetsCommand(t *testing.T) {
	code, out, _ := execute(t, "presets")
	require.Equal(t, ExitOK, code)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "smoke")
	assert.Contains(t, lines[1], "2m0s")
	assert.Contains(t, lines[2], "spike")
	assert.Contains(t, lines[2], "4m2s")
	assert.Contains(t, lines[2], "500")
}

func TestRootWithoutCommandPrintsHelp(t *testing.T) {
	code, out, _ := execute(t)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "run")
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no target", []string{"run"}, "either --config or --url is required"},
		{"bad stages", []string{"run", "--url", "http://localhost:1", "--stages", "ten:5"}, "invalid duration"},
		{"stages and preset", []string{"run", "--url", "http://localhost:1", "--stages", "1s:1", "--preset", "smoke"}, "mutually exclusive"},
		{"unknown preset", []string{"run", "--url", "http://localhost:1", "--preset", "soak"}, "unknown preset"},
		{"bad threshold", []string{"run", "--url", "http://localhost:1", "--threshold", "http_req_duration:p42 < 1s"}, "invalid threshold"},
		{"bad header", []string{"run", "--url", "http://localhost:1", "-H", "no-colon"}, "invalid header"},
		{"bad scheme", []string{"run", "--url", "ftp://localhost/file"}, "unsupported url scheme"},
		{"bad format", []string{"run", "--url", "http://localhost:1", "--format", "html"}, "unknown output format"},
		{"bad log level", []string{"run", "--url", "http://localhost:1", "--log-level", "loud"}, "invalid log level"},
		{"missing config", []string{"run", "--config", "does-not-exist.yaml"}, "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, ExitConfig, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_HealthyServerJSON(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	outPath := filepath.Join(t.TempDir(), "result.yaml")

	code, stdout, stderr := execute(t, "run",
		"--url", srv.URL,
		"--stages", "200ms:2,200ms:0",
		"--sleep", "10ms",
		"--threshold", "http_req_failed:rate < 0.01",
		"--format", "json",
		"--out", outPath,
	)
	require.Equal(t, ExitOK, code, stderr)
	assert.Greater(t, hits.Load(), int64(0))

	var result struct {
		RunID   string `json:"runId"`
		Passed  bool   `json:"passed"`
		Metrics struct {
			TotalRequests  int64 `json:"totalRequests"`
			FailedRequests int64 `json:"failedRequests"`
		} `json:"metrics"`
		Thresholds []struct {
			Metric string `json:"metric"`
			Passed bool   `json:"passed"`
		} `json:"thresholds"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), stdout)
	assert.True(t, result.Passed)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, hits.Load(), result.Metrics.TotalRequests)
	assert.Zero(t, result.Metrics.FailedRequests)
	require.Len(t, result.Thresholds, 1)
	assert.Equal(t, "http_req_failed", result.Thresholds[0].Metric)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "runid: "+result.RunID)
}

func TestRun_FailingServerExitsNonZero(t *testing.T) {
	srv, _ := countingServer(t, http.StatusInternalServerError)

	code, stdout, stderr := execute(t, "run",
		"--url", srv.URL,
		"--stages", "200ms:2,200ms:0",
		"--sleep", "10ms",
		"--threshold", "http_req_failed:rate < 0.5",
		"--quiet",
	)
	assert.Equal(t, ExitFailed, code)
	assert.Equal(t, "FAILED\n", stdout)
	assert.Contains(t, stderr, "one or more thresholds failed")
}

func TestRun_TextSummary(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK)

	code, stdout, stderr := execute(t, "run",
		"--url", srv.URL,
		"--name", "menu items",
		"--stages", "300ms:2,100ms:0",
		"--sleep", "10ms",
		"--no-color",
		"--progress-interval", "50ms",
	)
	require.Equal(t, ExitOK, code, stderr)

	assert.Contains(t, stdout, "menu items - Running")
	assert.Contains(t, stdout, "Progress:")
	assert.Contains(t, stdout, "menu items - Completed ✓")
	assert.Contains(t, stdout, "Latency Distribution:")
	assert.Contains(t, stdout, "is status 200")
	assert.NotContains(t, stdout, "\x1b[")
}

func TestRun_ConfigFileWithOverrides(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: "from file"
variables:
  baseUrl: "http://localhost:8083"
request:
  url: "{{baseUrl}}/api/restaurants/1/menu-items"
preset: spike
sleep: 10ms
`), 0o644))

	code, stdout, stderr := execute(t, "run",
		"--config", path,
		"--var", "baseUrl="+srv.URL,
		"--stages", "200ms:1,100ms:0",
		"--format", "yaml",
	)
	require.Equal(t, ExitOK, code, stderr)
	assert.Greater(t, hits.Load(), int64(0))
	assert.Contains(t, stdout, "name: from file")
	assert.Contains(t, stdout, "passed: true")
}

func TestRun_URLFromEnvironment(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	t.Setenv("SURGE_URL", srv.URL)
	t.Setenv("SURGE_SLEEP", "10ms")

	code, stdout, stderr := execute(t, "run", "--stages", "200ms:1,100ms:0", "-q")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "PASSED\n", stdout)
	assert.Greater(t, hits.Load(), int64(0))
}

func TestBuildRunConfig(t *testing.T) {
	a := &app{v: newViper(), stdout: io.Discard, stderr: io.Discard}
	cmd := newRunCmd(a)
	require.NoError(t, cmd.ParseFlags([]string{
		"--url", "http://localhost:8083/{{path}}",
		"-X", "post",
		"-H", "Content-Type: application/json",
		"-H", "X-Tags: a, b",
		"--body", `{"qty":1}`,
		"--var", "path=orders",
		"--start-vus", "2",
		"--timeout", "5s",
		"--graceful-stop", "1s",
		"--threshold", "http_req_duration:p95 < 500ms",
		"--threshold", "checks:rate > 0.9",
	}))
	require.NoError(t, a.bind(cmd))

	cfg, err := a.buildRunConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "smoke", cfg.Preset)
	assert.Equal(t, "post", cfg.Request.Method)
	assert.Equal(t, map[string]string{"Content-Type": "application/json", "X-Tags": "a, b"}, cfg.Request.Headers)
	assert.Equal(t, `{"qty":1}`, cfg.Request.Body)
	assert.Equal(t, map[string]string{"path": "orders"}, cfg.Variables)
	assert.Equal(t, 2, cfg.StartVUs)
	assert.Nil(t, cfg.Sleep)
	assert.Equal(t, config.Duration(5*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, config.Duration(time.Second), cfg.GracefulStop)
	require.NotNil(t, cfg.Thresholds)
	assert.Equal(t, []string{"p95 < 500ms"}, cfg.Thresholds.HTTPReqDuration)
	assert.Equal(t, []string{"rate > 0.9"}, cfg.Thresholds.Checks)

	// startVUs cannot be combined with the default preset.
	_, err = cfg.Options()
	assert.Error(t, err)

	cfg.StartVUs = 0
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8083/orders", opts.Template.URL)
	assert.Equal(t, "POST", opts.Template.Method)
}

func TestServeMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	addr, shutdown, err := serveMetrics("127.0.0.1:0", registry, zap.NewNop())
	require.NoError(t, err)
	defer shutdown()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestExitError(t *testing.T) {
	err := configError(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}

func TestTarget_InvalidConfig(t *testing.T) {
	code, _, stderr := execute(t, "target", "--error-rate", "2")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr, "error rate must be between 0 and 1")
}

func TestRun_CPUProfile(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK)
	path := filepath.Join(t.TempDir(), "cpu.pprof")

	code, _, stderr := execute(t, "run",
		"--url", srv.URL,
		"--stages", "100ms:1,100ms:0",
		"--sleep", "10ms",
		"--cpuprofile", path,
		"-q",
	)
	require.Equal(t, ExitOK, code, stderr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
