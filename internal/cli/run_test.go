package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/summary"
)

func newTarget(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunCommand_Passes(t *testing.T) {
	server := newTarget(t, http.StatusOK)
	export := filepath.Join(t.TempDir(), "summary.json")

	code, stdout, stderr := runCLI(t, "run",
		"--url", server.URL,
		"--vus", "2",
		"--duration", "300ms",
		"--no-color",
		"--summary-export", export)

	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "stress - Running [constant-vus]")
	assert.Contains(t, stdout, "✓ status is 200")
	assert.Contains(t, stdout, "PASSED: all 3 thresholds passed")

	doc, err := summary.Load(export)
	require.NoError(t, err)
	assert.True(t, doc.Passed())
	count, err := doc.Value("http_reqs", "count")
	require.NoError(t, err)
	assert.Greater(t, count, 0.0)
}

func TestRunCommand_UnreachableTargetExits99(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	code, stdout, stderr := runCLI(t, "run", "--url", url, "--vus", "2", "--duration", "200ms", "--no-color")

	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Empty(t, stderr)
	assert.Contains(t, stdout, "FAILED: 2 of 3 thresholds crossed")
	assert.Contains(t, stdout, "✗ http_req_failed")
	assert.Contains(t, stdout, "✗ checks")
}

func TestRunCommand_ThresholdOverride(t *testing.T) {
	server := newTarget(t, http.StatusServiceUnavailable)

	code, stdout, _ := runCLI(t, "run",
		"--url", server.URL,
		"--vus", "1",
		"--duration", "200ms",
		"--quiet",
		"--threshold", "http_req_failed=rate<=1",
		"--threshold", "checks=rate>=0")

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "PASSED: all 3 thresholds passed\n", stdout)
}

func newSlowTarget(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunCommand_GracefulStopIsNotAnInterrupt(t *testing.T) {
	server := newSlowTarget(t, 200*time.Millisecond)

	// The second request of each VU is still in flight when the graceful
	// stop elapses.
	code, stdout, stderr := runCLI(t, "run",
		"--url", server.URL,
		"--vus", "2",
		"--duration", "300ms",
		"--graceful-stop", "20ms",
		"--no-color")

	assert.Equal(t, ExitOK, code, stderr)
	assert.Empty(t, stderr)
	assert.Contains(t, stdout, "PASSED: all 3 thresholds passed\n")
	assert.NotContains(t, stdout, "Test was interrupted")
}

func TestRunCommand_InterruptedExits105(t *testing.T) {
	server := newTarget(t, http.StatusOK)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	code, stdout, stderr := runCLIContext(t, ctx, "run",
		"--url", server.URL,
		"--vus", "2",
		"--duration", "1m",
		"--no-color")

	assert.Equal(t, ExitInterrupted, code)
	assert.Contains(t, stderr, "test was interrupted")
	assert.Contains(t, stdout, "Test was interrupted before its deadline")
	assert.Contains(t, stdout, "PASSED: all 3 thresholds passed (interrupted)")
}

func TestRunCommand_InterruptedWithFailedThresholdsExits99(t *testing.T) {
	server := newTarget(t, http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing completes, so the checks rate of 0 crosses rate>0.99.
	code, stdout, _ := runCLIContext(t, ctx, "run",
		"--url", server.URL,
		"--vus", "2",
		"--duration", "1m",
		"--quiet")

	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "thresholds crossed (interrupted)")
	assert.Contains(t, stdout, "checks")
}

func TestRunCommand_InterruptedQuietPasses(t *testing.T) {
	server := newTarget(t, http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, stdout, _ := runCLIContext(t, ctx, "run",
		"--url", server.URL,
		"--duration", "1m",
		"--quiet",
		"--threshold", "checks=rate>=0")

	assert.Equal(t, ExitInterrupted, code)
	assert.Equal(t, "PASSED: all 3 thresholds passed (interrupted)\n", stdout)
}

func TestRunCommand_ConfigFile(t *testing.T) {
	server := newTarget(t, http.StatusCreated)

	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: created
vus: 2
duration: 200ms
request:
  method: POST
  url: `+server.URL+`
checks:
  - name: status is 201
    status: 201
thresholds:
  checks:
    - rate==1
`), 0o644))

	code, stdout, stderr := runCLI(t, "run", path, "--no-color")
	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "created - Running")
	assert.Contains(t, stdout, "POST "+server.URL)
	assert.Contains(t, stdout, "✓ status is 201")
}

func TestRunCommand_InvalidConfigExits104(t *testing.T) {
	badFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badFile, []byte("vus: many\n"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"zero vus", []string{"run", "--vus", "0"}},
		{"bad duration", []string{"run", "--duration", "soon"}},
		{"bad threshold flag", []string{"run", "--threshold", "checks"}},
		{"bad threshold expression", []string{"run", "--threshold", "checks=p(95)<1"}},
		{"bad url", []string{"run", "--url", "ftp://example.com"}},
		{"missing file", []string{"run", filepath.Join(t.TempDir(), "missing.yaml")}},
		{"invalid file", []string{"run", badFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, ExitInvalidConfig, code)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--url", "https://example.com/health",
		"--method", "post",
		"-u", "25",
		"-d", "1m",
		"--rps", "100",
		"--timeout", "5",
		"--graceful-stop", "3s",
		"--insecure-skip-tls-verify",
		"--threshold", "http_req_duration=p(99)<500",
		"--threshold", "http_req_duration=avg<200",
	}))

	cfg := config.Default()
	require.NoError(t, applyRunFlags(cmd, cfg))

	assert.Equal(t, "https://example.com/health", cfg.Request.URL)
	assert.Equal(t, "POST", cfg.Request.Method)
	assert.Equal(t, 25, cfg.VUs)
	assert.Equal(t, "1m0s", cfg.Duration.String())
	assert.Equal(t, 100.0, cfg.Options.RPS)
	assert.Equal(t, "5s", cfg.Request.Timeout.String())
	assert.Equal(t, "3s", cfg.Options.GracefulStop.String())
	assert.True(t, cfg.Settings.InsecureSkipVerify)

	assert.Equal(t, []string{"p(99)<500", "avg<200"}, cfg.Thresholds["http_req_duration"])
	assert.Equal(t, []string{"rate<0.01"}, cfg.Thresholds["http_req_failed"], "other metrics keep their thresholds")
}

func TestApplyRunFlags_Untouched(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.Default()
	require.NoError(t, applyRunFlags(cmd, cfg))
	assert.Equal(t, config.Default(), cfg)
}

func TestParseThresholdFlags(t *testing.T) {
	got, err := parseThresholdFlags([]string{"checks=rate>0.9", " checks = rate<1 ", "http_req_failed=rate<=0.01"})
	require.NoError(t, err)
	assert.Equal(t, config.Thresholds{
		"checks":          {"rate>0.9", "rate<1"},
		"http_req_failed": {"rate<=0.01"},
	}, got)

	for _, bad := range []string{"checks", "=rate<1", "checks=", ""} {
		_, err := parseThresholdFlags([]string{bad})
		assert.Error(t, err, bad)
	}
}
