package cli

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exportedSummary runs a short test against a healthy target and returns
// the path of its summary.
func exportedSummary(t *testing.T) string {
	t.Helper()

	server := newTarget(t, http.StatusOK)
	export := filepath.Join(t.TempDir(), "summary.json")
	code, _, stderr := runCLI(t, "run", "--url", server.URL, "--vus", "1", "--duration", "200ms",
		"--quiet", "--summary-export", export)
	require.Equal(t, ExitOK, code, stderr)
	return export
}

func TestCheckCommand_StoredThresholds(t *testing.T) {
	export := exportedSummary(t)

	code, stdout, _ := runCLI(t, "check", export, "--no-color")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "stress\n")
	assert.Contains(t, stdout, "✓ http_req_failed: rate<0.01")
	assert.Contains(t, stdout, "PASSED: all 3 thresholds passed")
}

func TestCheckCommand_FlagThresholds(t *testing.T) {
	export := exportedSummary(t)

	code, stdout, _ := runCLI(t, "check", export, "--no-color",
		"--threshold", "http_reqs=count>1000000")
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "✗ http_reqs: count>1000000")
	assert.Contains(t, stdout, "FAILED: 1 of 1 thresholds crossed")
}

func TestCheckCommand_ConfigThresholds(t *testing.T) {
	export := exportedSummary(t)

	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
request:
  url: http://localhost:8090/
thresholds:
  http_req_duration:
    - p(99.9)<0.000001
`), 0o644))

	code, stdout, _ := runCLI(t, "check", export, path, "--quiet")
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "FAILED: 1 of 1 thresholds crossed")
	assert.Contains(t, stdout, "http_req_duration")
}

func TestCheckCommand_Errors(t *testing.T) {
	export := exportedSummary(t)

	code, _, _ := runCLI(t, "check", export, "--threshold", "checks=median<1")
	assert.Equal(t, ExitInvalidConfig, code)

	code, _, _ = runCLI(t, "check", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ExitFailure, code)

	code, _, _ = runCLI(t, "check")
	assert.Equal(t, ExitFailure, code)
}
