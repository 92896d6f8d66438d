package summary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

func testResult(t *testing.T, thresholds map[string][]string) *engine.TestResult {
	t.Helper()

	m := metrics.NewEngine()
	m.SetActiveVUs(2)
	for i := 0; i < 9; i++ {
		m.Record(metrics.Sample{
			Duration:      time.Duration(i+1) * 10 * time.Millisecond,
			StatusCode:    200,
			BytesReceived: 100,
			Checks:        []metrics.CheckResult{{Name: "status is 200", Passed: true}},
		})
	}
	m.Record(metrics.Sample{
		Duration:   5 * time.Millisecond,
		StatusCode: 500,
		Failed:     true,
		Checks:     []metrics.CheckResult{{Name: "status is 200", Passed: false}},
	})
	m.Stop()
	snap := m.GetSnapshot()

	parsed, err := threshold.ParseSet(thresholds)
	require.NoError(t, err)
	evaluation := threshold.Evaluate(parsed, snap)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.TestResult{
		Name:       "stress",
		StartTime:  start,
		EndTime:    start.Add(1500 * time.Millisecond),
		Duration:   1500 * time.Millisecond,
		Metrics:    snap,
		Thresholds: evaluation,
		Passed:     evaluation.Passed,
	}
}

func TestFromResult(t *testing.T) {
	result := testResult(t, map[string][]string{
		"http_req_failed":   {"rate<0.01"},
		"http_req_duration": {"p(95)<1000", "p(99.9)<2000"},
		"checks":            {"rate>0.5"},
	})

	s, err := FromResult(result)
	require.NoError(t, err)

	assert.Equal(t, "stress", s.Name)
	assert.False(t, s.Passed)
	assert.Equal(t, 1500.0, s.State.TestRunDurationMs)
	assert.False(t, s.State.Interrupted)

	require.Len(t, s.RootGroup.Checks, 1)
	assert.Equal(t, CheckSummary{Name: "status is 200", Passes: 9, Fails: 1}, s.RootGroup.Checks[0])

	assert.Len(t, s.Metrics, len(threshold.Metrics()))

	reqs := s.Metrics["http_reqs"]
	require.NotNil(t, reqs)
	assert.Equal(t, "counter", reqs.Type)
	assert.Equal(t, 10.0, reqs.Values["count"])
	assert.Empty(t, reqs.Thresholds)

	failed := s.Metrics["http_req_failed"]
	assert.Equal(t, "rate", failed.Type)
	assert.InDelta(t, 0.1, failed.Values["rate"], 1e-9)
	assert.Equal(t, 1.0, failed.Values["passes"])
	assert.Equal(t, 9.0, failed.Values["fails"])
	assert.Equal(t, map[string]ThresholdStatus{"rate<0.01": {OK: false}}, failed.Thresholds)

	checks := s.Metrics["checks"]
	assert.Equal(t, 9.0, checks.Values["passes"])
	assert.Equal(t, 1.0, checks.Values["fails"])
	assert.True(t, checks.Thresholds["rate>0.5"].OK)

	duration := s.Metrics["http_req_duration"]
	assert.Equal(t, "trend", duration.Type)
	assert.Equal(t, "time", duration.Contains)
	for _, agg := range []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)", "p(99.9)"} {
		assert.Contains(t, duration.Values, agg)
	}
	assert.InDelta(t, 5.0, duration.Values["min"], 0.1)
	assert.InDelta(t, 90.0, duration.Values["max"], 0.1)
	assert.True(t, duration.Thresholds["p(95)<1000"].OK)

	assert.Equal(t, "data", s.Metrics["data_received"].Contains)
	assert.Equal(t, 900.0, s.Metrics["data_received"].Values["count"])
	assert.Equal(t, 2.0, s.Metrics["vus_max"].Values["max"])
}

func TestFromResult_NoMetrics(t *testing.T) {
	_, err := FromResult(nil)
	assert.Error(t, err)

	_, err = FromResult(&engine.TestResult{Name: "x"})
	assert.Error(t, err)
}

func TestSummary_WriteAndLoad(t *testing.T) {
	thresholds := map[string][]string{
		"http_req_failed":   {"rate<0.01"},
		"http_req_duration": {"p(95)<1000"},
		"checks":            {"rate>0.99"},
	}
	s, err := FromResult(testResult(t, thresholds))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, s.Write(path))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stress", doc.Name())
	assert.False(t, doc.Passed())
	assert.Equal(t, thresholds, doc.Thresholds())

	v, err := doc.Value("http_req_failed", "rate")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v, 1e-9)

	p95, err := doc.Value("http_req_duration", "p(95)")
	require.NoError(t, err)
	assert.Equal(t, s.Metrics["http_req_duration"].Values["p(95)"], p95)

	_, err = doc.Value("http_req_duration", "p(42)")
	assert.Error(t, err)
	_, err = doc.Value("nope", "rate")
	assert.Error(t, err)
}

func TestDocument_ReevaluateThresholds(t *testing.T) {
	s, err := FromResult(testResult(t, nil))
	require.NoError(t, err)
	data, err := s.Marshal()
	require.NoError(t, err)

	doc, err := Parse(data)
	require.NoError(t, err)
	assert.Empty(t, doc.Thresholds())

	parsed, err := threshold.ParseSet(map[string][]string{
		"http_req_failed":   {"rate<0.2"},
		"http_req_duration": {"max<50"},
	})
	require.NoError(t, err)

	result := threshold.Evaluate(parsed, doc)
	assert.False(t, result.Passed)
	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "http_req_duration", failed[0].Metric)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":      `{"metrics":`,
		"no metrics":    `{"name":"x"}`,
		"metrics array": `{"metrics":[]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDocument_NonNumericValue(t *testing.T) {
	doc, err := Parse([]byte(`{"metrics":{"checks":{"values":{"rate":"high"}}}}`))
	require.NoError(t, err)
	_, err = doc.Value("checks", "rate")
	assert.Error(t, err)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "http_req_duration", escape("http_req_duration"))
	assert.Equal(t, `p\(99\.9\)`, escape("p(99.9)"))
}
