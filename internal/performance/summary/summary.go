// Package summary builds the machine-readable end-of-test summary.
//
// The layout mirrors the summary export of common load testing tools:
//
//	{
//	  "metrics": {
//	    "http_req_duration": {
//	      "type": "trend",
//	      "contains": "time",
//	      "values": {"avg": 1.2, "p(95)": 2.5, ...},
//	      "thresholds": {"p(95)<1000": {"ok": true}}
//	    },
//	    ...
//	  }
//	}
package summary

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// Summary is the exported result of a run.
type Summary struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	State       State              `json:"state"`
	Passed      bool               `json:"passed"`
	RootGroup   Group              `json:"root_group"`
	Metrics     map[string]*Metric `json:"metrics"`
}

// State describes how the run went.
type State struct {
	StartTime         time.Time `json:"startTime"`
	TestRunDurationMs float64   `json:"testRunDurationMs"`
	Interrupted       bool      `json:"interrupted"`
}

// Group holds the check results.
type Group struct {
	Name   string         `json:"name"`
	Checks []CheckSummary `json:"checks"`
}

// CheckSummary counts the results of one named check.
type CheckSummary struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Metric is one metric with its aggregated values and threshold outcomes.
type Metric struct {
	Type       string                     `json:"type"`
	Contains   string                     `json:"contains"`
	Values     map[string]float64         `json:"values"`
	Thresholds map[string]ThresholdStatus `json:"thresholds,omitempty"`
}

// ThresholdStatus records whether a threshold expression held.
type ThresholdStatus struct {
	OK bool `json:"ok"`
}

type metricLayout struct {
	contains     string
	aggregations []string
}

var layouts = map[string]metricLayout{
	threshold.MetricHTTPReqs:        {"default", []string{"count", "rate"}},
	threshold.MetricIterations:      {"default", []string{"count", "rate"}},
	threshold.MetricDataReceived:    {"data", []string{"count", "rate"}},
	threshold.MetricHTTPReqFailed:   {"default", []string{"rate"}},
	threshold.MetricChecks:          {"default", []string{"rate"}},
	threshold.MetricVUs:             {"default", []string{"value", "min", "max"}},
	threshold.MetricVUsMax:          {"default", []string{"value", "min", "max"}},
	threshold.MetricHTTPReqDuration: {"time", []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}},
}

// FromResult builds the summary of a finished run. Trend metrics include
// every percentile a threshold refers to.
func FromResult(result *engine.TestResult) (*Summary, error) {
	if result == nil || result.Metrics == nil {
		return nil, errors.New("result has no metrics")
	}
	snap := result.Metrics

	s := &Summary{
		Name:        result.Name,
		Description: result.Description,
		State: State{
			StartTime:         result.StartTime,
			TestRunDurationMs: float64(result.Duration) / float64(time.Millisecond),
			Interrupted:       result.Interrupted,
		},
		Passed:    result.Passed,
		RootGroup: Group{Checks: checkSummaries(snap.Checks)},
		Metrics:   make(map[string]*Metric, len(layouts)),
	}

	evaluation := result.Thresholds
	if evaluation == nil {
		evaluation = &threshold.Result{Passed: true}
	}

	for _, name := range threshold.Metrics() {
		layout := layouts[name]
		kind, _ := threshold.KindOf(name)

		m := &Metric{
			Type:     kind.String(),
			Contains: layout.contains,
			Values:   make(map[string]float64),
		}

		aggregations := append([]string(nil), layout.aggregations...)
		for _, tr := range evaluation.ForMetric(name) {
			aggregations = append(aggregations, tr.Aggregation)
		}
		for _, agg := range aggregations {
			v, err := snap.Value(name, agg)
			if err != nil {
				return nil, errors.Wrapf(err, "summarizing %s", name)
			}
			m.Values[agg] = v
		}

		switch name {
		case threshold.MetricHTTPReqFailed:
			// rate metrics count non-zero samples as passes
			m.Values["passes"] = float64(snap.FailedRequests)
			m.Values["fails"] = float64(snap.SuccessRequests)
		case threshold.MetricChecks:
			m.Values["passes"] = float64(snap.ChecksPassed)
			m.Values["fails"] = float64(snap.ChecksFailed)
		}

		for _, tr := range evaluation.ForMetric(name) {
			if m.Thresholds == nil {
				m.Thresholds = make(map[string]ThresholdStatus)
			}
			m.Thresholds[tr.Expression] = ThresholdStatus{OK: tr.Passed}
		}

		s.Metrics[name] = m
	}

	return s, nil
}

func checkSummaries(checks []metrics.CheckStats) []CheckSummary {
	out := make([]CheckSummary, 0, len(checks))
	for _, c := range checks {
		out = append(out, CheckSummary{Name: c.Name, Passes: c.Passes, Fails: c.Fails})
	}
	return out
}

// Marshal renders the summary as indented JSON.
func (s *Summary) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode summary")
	}
	return append(data, '\n'), nil
}

// Write saves the summary to path.
func (s *Summary) Write(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write summary to %s", path)
}
