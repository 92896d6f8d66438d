package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// Snapshot contains a point-in-time view of all metrics.
//
// A snapshot owns a frozen copy of the latency histogram, so it stays
// consistent while the engine keeps recording.
type Snapshot struct {
	TotalRequests         int64         `json:"totalRequests"`
	SuccessRequests       int64         `json:"successRequests"`
	FailedRequests        int64         `json:"failedRequests"`
	TotalBytes            int64         `json:"totalBytes"`
	Iterations            int64         `json:"iterations"`
	InterruptedIterations int64         `json:"interruptedIterations"`
	ChecksPassed          int64         `json:"checksPassed"`
	ChecksFailed          int64         `json:"checksFailed"`
	Checks                []CheckStats  `json:"checks,omitempty"`
	Latency               LatencyStats  `json:"latency"`
	RPS                   float64       `json:"rps"`
	ErrorRate             float64       `json:"errorRate"`
	CheckPassRate         float64       `json:"checkPassRate"`
	ActiveVUs             int           `json:"activeVUs"`
	MinVUs                int           `json:"minVUs"`
	MaxVUs                int           `json:"maxVUs"`
	Elapsed               time.Duration `json:"elapsed"`
	StartTime             time.Time     `json:"startTime"`
	Timestamp             time.Time     `json:"timestamp"`

	hist *hdrhistogram.Histogram
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Quantile returns the latency at percentile q (0-100). It returns 0 when
// nothing was recorded.
func (s *Snapshot) Quantile(q float64) time.Duration {
	if s.hist == nil || s.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(s.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Check returns the stats of a named check.
func (s *Snapshot) Check(name string) (CheckStats, bool) {
	for _, c := range s.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckStats{}, false
}

// Value implements threshold.Source. Durations are reported in
// milliseconds and rates as fractions in [0, 1].
func (s *Snapshot) Value(metric, aggregation string) (float64, error) {
	switch metric {
	case threshold.MetricHTTPReqs:
		return s.counter(float64(s.TotalRequests), metric, aggregation)
	case threshold.MetricIterations:
		return s.counter(float64(s.Iterations), metric, aggregation)
	case threshold.MetricDataReceived:
		return s.counter(float64(s.TotalBytes), metric, aggregation)
	case threshold.MetricHTTPReqFailed:
		if aggregation == "rate" {
			return s.ErrorRate, nil
		}
	case threshold.MetricChecks:
		if aggregation == "rate" {
			return s.CheckPassRate, nil
		}
	case threshold.MetricVUs:
		switch aggregation {
		case "value":
			return float64(s.ActiveVUs), nil
		case "min":
			return float64(s.MinVUs), nil
		case "max":
			return float64(s.MaxVUs), nil
		}
	case threshold.MetricVUsMax:
		switch aggregation {
		case "value", "min", "max":
			return float64(s.MaxVUs), nil
		}
	case threshold.MetricHTTPReqDuration:
		return s.trend(aggregation)
	default:
		return 0, errors.Errorf("unknown metric %q", metric)
	}
	return 0, errors.Errorf("aggregation %q is not available for %q", aggregation, metric)
}

func (s *Snapshot) counter(count float64, metric, aggregation string) (float64, error) {
	switch aggregation {
	case "count":
		return count, nil
	case "rate":
		if secs := s.Elapsed.Seconds(); secs > 0 {
			return count / secs, nil
		}
		return 0, nil
	}
	return 0, errors.Errorf("aggregation %q is not available for %q", aggregation, metric)
}

func (s *Snapshot) trend(aggregation string) (float64, error) {
	switch aggregation {
	case "avg":
		return millis(s.Latency.Mean), nil
	case "min":
		return millis(s.Latency.Min), nil
	case "max":
		return millis(s.Latency.Max), nil
	case "med":
		return millis(s.Quantile(50)), nil
	}
	if q, ok := threshold.ParsePercentile(aggregation); ok {
		return millis(s.Quantile(q)), nil
	}
	return 0, errors.Errorf("aggregation %q is not available for %q", aggregation, threshold.MetricHTTPReqDuration)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
