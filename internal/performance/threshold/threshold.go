// Package threshold parses and evaluates pass/fail criteria on run metrics.
//
// Expressions follow the form <aggregation><operator><value>, for example
// "rate<0.01", "p(95)<1000" or "count>=100". Trend values are in
// milliseconds; a Go duration ("500ms", "1s") is also accepted.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind is the type of a built-in metric.
type Kind int

const (
	// Counter metrics only grow (http_reqs, iterations, data_received).
	Counter Kind = iota
	// Gauge metrics hold the latest value (vus, vus_max).
	Gauge
	// Rate metrics track the share of non-zero samples (http_req_failed, checks).
	Rate
	// Trend metrics track a distribution (http_req_duration).
	Trend
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// Built-in metric names.
const (
	MetricHTTPReqs        = "http_reqs"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqDuration = "http_req_duration"
	MetricChecks          = "checks"
	MetricIterations      = "iterations"
	MetricDataReceived    = "data_received"
	MetricVUs             = "vus"
	MetricVUsMax          = "vus_max"
)

var metricKinds = map[string]Kind{
	MetricHTTPReqs:        Counter,
	MetricIterations:      Counter,
	MetricDataReceived:    Counter,
	MetricVUs:             Gauge,
	MetricVUsMax:          Gauge,
	MetricHTTPReqFailed:   Rate,
	MetricChecks:          Rate,
	MetricHTTPReqDuration: Trend,
}

// KindOf returns the kind of a built-in metric.
func KindOf(metric string) (Kind, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

// Metrics returns the names of all built-in metrics, sorted.
func Metrics() []string {
	names := make([]string, 0, len(metricKinds))
	for name := range metricKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source supplies observed values for threshold evaluation.
type Source interface {
	Value(metric, aggregation string) (float64, error)
}

// Threshold is a single parsed expression bound to a metric.
type Threshold struct {
	Metric      string
	Expression  string
	Aggregation string
	Operator    string
	Value       float64
	Kind        Kind
}

var expressionPattern = regexp.MustCompile(`^([a-z]+(?:\(\s*[^)]*\))?)\s*(===|==|!=|<=|>=|<|>)\s*(.+)$`)

// Parse parses expr as a threshold on metric.
func Parse(metric, expr string) (*Threshold, error) {
	kind, ok := KindOf(metric)
	if !ok {
		return nil, errors.Errorf("unknown metric %q", metric)
	}

	expr = strings.TrimSpace(expr)
	matches := expressionPattern.FindStringSubmatch(expr)
	if matches == nil {
		return nil, errors.Errorf("invalid threshold expression %q", expr)
	}

	agg, err := normalizeAggregation(matches[1])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid threshold expression %q", expr)
	}
	if !supports(kind, agg) {
		return nil, errors.Errorf("aggregation %q is not supported by %s metric %q", agg, kind, metric)
	}

	op := matches[2]
	if op == "===" {
		op = "=="
	}

	value, err := parseValue(kind, strings.TrimSpace(matches[3]))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid threshold expression %q", expr)
	}

	return &Threshold{
		Metric:      metric,
		Expression:  expr,
		Aggregation: agg,
		Operator:    op,
		Value:       value,
		Kind:        kind,
	}, nil
}

// ParseSet parses every expression of every metric. Thresholds are returned
// sorted by metric, keeping each metric's expressions in order.
func ParseSet(set map[string][]string) ([]*Threshold, error) {
	metrics := make([]string, 0, len(set))
	for metric := range set {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var out []*Threshold
	for _, metric := range metrics {
		for _, expr := range set[metric] {
			th, err := Parse(metric, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, th)
		}
	}
	return out, nil
}

// ParsePercentile returns N for an aggregation of the form "p(N)".
func ParsePercentile(agg string) (float64, bool) {
	if !strings.HasPrefix(agg, "p(") || !strings.HasSuffix(agg, ")") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(agg[2:len(agg)-1]), 64)
	if err != nil || n <= 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// Check compares an observed value against the threshold.
func (t *Threshold) Check(observed float64) bool {
	switch t.Operator {
	case "<":
		return observed < t.Value
	case "<=":
		return observed <= t.Value
	case ">":
		return observed > t.Value
	case ">=":
		return observed >= t.Value
	case "==":
		return observed == t.Value
	case "!=":
		return observed != t.Value
	default:
		return false
	}
}

func (t *Threshold) String() string {
	return fmt.Sprintf("%s: %s", t.Metric, t.Expression)
}

func normalizeAggregation(raw string) (string, error) {
	if !strings.HasPrefix(raw, "p(") {
		return raw, nil
	}
	n, ok := ParsePercentile(strings.ReplaceAll(raw, " ", ""))
	if !ok {
		return "", errors.Errorf("percentile %q must be in (0, 100]", raw)
	}
	return "p(" + strconv.FormatFloat(n, 'f', -1, 64) + ")", nil
}

func supports(kind Kind, agg string) bool {
	switch kind {
	case Counter:
		return agg == "count" || agg == "rate"
	case Gauge:
		return agg == "value" || agg == "min" || agg == "max"
	case Rate:
		return agg == "rate"
	case Trend:
		if _, ok := ParsePercentile(agg); ok {
			return true
		}
		return agg == "avg" || agg == "min" || agg == "med" || agg == "max"
	}
	return false
}

func parseValue(kind Kind, s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if kind == Trend {
		if d, err := time.ParseDuration(s); err == nil {
			return float64(d) / float64(time.Millisecond), nil
		}
	}
	return 0, errors.Errorf("invalid value %q", s)
}
