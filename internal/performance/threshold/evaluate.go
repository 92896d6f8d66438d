package threshold

import (
	"fmt"
	"sort"
)

// Result is the outcome of evaluating a set of thresholds.
type Result struct {
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Aggregation string  `json:"aggregation"`
	Observed    float64 `json:"observed"`
	Value       string  `json:"value"`
	Passed      bool    `json:"passed"`
	Message     string  `json:"message,omitempty"`
}

// Failed returns the results that did not pass.
func (r *Result) Failed() []ThresholdResult {
	var out []ThresholdResult
	for _, tr := range r.Thresholds {
		if !tr.Passed {
			out = append(out, tr)
		}
	}
	return out
}

// ForMetric returns the results for one metric in evaluation order.
func (r *Result) ForMetric(metric string) []ThresholdResult {
	var out []ThresholdResult
	for _, tr := range r.Thresholds {
		if tr.Metric == metric {
			out = append(out, tr)
		}
	}
	return out
}

// Evaluate checks every threshold against src. A threshold whose value cannot
// be read fails with the lookup error as its message. With no thresholds the
// result passes.
func Evaluate(thresholds []*Threshold, src Source) *Result {
	result := &Result{Passed: true}

	for _, th := range thresholds {
		tr := ThresholdResult{
			Metric:      th.Metric,
			Expression:  th.Expression,
			Aggregation: th.Aggregation,
		}

		observed, err := src.Value(th.Metric, th.Aggregation)
		if err != nil {
			tr.Message = err.Error()
		} else {
			tr.Observed = observed
			tr.Value = FormatValue(th.Kind, th.Aggregation, observed)
			tr.Passed = th.Check(observed)
			if !tr.Passed {
				tr.Message = fmt.Sprintf("%s=%s, threshold: %s", th.Aggregation, tr.Value, th.Expression)
			}
		}

		if !tr.Passed {
			result.Passed = false
		}
		result.Thresholds = append(result.Thresholds, tr)
	}

	sort.SliceStable(result.Thresholds, func(i, j int) bool {
		a, b := result.Thresholds[i], result.Thresholds[j]
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Expression < b.Expression
	})

	return result
}

// FormatValue renders an observed value in the unit of its metric.
func FormatValue(kind Kind, agg string, v float64) string {
	switch {
	case kind == Trend:
		return fmt.Sprintf("%.2fms", v)
	case agg == "rate" && kind == Rate:
		return fmt.Sprintf("%.2f%%", v*100)
	case agg == "rate":
		return fmt.Sprintf("%.2f/s", v)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
