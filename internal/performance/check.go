package performance

import (
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Check is a named assertion on the status code of a response.
type Check struct {
	Name   string
	Status int
}

// ChecksFromConfig converts configured checks.
func ChecksFromConfig(cfgs []config.CheckConfig) []Check {
	checks := make([]Check, 0, len(cfgs))
	for _, c := range cfgs {
		checks = append(checks, Check{Name: c.Name, Status: c.Status})
	}
	return checks
}

// Passes reports whether the outcome satisfies the check. Transport failures
// have no status code and never pass.
func (c Check) Passes(outcome *RequestOutcome) bool {
	return outcome.StatusCode != 0 && outcome.StatusCode == c.Status
}

// EvaluateChecks runs every check against the outcome.
func EvaluateChecks(checks []Check, outcome *RequestOutcome) []metrics.CheckResult {
	if len(checks) == 0 {
		return nil
	}
	results := make([]metrics.CheckResult, len(checks))
	for i, c := range checks {
		results[i] = metrics.CheckResult{Name: c.Name, Passed: c.Passes(outcome)}
	}
	return results
}
