// Package output provides console output for load test runs.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

const (
	clearLine     = "\r\033[2K"
	ruleWidth     = 56
	labelWidth    = 28
	boxHorizontal = "━"

	progressFilled = "█"
	progressEmpty  = "░"
	progressWidth  = 30
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64 // 0.0 to 1.0
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs int
	TargetVUs int

	Requests  int64
	Failed    int64
	ErrorRate float64
	RPS       float64

	LatencyP95 time.Duration
}

// StatsFromSnapshot creates LiveStats from a metrics snapshot. A nil
// snapshot yields progress only.
func StatsFromSnapshot(snap *metrics.Snapshot, progress float64, total time.Duration, targetVUs int) *LiveStats {
	stats := &LiveStats{
		Progress:  progress,
		Total:     total,
		TargetVUs: targetVUs,
	}
	if snap == nil {
		return stats
	}

	stats.Elapsed = snap.Elapsed
	stats.ActiveVUs = snap.ActiveVUs
	stats.Requests = snap.TotalRequests
	stats.Failed = snap.FailedRequests
	stats.ErrorRate = snap.ErrorRate
	stats.RPS = snap.RPS
	stats.LatencyP95 = snap.Latency.P95
	return stats
}

// Console manages console output during and after a test.
type Console struct {
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme

	mu         sync.Mutex
	liveActive bool
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer  io.Writer
	Quiet   bool
	NoColor bool

	// ForceTTY and ForceColors override detection, mainly for tests.
	ForceTTY    bool
	ForceColors bool
}

// NewConsole creates a new console output handler.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)
	useColors := cfg.ForceColors || ColorsWanted(isTTY, cfg.NoColor)

	return &Console{
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: NewColorScheme(useColors && !cfg.NoColor),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the scenario about to run.
func (c *Console) PrintHeader(cfg *config.TestConfig, executorType string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Value.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - Running %s",
		c.colors.Title.Sprint(cfg.Name),
		c.colors.Dim.Sprintf("[%s]", executorType)))
	c.writeln(rule)
	if cfg.Description != "" {
		c.writeln(cfg.Description)
	}

	c.writeln(fmt.Sprintf("  scenario: %s VUs for %s (gracefulStop %s)",
		c.colors.Value.Sprint(cfg.VUs),
		c.colors.Value.Sprint(cfg.Duration.String()),
		cfg.Options.GracefulStop.String()))
	c.writeln(fmt.Sprintf("  request:  %s %s",
		c.colors.Accent.Sprint(cfg.Request.Method),
		c.colors.Value.Sprint(cfg.Request.URL)))
	if cfg.Options.RPS > 0 {
		c.writeln(fmt.Sprintf("  rate:     %s req/s", c.colors.Value.Sprint(formatFloat(cfg.Options.RPS))))
	}
	c.writeln("")
}

// Update shows live statistics. On a terminal the previous progress line is
// rewritten; otherwise every call prints a new line.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || stats == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.write(clearLine + c.renderLive(stats))
		c.liveActive = true
		return
	}

	c.writeln(fmt.Sprintf("[%s] progress=%.0f%% vus=%d/%d reqs=%d rps=%.1f failed=%d (%.2f%%) p95=%s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs, stats.TargetVUs,
		stats.Requests,
		stats.RPS,
		stats.Failed, stats.ErrorRate*100,
		formatLatency(stats.LatencyP95)))
}

func (c *Console) renderLive(stats *LiveStats) string {
	errColor := c.colors.Pass
	if stats.ErrorRate > 0.01 {
		errColor = c.colors.Warn
	}
	if stats.ErrorRate > 0.05 {
		errColor = c.colors.Fail
	}

	return fmt.Sprintf("%s %3.0f%% %s/%s  VUs %d/%d  reqs %s  rps %.1f  failed %s  p95 %s",
		c.colors.Pass.Sprint(renderProgressBar(stats.Progress, progressWidth)),
		stats.Progress*100,
		formatDuration(stats.Elapsed), formatDuration(stats.Total),
		stats.ActiveVUs, stats.TargetVUs,
		c.colors.Value.Sprint(formatNumber(stats.Requests)),
		stats.RPS,
		errColor.Sprintf("%.2f%%", stats.ErrorRate*100),
		formatLatency(stats.LatencyP95))
}

// Finish ends the live progress line, if any.
func (c *Console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()
}

func (c *Console) endLive() {
	if c.liveActive {
		c.write(clearLine)
		c.liveActive = false
	}
}

// PrintSummary prints the end-of-test summary: checks, metrics with
// threshold marks, and the verdict.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()

	evaluation := result.Thresholds
	if evaluation == nil {
		evaluation = &threshold.Result{Passed: true}
	}

	if c.quiet {
		c.printVerdict(evaluation, result.Interrupted)
		return
	}

	rule := c.colors.Value.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	status := c.colors.Pass.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Fail.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Duration: %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	if result.Interrupted {
		c.writeln(c.colors.Warn.Sprint("Test was interrupted before its deadline"))
	}
	c.writeln("")

	if snap := result.Metrics; snap != nil {
		if len(snap.Checks) > 0 {
			for _, check := range snap.Checks {
				c.writeln(c.checkLine(check))
			}
			c.writeln("")
		}

		for _, name := range threshold.Metrics() {
			c.writeln(c.metricLine(name, snap, evaluation.ForMetric(name)))
		}
		c.writeln("")
	}

	c.printVerdict(evaluation, result.Interrupted)
}

// PrintThresholdCheck prints the outcome of re-evaluating thresholds
// against a saved summary.
func (c *Console) PrintThresholdCheck(name string, evaluation *threshold.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.quiet {
		if name != "" {
			c.writeln(c.colors.Title.Sprint(name))
		}
		for _, tr := range evaluation.Thresholds {
			icon := c.colors.PassIcon()
			if !tr.Passed {
				icon = c.colors.FailIcon()
			}
			line := fmt.Sprintf("  %s %s: %s", icon, tr.Metric, tr.Expression)
			if tr.Value != "" {
				line += c.colors.Dim.Sprintf(" (%s=%s)", tr.Aggregation, tr.Value)
			}
			if !tr.Passed && tr.Value == "" && tr.Message != "" {
				line += c.colors.Dim.Sprintf(" (%s)", tr.Message)
			}
			c.writeln(line)
		}
		c.writeln("")
	}

	c.printVerdict(evaluation, false)
}

func (c *Console) printVerdict(evaluation *threshold.Result, interrupted bool) {
	total := len(evaluation.Thresholds)
	failed := evaluation.Failed()

	suffix := ""
	if interrupted {
		suffix = " (interrupted)"
	}

	switch {
	case total == 0:
		c.writeln(c.colors.Pass.Sprint("PASSED") + ": no thresholds configured" + suffix)
	case len(failed) == 0:
		c.writeln(fmt.Sprintf("%s: all %d thresholds passed%s", c.colors.Pass.Sprint("PASSED"), total, suffix))
	default:
		c.writeln(fmt.Sprintf("%s: %d of %d thresholds crossed%s",
			c.colors.Fail.Sprint("FAILED"), len(failed), total, suffix))
		for _, tr := range failed {
			c.writeln(fmt.Sprintf("  %s %s: %s", c.colors.FailIcon(), tr.Metric, tr.Message))
		}
	}
}

func (c *Console) checkLine(check metrics.CheckStats) string {
	icon := c.colors.PassIcon()
	if check.Fails > 0 {
		icon = c.colors.FailIcon()
	}
	line := fmt.Sprintf("  %s %s", icon, check.Name)
	if check.Fails > 0 {
		line += c.colors.Dim.Sprintf("  %.2f%% ✓ %d ✗ %d", check.PassRate()*100, check.Passes, check.Fails)
	}
	return line
}

func (c *Console) metricLine(name string, snap *metrics.Snapshot, results []threshold.ThresholdResult) string {
	mark := "  "
	if len(results) > 0 {
		mark = c.colors.PassIcon() + " "
		for _, tr := range results {
			if !tr.Passed {
				mark = c.colors.FailIcon() + " "
				break
			}
		}
	}

	label := name + strings.Repeat(".", max(labelWidth-len(name), 3)) + ":"
	return fmt.Sprintf("  %s%s %s", mark, label, metricValues(name, snap))
}

// metricValues renders a metric the way load testing summaries usually
// show it.
func metricValues(name string, snap *metrics.Snapshot) string {
	elapsed := snap.Elapsed.Seconds()
	perSecond := func(n int64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	switch name {
	case threshold.MetricChecks:
		return fmt.Sprintf("%.2f%% ✓ %d ✗ %d", snap.CheckPassRate*100, snap.ChecksPassed, snap.ChecksFailed)
	case threshold.MetricHTTPReqFailed:
		return fmt.Sprintf("%.2f%% ✓ %d ✗ %d", snap.ErrorRate*100, snap.FailedRequests, snap.SuccessRequests)
	case threshold.MetricDataReceived:
		return fmt.Sprintf("%s %s/s", formatBytes(float64(snap.TotalBytes)), formatBytes(perSecond(snap.TotalBytes)))
	case threshold.MetricHTTPReqs:
		return fmt.Sprintf("%d %.2f/s", snap.TotalRequests, perSecond(snap.TotalRequests))
	case threshold.MetricIterations:
		line := fmt.Sprintf("%d %.2f/s", snap.Iterations, perSecond(snap.Iterations))
		if snap.InterruptedIterations > 0 {
			line += fmt.Sprintf(" (%d interrupted)", snap.InterruptedIterations)
		}
		return line
	case threshold.MetricVUs:
		return fmt.Sprintf("%d min=%d max=%d", snap.ActiveVUs, snap.MinVUs, snap.MaxVUs)
	case threshold.MetricVUsMax:
		return fmt.Sprintf("%d min=%d max=%d", snap.MaxVUs, snap.MaxVUs, snap.MaxVUs)
	case threshold.MetricHTTPReqDuration:
		l := snap.Latency
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			formatLatency(l.Mean), formatLatency(l.Min), formatLatency(l.P50), formatLatency(l.Max),
			formatLatency(l.P90), formatLatency(l.P95), formatLatency(l.P99))
	default:
		return ""
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar of width cells.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}
