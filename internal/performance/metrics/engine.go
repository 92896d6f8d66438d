// Package metrics aggregates request outcomes for a load test run.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine accumulates request outcomes for the whole run.
//
// Every sample is applied under a single lock, so the latency histogram and
// all counters always describe the same set of requests. Nothing is evicted
// or windowed: a snapshot reflects everything recorded since the engine was
// created.
type Engine struct {
	mu sync.Mutex

	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist *hdrhistogram.Histogram

	totalRequests  int64
	failedRequests int64
	totalBytes     int64

	iterations            int64
	interruptedIterations int64

	checksPassed int64
	checksFailed int64
	checks       map[string]*CheckStats
	checkOrder   []string

	activeVUs int
	minVUs    int
	maxVUs    int
	vusSeen   bool
	vusFrozen bool

	startTime time.Time
	endTime   time.Time

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// CheckResult is the outcome of one named check on one response.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Sample is everything one completed iteration reports.
type Sample struct {
	Duration      time.Duration
	StatusCode    int
	BytesReceived int64
	Failed        bool
	Checks        []CheckResult
}

// CheckStats counts passes and fails of a named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// PassRate returns passes / (passes + fails), or 0 with no results.
func (c CheckStats) PassRate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:      make(map[string]*CheckStats),
		startTime:   time.Now(),
		config:      config,
	}
}

// Record adds the outcome of one completed iteration.
func (e *Engine) Record(s Sample) {
	latencyMicros := s.Duration.Microseconds()

	// Clamp to valid range
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_ = e.latencyHist.RecordValue(latencyMicros)

	e.totalRequests++
	e.totalBytes += s.BytesReceived
	if s.Failed {
		e.failedRequests++
	}
	e.iterations++

	for _, c := range s.Checks {
		stats, ok := e.checks[c.Name]
		if !ok {
			stats = &CheckStats{Name: c.Name}
			e.checks[c.Name] = stats
			e.checkOrder = append(e.checkOrder, c.Name)
		}
		if c.Passed {
			stats.Passes++
			e.checksPassed++
		} else {
			stats.Fails++
			e.checksFailed++
		}
	}
}

// RecordInterrupted counts an iteration cut short by an interrupt.
func (e *Engine) RecordInterrupted() {
	e.mu.Lock()
	e.interruptedIterations++
	e.mu.Unlock()
}

// SetActiveVUs updates the active VU count. It is ignored after FreezeVUs.
func (e *Engine) SetActiveVUs(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vusFrozen {
		return
	}
	e.activeVUs = count
	if !e.vusSeen || count < e.minVUs {
		e.minVUs = count
	}
	if count > e.maxVUs {
		e.maxVUs = count
	}
	e.vusSeen = true
}

// FreezeVUs stops further updates to the VU gauge.
func (e *Engine) FreezeVUs() {
	e.mu.Lock()
	e.vusFrozen = true
	e.mu.Unlock()
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeVUs
}

// Stop freezes the elapsed time used for rates. Recording after Stop is
// still accepted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endTime.IsZero() {
		e.endTime = time.Now()
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	frozen := hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
	frozen.Merge(e.latencyHist)

	now := time.Now()
	end := now
	if !e.endTime.IsZero() {
		end = e.endTime
	}
	elapsed := end.Sub(e.startTime)

	checks := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		checks = append(checks, *e.checks[name])
	}

	snap := &Snapshot{
		TotalRequests:         e.totalRequests,
		SuccessRequests:       e.totalRequests - e.failedRequests,
		FailedRequests:        e.failedRequests,
		TotalBytes:            e.totalBytes,
		Iterations:            e.iterations,
		InterruptedIterations: e.interruptedIterations,
		ChecksPassed:          e.checksPassed,
		ChecksFailed:          e.checksFailed,
		Checks:                checks,
		Latency:               latencyStats(frozen),
		ActiveVUs:             e.activeVUs,
		MinVUs:                e.minVUs,
		MaxVUs:                e.maxVUs,
		Elapsed:               elapsed,
		StartTime:             e.startTime,
		Timestamp:             now,
		hist:                  frozen,
	}

	if e.totalRequests > 0 {
		snap.ErrorRate = float64(e.failedRequests) / float64(e.totalRequests)
	}
	if total := e.checksPassed + e.checksFailed; total > 0 {
		snap.CheckPassRate = float64(e.checksPassed) / float64(total)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(e.totalRequests) / secs
	}

	return snap
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(hist.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}
