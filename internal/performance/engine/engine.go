// Package engine runs a load test from configuration to verdict.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/rate"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// shutdownTimeout bounds the wait for VUs after the executor returns.
const shutdownTimeout = 5 * time.Second

// Engine is the main orchestrator of a load test.
//
// It coordinates:
//   - Configuration validation
//   - The executor driving the virtual users
//   - Metrics collection and aggregation
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	thresholds []*threshold.Threshold
	httpConfig performance.HTTPClientConfig

	executor   executor.Executor
	execConfig *executor.Config

	metricsEngine *metrics.Engine

	mu        sync.RWMutex
	startTime time.Time
	running   bool
}

// TestResult contains the complete test results.
type TestResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Executor string          `json:"executor"`
	Stats    *executor.Stats `json:"stats"`

	Metrics *metrics.Snapshot `json:"metrics"`

	// RateLimit is set when the run was capped by options.rps
	RateLimit *rate.LeakyBucketStats `json:"rateLimit,omitempty"`

	Thresholds *threshold.Result `json:"thresholds"`
	Passed     bool              `json:"passed"`

	// Interrupted is set when the run ended before its deadline
	Interrupted bool `json:"interrupted"`

	// Config is the effective configuration, defaults applied
	Config *config.TestConfig `json:"-"`
}

// NewEngine validates cfg and prepares a run. Defaults are applied to cfg.
//
// Invalid configuration is returned as a *config.ValidationErrors.
func NewEngine(cfg *config.TestConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	config.ApplyDefaults(cfg)

	thresholds, err := threshold.ParseSet(cfg.Thresholds)
	if err != nil {
		return nil, errors.Wrap(err, "invalid thresholds")
	}

	exec, execConfig, err := executor.CreateExecutorFromTestConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &Engine{
		config:     cfg,
		thresholds: thresholds,
		httpConfig: performance.HTTPClientConfigFromSettings(cfg.Settings),
		executor:   exec,
		execConfig: execConfig,
	}, nil
}

// Run executes the test and returns its results.
//
// Cancelling ctx interrupts the run. The result is still returned, with
// Interrupted set and thresholds evaluated over what was recorded.
// Threshold failures are not errors; see TestResult.Passed.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngine()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	req, err := performance.NewRequest(e.config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	var (
		limiter performance.Limiter
		bucket  *rate.LeakyBucket
	)
	if e.config.Options.RPS > 0 {
		bucket = rate.NewLeakyBucket(e.config.Options.RPS)
		limiter = bucket
	}

	scheduler := performance.NewVUScheduler(req, performance.ChecksFromConfig(e.config.Checks),
		e.metricsEngine, e.httpConfig, limiter)

	grip.Info(message.Fields{
		"message":    "starting test",
		"name":       e.config.Name,
		"executor":   e.execConfig.Type,
		"vus":        e.execConfig.VUs,
		"duration":   e.execConfig.Duration.String(),
		"url":        req.URL,
		"method":     req.Method,
		"rps":        e.config.Options.RPS,
		"thresholds": len(e.thresholds),
	})

	catcher := grip.NewBasicCatcher()
	catcher.Wrap(e.executor.Run(ctx, scheduler, e.metricsEngine), "executor failed")
	catcher.Wrap(scheduler.Shutdown(shutdownTimeout), "scheduler shutdown")
	e.metricsEngine.Stop()

	snapshot := e.metricsEngine.GetSnapshot()
	stats := e.executor.GetStats()
	evaluation := threshold.Evaluate(e.thresholds, snapshot)

	endTime := time.Now()
	result := &TestResult{
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(e.startTime),
		Executor:    string(e.execConfig.Type),
		Stats:       stats,
		Metrics:     snapshot,
		Thresholds:  evaluation,
		Passed:      evaluation.Passed,
		Interrupted: stats.Interrupted || ctx.Err() != nil,
		Config:      e.config,
	}
	if bucket != nil {
		stats := bucket.Stats()
		result.RateLimit = &stats

		grip.Info(message.Fields{
			"message":    "rate limiter",
			"rate":       stats.Rate,
			"slots":      stats.TotalIterations,
			"total_wait": stats.TotalWaitTime.String(),
		})
	}

	grip.Info(message.Fields{
		"message":     "test finished",
		"name":        result.Name,
		"duration":    result.Duration.String(),
		"requests":    snapshot.TotalRequests,
		"failed":      snapshot.FailedRequests,
		"iterations":  snapshot.Iterations,
		"interrupted": result.Interrupted,
		"passed":      result.Passed,
	})
	for _, tr := range evaluation.Failed() {
		grip.Notice(message.Fields{
			"message":    "threshold failed",
			"metric":     tr.Metric,
			"expression": tr.Expression,
			"observed":   tr.Value,
			"reason":     tr.Message,
		})
	}

	return result, catcher.Resolve()
}

// GetConfig returns the effective test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// ExecutorType returns the type of executor driving the VUs.
func (e *Engine) ExecutorType() executor.Type {
	return e.execConfig.Type
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() []*threshold.Threshold {
	return e.thresholds
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	metricsEngine := e.metricsEngine
	e.mu.RUnlock()

	if metricsEngine == nil {
		return nil
	}
	return metricsEngine.GetSnapshot()
}

// GetStats returns the executor statistics.
func (e *Engine) GetStats() *executor.Stats {
	return e.executor.GetStats()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop interrupts a running test and waits for it to wind down, bounded
// by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.IsRunning() {
		return nil
	}
	return errors.Wrap(e.executor.Stop(ctx), "failed to stop executor")
}

// GetProgress returns the test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	return e.executor.GetProgress()
}
