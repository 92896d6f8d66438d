package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// All VUs start at once and share one deadline. Each runs iterations
// back-to-back until the deadline passes; there is no coordination between
// them beyond the shared scheduler, metrics engine and limiter.
type ConstantVUs struct {
	config    *Config
	scheduler *performance.VUScheduler
	metrics   *metrics.Engine

	startTime   time.Time
	endTime     time.Time
	activeVUs   atomic.Int32
	running     atomic.Bool
	interrupted atomic.Bool

	interrupt context.CancelFunc
	done      chan struct{}

	mu sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return errors.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until every VU has finished.
//
// VU loops stop starting iterations at the deadline. Requests still in
// flight then run to completion, unless ctx is cancelled, Stop is called,
// or a positive GracefulStop elapses first.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return errors.New("executor is not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor is already running")
	}

	requestCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()
	deadline, cancelDeadline := context.WithTimeout(requestCtx, e.config.Duration)
	defer cancelDeadline()

	done := make(chan struct{})

	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.interrupt = interrupt
	e.done = done
	e.mu.Unlock()

	if e.config.GracefulStop > 0 {
		go e.enforceGracefulStop(deadline, done, interrupt)
	}

	grip.Info(message.Fields{
		"message":  "starting VUs",
		"executor": e.config.Name,
		"vus":      e.config.VUs,
		"duration": e.config.Duration.String(),
	})

	vus := make([]*performance.VirtualUser, e.config.VUs)
	for i := range vus {
		vus[i] = scheduler.SpawnVU()
	}
	scheduler.UpdateMetrics()

	var g errgroup.Group
	for _, vu := range vus {
		vu := vu
		g.Go(func() error {
			e.activeVUs.Add(1)
			defer e.vuStopped(deadline)
			return vu.Loop(deadline, requestCtx)
		})
	}
	err := g.Wait()

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()
	close(done)
	e.running.Store(false)

	// Requests cut off by the graceful stop are counted per iteration; only
	// the caller's ctx or Stop interrupts the run itself.
	if ctx.Err() != nil {
		e.interrupted.Store(true)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, "VU loop failed")
	}
	return nil
}

// enforceGracefulStop interrupts in-flight requests once GracefulStop has
// passed after the deadline.
func (e *ConstantVUs) enforceGracefulStop(deadline context.Context, done <-chan struct{}, interrupt context.CancelFunc) {
	select {
	case <-done:
		return
	case <-deadline.Done():
	}

	timer := time.NewTimer(e.config.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		grip.Warning(message.Fields{
			"message":       "graceful stop elapsed, interrupting in-flight requests",
			"executor":      e.config.Name,
			"graceful_stop": e.config.GracefulStop.String(),
		})
		interrupt()
	}
}

// vuStopped publishes the shrinking VU count while the run is being
// interrupted. After the deadline the gauge keeps its steady-state value.
func (e *ConstantVUs) vuStopped(deadline context.Context) {
	e.activeVUs.Add(-1)
	if errors.Is(deadline.Err(), context.DeadlineExceeded) {
		e.metrics.FreezeVUs()
		return
	}
	e.scheduler.UpdateMetrics()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startTime.IsZero() {
		return 0.0
	}
	if !e.endTime.IsZero() {
		return 1.0
	}

	progress := float64(time.Since(e.startTime)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	stats := &Stats{
		StartTime:   e.startTime,
		CurrentTime: now,
		ActiveVUs:   int(e.activeVUs.Load()),
		Interrupted: e.interrupted.Load(),
	}
	if e.config != nil {
		stats.TotalDuration = e.config.Duration
		stats.TargetVUs = e.config.VUs
	}

	switch {
	case e.startTime.IsZero():
	case !e.endTime.IsZero():
		stats.Elapsed = e.endTime.Sub(e.startTime)
	default:
		stats.Elapsed = now.Sub(e.startTime)
	}

	if e.scheduler != nil {
		stats.Iterations = e.scheduler.TotalIterations()
	}
	if e.metrics != nil {
		stats.InterruptedIterations = e.metrics.GetSnapshot().InterruptedIterations
	}

	return stats
}

// Stop interrupts the run, cancelling requests in flight, and waits for all
// VUs to return or for ctx to be done.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.mu.RLock()
	interrupt, done := e.interrupt, e.done
	e.mu.RUnlock()

	if interrupt == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	e.interrupted.Store(true)
	interrupt()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for VUs to stop")
	}
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
