package performance

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Limiter paces iterations across all VUs.
type Limiter interface {
	Wait(ctx context.Context) error
}

// VirtualUser is one simulated client issuing iterations back-to-back.
//
// VUs are created by the VUScheduler. They share the HTTP client, the
// metrics engine and the optional limiter, and nothing else.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Request issued by every iteration
	Request *Request

	// Checks evaluated against every response
	Checks []Check

	// HTTP client (shared between VUs)
	HTTPClient *http.Client

	// Metrics engine for recording results
	Metrics *metrics.Engine

	// Limiter, when set, gates the start of every iteration
	Limiter Limiter

	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, req *Request, checks []Check, httpClient *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Request:    req,
		Checks:     checks,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration executes the request once, evaluates the checks and records
// the outcome. An iteration whose request was cut off by cancellation of ctx
// is counted as interrupted and its outcome is not recorded; the context
// error is returned in that case.
func (vu *VirtualUser) RunIteration(ctx context.Context) (*RequestOutcome, error) {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return nil, errors.Errorf("VU %d is stopping or stopped", vu.ID)
	}

	vu.state.Store(int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	vu.iteration.Add(1)

	outcome := vu.Request.Do(ctx, vu.HTTPClient)
	if outcome.Interrupted {
		vu.Metrics.RecordInterrupted()
		return outcome, ctx.Err()
	}

	vu.Metrics.Record(metrics.Sample{
		Duration:      outcome.Duration,
		StatusCode:    outcome.StatusCode,
		BytesReceived: outcome.BytesReceived,
		Failed:        outcome.Failed,
		Checks:        EvaluateChecks(vu.Checks, outcome),
	})

	grip.DebugWhen(outcome.Error != nil, message.WrapError(outcome.Error, message.Fields{
		"message":   "request failed",
		"vu":        vu.ID,
		"iteration": vu.iteration.Load(),
		"url":       vu.Request.URL,
	}))

	return outcome, nil
}

// Loop runs iterations until deadline is done or the VU is asked to stop.
//
// No iteration starts once deadline is done, but an iteration already in
// flight runs to completion: its request uses requestCtx, which is only
// cancelled when the run is interrupted. Loop returns the context error of
// requestCtx if the run was interrupted, nil otherwise.
func (vu *VirtualUser) Loop(deadline, requestCtx context.Context) error {
	defer vu.MarkStopped()

	for {
		select {
		case <-deadline.Done():
			return nil
		case <-requestCtx.Done():
			return requestCtx.Err()
		case <-vu.stopCh:
			return nil
		default:
		}

		if vu.Limiter != nil {
			if err := vu.Limiter.Wait(deadline); err != nil {
				return nil
			}
		}

		if _, err := vu.RunIteration(requestCtx); err != nil {
			if requestCtx.Err() != nil {
				return requestCtx.Err()
			}
			return nil
		}
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
