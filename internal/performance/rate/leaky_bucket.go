// Package rate caps the global request rate of a load test.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out start times spaced 1/rate apart.
//
// Every caller of Next receives its own slot, so a bucket shared by many
// VUs caps their combined rate. When callers fall behind schedule slots are
// granted immediately, but at most maxBurst of them at once.
//
// LeakyBucket is safe for concurrent use from multiple goroutines.
//
//	lb := NewLeakyBucket(100.0) // 100 iterations per second
//
//	for {
//	    if err := lb.Wait(ctx); err != nil {
//	        return
//	    }
//	    // Execute iteration
//	}
type LeakyBucket struct {
	rate     float64
	interval time.Duration
	maxBurst float64
	nextSlot time.Time
	mu       sync.Mutex

	totalIterations atomic.Int64
	totalWaitTime   atomic.Int64
}

// NewLeakyBucket creates a bucket granting rate slots per second with no
// bursting. A non-positive rate defaults to 1. The first slot is immediate.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1.0)
}

// NewLeakyBucketWithBurst creates a leaky bucket that lets up to maxBurst
// slots be taken back-to-back after an idle period.
func NewLeakyBucketWithBurst(rate float64, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	if maxBurst < 1.0 {
		maxBurst = 1.0
	}
	return &LeakyBucket{
		rate:     rate,
		interval: time.Duration(float64(time.Second) / rate),
		maxBurst: maxBurst,
		nextSlot: time.Now(),
	}
}

// Next reserves the next slot and returns when it starts. The returned time
// may be in the past, meaning the caller may proceed immediately.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()

	earliest := now.Add(-time.Duration((lb.maxBurst - 1) * float64(lb.interval)))
	slot := lb.nextSlot
	if slot.Before(earliest) {
		slot = earliest
	}
	lb.nextSlot = slot.Add(lb.interval)

	lb.totalIterations.Add(1)
	if wait := slot.Sub(now); wait > 0 {
		lb.totalWaitTime.Add(int64(wait))
	}

	return slot
}

// Wait blocks until the next slot.
//
// Returns ctx.Err() if the context is done first. The reserved slot is
// not given back.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	waitDuration := time.Until(lb.Next())
	if waitDuration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns statistics about the leaky bucket's operation.
func (lb *LeakyBucket) Stats() LeakyBucketStats {
	lb.mu.Lock()
	rate := lb.rate
	maxBurst := lb.maxBurst
	lb.mu.Unlock()

	return LeakyBucketStats{
		Rate:            rate,
		MaxBurst:        maxBurst,
		TotalIterations: lb.totalIterations.Load(),
		TotalWaitTime:   time.Duration(lb.totalWaitTime.Load()),
	}
}

// LeakyBucketStats contains statistics about the leaky bucket.
type LeakyBucketStats struct {
	Rate            float64       `json:"rate"`            // Slots per second
	MaxBurst        float64       `json:"maxBurst"`        // Maximum burst size
	TotalIterations int64         `json:"totalIterations"` // Slots handed out
	TotalWaitTime   time.Duration `json:"totalWaitTime"`   // Total time callers were told to wait
}
