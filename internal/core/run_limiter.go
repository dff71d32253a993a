package core

// run_limiter.go bounds the number of pipeline runs executing at once in the
// server. Triggers that cannot get a slot within maxWait fail with
// ErrTooManyRuns. The run lock still serializes runs of the same run date;
// the limiter caps total load across dates.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyRuns is returned when every run slot stays busy for maxWait.
var ErrTooManyRuns = errors.New("too many concurrent runs, try again later")

// DefaultMaxConcurrentRuns is the default number of parallel runs.
const DefaultMaxConcurrentRuns = 1

// DefaultMaxWaitTime is how long a trigger waits for a slot.
const DefaultMaxWaitTime = 30 * time.Second

// RunLimiter is a counting semaphore over run slots.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewRunLimiter allows maxConcurrent runs; non-positive arguments use the defaults.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. Callers must Release after a nil return.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyRuns
	}
}

// Release frees a slot taken by Acquire.
func (l *RunLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of running runs.
func (l *RunLimiter) Active() int { return int(l.active.Load()) }

// Available returns the number of free slots.
func (l *RunLimiter) Available() int { return cap(l.slots) - len(l.slots) }

// WaitForDrain blocks until no run holds a slot or ctx ends.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// RunLimiterStatus is a snapshot for the API.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	return RunLimiterStatus{
		Active:        l.Active(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
	}
}
