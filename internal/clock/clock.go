// Package clock provides the time source used for pacing and scheduling.
//
// Production code uses the wall clock; tests can substitute a mock from
// github.com/benbjohnson/clock to make elapsed-time calculations deterministic.
package clock

import (
	"context"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source shared by the planner, pool and executor.
type Clock = bclock.Clock

// Mock is a manually advanced clock for tests.
type Mock = bclock.Mock

// Timer is a timer created by a Clock.
type Timer = bclock.Timer

// New returns a clock backed by the system's monotonic wall clock.
func New() Clock {
	return bclock.New()
}

// NewMock returns a mock clock starting at the Unix epoch.
func NewMock() *Mock {
	return bclock.NewMock()
}

// OrDefault returns c, or the wall clock if c is nil.
func OrDefault(c Clock) Clock {
	if c == nil {
		return New()
	}
	return c
}

// Sleep waits for d on clk or until ctx is done.
//
// It returns true if the full duration elapsed and false if ctx was
// cancelled first. A non-positive duration returns immediately.
func Sleep(ctx context.Context, clk Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SleepOrSignal waits for d, ctx cancellation, or a receive on signal,
// whichever happens first. It returns true only if the full duration elapsed.
func SleepOrSignal(ctx context.Context, clk Clock, d time.Duration, signal <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-signal:
		return false
	case <-timer.C:
		return true
	}
}
