// Package vu runs virtual users: closed-loop goroutines that repeatedly
// invoke a workload and report one result per iteration.
package vu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/vuramp/internal/clock"
	"github.com/wesleyorama2/vuramp/internal/metrics"
)

// State represents the lifecycle state of a Virtual User.
type State int32

const (
	// StateIdle indicates the VU is between iterations.
	StateIdle State = iota
	// StateRunning indicates an iteration is in flight.
	StateRunning
	// StateDraining indicates the VU was retired mid-iteration and will stop
	// once the in-flight iteration returns.
	StateDraining
	// StateStopped indicates the VU has fully stopped.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Failure reasons produced by the VU itself rather than the workload.
const (
	ReasonTimeout     = "timeout"
	ReasonInterrupted = "interrupted"
	ReasonPanic       = "panic"
)

// Workload is the request logic a VU executes once per iteration.
// Implementations must honor ctx cancellation.
type Workload interface {
	Run(ctx context.Context) error
}

// WorkloadFunc adapts a function to the Workload interface.
type WorkloadFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f WorkloadFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// VirtualUser represents a single simulated user executing iterations.
//
// A VU is owned by the Pool that spawned it. Its state is an atomic so the
// pool can retire it without coordinating with the VU goroutine.
type VirtualUser struct {
	// ID is unique within the pool, starting at 1.
	ID int

	state     atomic.Int32
	iteration atomic.Int64
	forced    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	// retireCh is closed when the VU is marked for retirement.
	retireCh   chan struct{}
	retireOnce sync.Once

	// doneCh is closed when the VU is Stopped, either by its own loop or by
	// a force-stop.
	doneCh   chan struct{}
	doneOnce sync.Once

	// graceMu guards graceTimer, the pending force-stop armed on retirement.
	graceMu    sync.Mutex
	graceTimer *clock.Timer
}

func newVirtualUser(parent context.Context, id int) *VirtualUser {
	ctx, cancel := context.WithCancel(parent)
	return &VirtualUser{
		ID:       id,
		ctx:      ctx,
		cancel:   cancel,
		retireCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State returns the current VU state.
func (v *VirtualUser) State() State {
	return State(v.state.Load())
}

// Iterations returns the number of iterations started by this VU.
func (v *VirtualUser) Iterations() int64 {
	return v.iteration.Load()
}

// Done is closed once the VU is Stopped.
func (v *VirtualUser) Done() <-chan struct{} {
	return v.doneCh
}

// Abandoned reports whether the VU was force-stopped.
func (v *VirtualUser) Abandoned() bool {
	return v.forced.Load()
}

// retire marks the VU for retirement. An Idle VU stops immediately; a
// Running VU moves to Draining and stops after its in-flight iteration.
// It reports whether the VU is now draining.
func (v *VirtualUser) retire() bool {
	v.retireOnce.Do(func() { close(v.retireCh) })

	for {
		switch State(v.state.Load()) {
		case StateIdle:
			if v.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
				v.markDone()
				return false
			}
		case StateRunning:
			if v.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
				return true
			}
		case StateDraining:
			return true
		default:
			return false
		}
	}
}

// retiring reports whether retire has been called.
func (v *VirtualUser) retiring() bool {
	select {
	case <-v.retireCh:
		return true
	default:
		return false
	}
}

// forceStop cancels the in-flight iteration and marks the VU Stopped
// without waiting for the workload to return. It reports whether the VU
// was still live.
func (v *VirtualUser) forceStop() bool {
	v.retireOnce.Do(func() { close(v.retireCh) })

	prev := State(v.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		return false
	}
	v.forced.Store(true)
	v.cancel()
	v.markDone()
	return true
}

func (v *VirtualUser) markDone() {
	v.doneOnce.Do(func() {
		close(v.doneCh)
		v.graceMu.Lock()
		if v.graceTimer != nil {
			v.graceTimer.Stop()
		}
		v.graceMu.Unlock()
	})
}

// armGrace records the force-stop timer so it is released once the VU is
// done. A timer armed after the VU already stopped is stopped at once.
func (v *VirtualUser) armGrace(t *clock.Timer) {
	v.graceMu.Lock()
	defer v.graceMu.Unlock()
	v.graceTimer = t
	select {
	case <-v.doneCh:
		t.Stop()
	default:
	}
}

// run is the VU loop: iterate, record, pace, repeat until retired.
func (v *VirtualUser) run(p *Pool) {
	defer v.cancel()

	for {
		if v.retiring() || v.ctx.Err() != nil {
			v.stop()
			return
		}
		if !v.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
			// Retired between the check above and the transition.
			return
		}

		result := v.iterate(p)
		p.iterations.Add(1)
		p.recorder.Record(result)

		if !v.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
			// Draining or force-stopped while the iteration was in flight.
			v.stop()
			return
		}

		if p.config.Pacing > 0 && !clock.SleepOrSignal(v.ctx, p.clock, p.config.Pacing, v.retireCh) {
			v.stop()
			return
		}
	}
}

// stop moves the VU to Stopped unless a force-stop already did.
func (v *VirtualUser) stop() {
	if State(v.state.Swap(int32(StateStopped))) != StateStopped {
		v.markDone()
	}
}

// iterate executes one workload call and converts its outcome into a result.
func (v *VirtualUser) iterate(p *Pool) metrics.IterationResult {
	n := v.iteration.Add(1)

	ctx := v.ctx
	cancel := context.CancelFunc(func() {})
	if p.config.IterationTimeout > 0 {
		ctx, cancel = p.clock.WithTimeout(ctx, p.config.IterationTimeout)
	}
	defer cancel()

	start := p.clock.Now()
	err := safeRun(ctx, p.config.Workload)
	end := p.clock.Now()

	result := metrics.IterationResult{
		VUID:      v.ID,
		Iteration: n,
		StartTime: start,
		EndTime:   end,
		Outcome:   metrics.OutcomeSuccess,
	}

	switch {
	case v.forced.Load():
		result.Outcome = metrics.OutcomeFailure
		result.Reason = ReasonInterrupted
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Outcome = metrics.OutcomeFailure
		result.Reason = ReasonTimeout
	default:
		result.Outcome = metrics.OutcomeFailure
		result.Reason = failureReason(err)
	}
	return result
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s: %v", ReasonPanic, e.value)
}

// safeRun invokes the workload, converting a panic into an error.
func safeRun(ctx context.Context, w Workload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return w.Run(ctx)
}

func failureReason(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return ReasonPanic
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown"
}
