package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/clock"
	"github.com/wesleyorama2/vuramp/internal/logging"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/planner"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

// RampingVUs resizes a VU pool to follow a stage plan.
//
// On every tick, and at every stage boundary, it computes the planned
// target and hands it to the pool. The pool retires surplus VUs with
// GracefulRampDown; when the plan ends the executor drains every VU within
// GracefulStop.
//
// Example stages:
//
//	stages:
//	  - duration: 4m
//	    target: 20     # 20 VUs for 4 minutes
//	  - duration: 6m
//	    target: 20     # hold 20 VUs
//	  - duration: 2m
//	    target: 0      # retire everything
type RampingVUs struct {
	config Config
	plan   *planner.Plan
	clock  clock.Clock
	logger logrus.FieldLogger

	sm *stateMachine

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	startTime time.Time
	pool      *vu.Pool

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	aborted      atomic.Bool
}

// Option configures an executor.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger logrus.FieldLogger
}

// WithClock sets the time source used for ticks, pacing and timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// NewRampingVUs creates a ramping-vus executor.
func NewRampingVUs(cfg Config, opts ...Option) (*RampingVUs, error) {
	if cfg.Type != TypeRampingVUs {
		return nil, fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, cfg.Type)
	}
	return newVUExecutor(cfg, opts...)
}

func newVUExecutor(cfg Config, opts ...Option) (*RampingVUs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := cfg.Plan()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	e := &RampingVUs{
		config: cfg,
		plan:   plan,
		clock:  clock.OrDefault(o.clock),
		logger: logging.OrDiscard(o.logger).WithFields(logrus.Fields{
			"scenario": cfg.Name,
			"executor": cfg.Type,
		}),
		sm: newStateMachine(),
	}
	e.currentStage.Store(-1)
	return e, nil
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Name returns the scenario name.
func (e *RampingVUs) Name() string {
	return e.config.Name
}

// Config returns a copy of the executor configuration.
func (e *RampingVUs) Config() Config {
	cfg := e.config
	cfg.Stages = e.config.PlanStages()
	return cfg
}

// Run drives the plan and blocks until the executor is Stopped.
func (e *RampingVUs) Run(ctx context.Context, workload vu.Workload, engine *metrics.Engine) error {
	if engine == nil {
		return fmt.Errorf("scenario %q: metrics engine is required", e.config.Name)
	}

	e.mu.Lock()
	if e.started {
		state := e.sm.state()
		e.mu.Unlock()
		return fmt.Errorf("%w: scenario %q already started (%s)", ErrInvalidState, e.config.Name, state)
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	pool, err := vu.NewPool(vu.PoolConfig{
		Workload:         workload,
		Recorder:         engine,
		Pacing:           e.config.Pacing,
		IterationTimeout: e.config.IterationTimeout,
		GracefulRampDown: e.config.GracefulRampDown,
		Clock:            e.clock,
		Logger:           e.logger,
	})
	if err != nil {
		e.mu.Unlock()
		e.drain(nil, engine)
		return fmt.Errorf("scenario %q: %w", e.config.Name, err)
	}
	e.pool = pool
	e.startTime = e.clock.Now()
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"stages":   e.plan.Len(),
		"duration": e.plan.Duration(),
		"maxVUs":   e.plan.MaxTarget(),
	}).Info("scenario started")

	if e.drive(runCtx, pool, engine) {
		e.aborted.Store(true)
		e.logger.Warn("scenario aborted; draining VUs")
	}
	e.drain(pool, engine)
	return nil
}

// drive follows the plan until it ends. With HoldLast the final target is
// kept past the end until ctx is cancelled. It reports true if ctx was
// cancelled first.
func (e *RampingVUs) drive(ctx context.Context, pool *vu.Pool, engine *metrics.Engine) bool {
	total := e.plan.Duration()
	holding := false

	for {
		if ctx.Err() != nil {
			return true
		}

		elapsed := e.clock.Since(e.startTime)
		if elapsed >= total {
			if !e.config.HoldLast {
				return false
			}
			if !holding {
				holding = true
				e.logger.Info("plan finished; holding final target until stopped")
			}
		}
		e.apply(elapsed, pool, engine)

		wait := e.config.TickInterval
		if next, ok := e.plan.NextBoundary(elapsed); ok && next-elapsed < wait {
			wait = next - elapsed
		}
		if !clock.Sleep(ctx, e.clock, wait) {
			return true
		}
	}
}

// apply converges the pool on the target for elapsed and updates state.
func (e *RampingVUs) apply(elapsed time.Duration, pool *vu.Pool, engine *metrics.Engine) {
	target, err := e.plan.Target(elapsed)
	if err != nil {
		e.logger.WithError(err).Error("computing target")
		return
	}
	e.targetVUs.Store(int32(target))

	if err := pool.SetTarget(target); err != nil {
		e.logger.WithError(err).Warn("setting pool target")
	}

	idx, name := e.plan.StageAt(elapsed)
	if idx < 0 {
		// Holding past the end: the last stage stays current.
		engine.SetPhase(metrics.PhaseSteady)
		engine.SetActiveVUs(pool.Active())
		if err := e.sm.transition(StateSteady, e.clock.Now()); err != nil {
			e.logger.WithError(err).Error("state transition")
		}
		return
	}
	if prev := e.currentStage.Swap(int32(idx)); prev != int32(idx) {
		e.logger.WithFields(logrus.Fields{
			"stage":  idx,
			"name":   name,
			"target": target,
		}).Info("stage started")
	}

	state, phase := StateSteady, metrics.PhaseSteady
	switch e.plan.Direction(idx) {
	case 1:
		state, phase = StateRamping, metrics.PhaseRampUp
	case -1:
		state, phase = StateRamping, metrics.PhaseRampDown
	}
	if err := e.sm.transition(state, e.clock.Now()); err != nil {
		e.logger.WithError(err).Error("state transition")
	}
	engine.SetPhase(phase)
	engine.SetActiveVUs(pool.Active())
}

// drain stops issuing targets, waits up to GracefulStop for every VU, then
// force-stops the remainder and enters Stopped.
func (e *RampingVUs) drain(pool *vu.Pool, engine *metrics.Engine) {
	if err := e.sm.transition(StateDraining, e.clock.Now()); err != nil {
		e.logger.WithError(err).Error("state transition")
	}
	engine.SetPhase(metrics.PhaseDraining)
	e.targetVUs.Store(0)

	var abandoned int
	if pool != nil {
		abandoned = pool.StopAll(e.config.GracefulStop)
		engine.SetActiveVUs(pool.Active())
		pool.Close()
	}

	engine.SetPhase(metrics.PhaseDone)
	if err := e.sm.transition(StateStopped, e.clock.Now()); err != nil {
		e.logger.WithError(err).Error("state transition")
	}

	fields := logrus.Fields{"abandoned": abandoned, "aborted": e.aborted.Load()}
	if pool != nil {
		fields["iterations"] = pool.Iterations()
		fields["peakVUs"] = pool.Peak()
	}
	e.logger.WithFields(fields).Info("scenario stopped")
}

// Stop aborts the executor and waits until it reaches Stopped. Stopping an
// executor that never ran moves it straight to Stopped. Stopping a Stopped
// executor fails with ErrInvalidState.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.sm.state() == StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("%w: scenario %q already stopped", ErrInvalidState, e.config.Name)
	}
	e.aborted.Store(true)

	if !e.started {
		e.started = true
		e.mu.Unlock()
		now := e.clock.Now()
		if err := e.sm.transition(StateDraining, now); err != nil {
			return err
		}
		return e.sm.transition(StateStopped, now)
	}

	cancel := e.cancel
	e.mu.Unlock()
	cancel()

	select {
	case <-e.sm.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the executor reaches Stopped.
func (e *RampingVUs) Done() <-chan struct{} {
	return e.sm.stopped
}

// State returns the current lifecycle state.
func (e *RampingVUs) State() State {
	return e.sm.state()
}

// Transitions returns every state change so far.
func (e *RampingVUs) Transitions() []Transition {
	return e.sm.transitions()
}

// Progress returns plan progress (0.0 to 1.0).
func (e *RampingVUs) Progress() float64 {
	if e.sm.state() == StateStopped {
		return 1.0
	}

	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()
	if start.IsZero() {
		return 0.0
	}

	total := e.plan.Duration()
	if total == 0 {
		return 1.0
	}
	progress := float64(e.clock.Since(start)) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() *Stats {
	e.mu.Lock()
	start := e.startTime
	pool := e.pool
	e.mu.Unlock()

	now := e.clock.Now()
	stats := &Stats{
		State:         e.sm.state(),
		StartTime:     start,
		CurrentTime:   now,
		TotalDuration: e.plan.Duration(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   e.plan.Len(),
		Aborted:       e.aborted.Load(),
	}
	if !start.IsZero() {
		stats.Elapsed = now.Sub(start)
	}
	if stats.CurrentStage >= 0 && stats.CurrentStage < e.plan.Len() {
		stats.CurrentStageName = e.plan.Stages()[stats.CurrentStage].Name
	}
	if pool != nil {
		counts := pool.Counts()
		stats.ActiveVUs = counts.Active()
		stats.DrainingVUs = counts.Draining
		stats.PeakVUs = pool.Peak()
		stats.Iterations = pool.Iterations()
		stats.Abandoned = pool.Abandoned()
	}
	return stats
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
