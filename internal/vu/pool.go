package vu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/clock"
	"github.com/wesleyorama2/vuramp/internal/logging"
	"github.com/wesleyorama2/vuramp/internal/metrics"
)

var (
	// ErrInvalidArgument is returned for negative targets and missing
	// collaborators.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPoolClosed is returned by SetTarget after StopAll or Close.
	ErrPoolClosed = errors.New("pool closed")
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workload is invoked once per iteration. Required.
	Workload Workload

	// Recorder receives one result per iteration. Required.
	Recorder metrics.Recorder

	// Pacing is the wait after each iteration before the next one.
	Pacing time.Duration

	// IterationTimeout bounds a single workload call. Zero disables it.
	IterationTimeout time.Duration

	// GracefulRampDown is how long a VU retired mid-iteration may keep
	// running before it is force-stopped. Zero or negative force-stops
	// immediately.
	GracefulRampDown time.Duration

	// Clock is the time source; the wall clock when nil.
	Clock clock.Clock

	// Logger receives lifecycle events; discarded when nil.
	Logger logrus.FieldLogger
}

// Counts is a per-state breakdown of the live VUs.
type Counts struct {
	Idle     int `json:"idle"`
	Running  int `json:"running"`
	Draining int `json:"draining"`
}

// Active returns the number of live VUs.
func (c Counts) Active() int {
	return c.Idle + c.Running + c.Draining
}

// Pool manages the lifecycle of Virtual Users for one scenario.
//
// SetTarget and StopAll run on the control path and never wait for a
// workload call: retiring a VU is a state transition, and VUs that keep
// running past their grace period are force-stopped and abandoned.
type Pool struct {
	config   PoolConfig
	recorder metrics.Recorder
	clock    clock.Clock
	logger   logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	vus    []*VirtualUser // spawn order, live and draining only
	nextID int
	closed bool

	peak       atomic.Int32
	iterations atomic.Int64
	abandoned  atomic.Int64
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Workload == nil {
		return nil, fmt.Errorf("%w: workload is required", ErrInvalidArgument)
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("%w: recorder is required", ErrInvalidArgument)
	}
	if cfg.Pacing < 0 {
		return nil, fmt.Errorf("%w: pacing must be non-negative", ErrInvalidArgument)
	}
	if cfg.IterationTimeout < 0 {
		return nil, fmt.Errorf("%w: iteration timeout must be non-negative", ErrInvalidArgument)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:   cfg,
		recorder: cfg.Recorder,
		clock:    clock.OrDefault(cfg.Clock),
		logger:   logging.OrDiscard(cfg.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetTarget converges the pool toward n concurrently active VUs.
//
// Growing spawns n-current VUs that start iterating immediately. Shrinking
// retires the most recently spawned VUs: idle ones stop at once, running
// ones drain and are force-stopped if still in flight after
// GracefulRampDown. Draining VUs do not count toward current.
func (p *Pool) SetTarget(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: target %d is negative", ErrInvalidArgument, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.reapLocked()

	current := p.assignedLocked()
	switch {
	case n > current.count:
		for i := current.count; i < n; i++ {
			p.spawnLocked()
		}
		p.logger.WithFields(logrus.Fields{"from": current.count, "to": n}).Debug("scaled up")
	case n < current.count:
		// Retire from the newest end.
		excess := current.count - n
		for i := len(current.vus) - 1; i >= 0 && excess > 0; i-- {
			p.retireLocked(current.vus[i])
			excess--
		}
		p.logger.WithFields(logrus.Fields{"from": current.count, "to": n}).Debug("scaled down")
	}

	p.updatePeakLocked()
	return nil
}

type assignment struct {
	vus   []*VirtualUser
	count int
}

// assignedLocked returns the VUs that have not been retired, in spawn order.
func (p *Pool) assignedLocked() assignment {
	a := assignment{vus: make([]*VirtualUser, 0, len(p.vus))}
	for _, v := range p.vus {
		if !v.retiring() {
			a.vus = append(a.vus, v)
		}
	}
	a.count = len(a.vus)
	return a
}

func (p *Pool) spawnLocked() {
	p.nextID++
	v := newVirtualUser(p.ctx, p.nextID)
	p.vus = append(p.vus, v)
	go v.run(p)
}

func (p *Pool) retireLocked(v *VirtualUser) {
	if !v.retire() {
		return
	}

	grace := p.config.GracefulRampDown
	if grace <= 0 {
		p.forceStop(v)
		return
	}
	v.armGrace(p.clock.AfterFunc(grace, func() {
		p.forceStop(v)
	}))
}

func (p *Pool) forceStop(v *VirtualUser) {
	if !v.forceStop() {
		return
	}
	p.abandoned.Add(1)
	p.logger.WithField("vu", v.ID).Warn("force-stopped VU after grace period; in-flight iteration abandoned")
}

// reapLocked drops Stopped VUs from the live set.
func (p *Pool) reapLocked() {
	live := p.vus[:0]
	for _, v := range p.vus {
		if v.State() != StateStopped {
			live = append(live, v)
		}
	}
	for i := len(live); i < len(p.vus); i++ {
		p.vus[i] = nil
	}
	p.vus = live
}

func (p *Pool) updatePeakLocked() {
	active := 0
	for _, v := range p.vus {
		if v.State() != StateStopped {
			active++
		}
	}
	for {
		peak := p.peak.Load()
		if int32(active) <= peak || p.peak.CompareAndSwap(peak, int32(active)) {
			return
		}
	}
}

// Counts returns the per-state breakdown of live VUs.
func (p *Pool) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()

	var c Counts
	for _, v := range p.vus {
		switch v.State() {
		case StateIdle:
			c.Idle++
		case StateRunning:
			c.Running++
		case StateDraining:
			c.Draining++
		}
	}
	return c
}

// Active returns the number of live (not Stopped) VUs, draining included.
func (p *Pool) Active() int {
	return p.Counts().Active()
}

// Assigned returns the number of live VUs not marked for retirement.
func (p *Pool) Assigned() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, v := range p.vus {
		if !v.retiring() && v.State() != StateStopped {
			n++
		}
	}
	return n
}

// Peak returns the highest number of live VUs observed.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Iterations returns the number of completed iterations across all VUs.
func (p *Pool) Iterations() int64 {
	return p.iterations.Load()
}

// Abandoned returns the number of VUs force-stopped so far.
func (p *Pool) Abandoned() int64 {
	return p.abandoned.Load()
}

// VUs returns a copy of the live VU set in spawn order.
func (p *Pool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*VirtualUser, 0, len(p.vus))
	for _, v := range p.vus {
		if v.State() != StateStopped {
			out = append(out, v)
		}
	}
	return out
}

// StopAll retires every VU, waits up to grace for them to stop, then
// force-stops the remainder. It returns the number of VUs force-stopped by
// this call. The pool accepts no further targets afterwards.
func (p *Pool) StopAll(grace time.Duration) int {
	p.mu.Lock()
	p.closed = true
	vus := make([]*VirtualUser, len(p.vus))
	copy(vus, p.vus)
	for _, v := range vus {
		v.retire()
	}
	p.mu.Unlock()

	if grace > 0 {
		timer := p.clock.Timer(grace)
		defer timer.Stop()

	wait:
		for _, v := range vus {
			select {
			case <-v.Done():
			case <-timer.C:
				break wait
			}
		}
	}

	forced := 0
	for _, v := range vus {
		if v.forceStop() {
			forced++
			p.abandoned.Add(1)
		}
	}
	if forced > 0 {
		p.logger.WithFields(logrus.Fields{
			"abandoned": forced,
			"grace":     grace,
		}).Warn("graceful stop expired; abandoned in-flight iterations")
	}

	p.mu.Lock()
	p.reapLocked()
	p.mu.Unlock()
	return forced
}

// Wait blocks until every VU spawned so far is Stopped or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for _, v := range p.VUs() {
		select {
		case <-v.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting targets and cancels every VU context. It does not
// wait for workload calls to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}
