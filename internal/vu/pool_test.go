package vu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/clock"
	"github.com/wesleyorama2/vuramp/internal/metrics"
)

type collector struct {
	mu      sync.Mutex
	results []metrics.IterationResult
}

func (c *collector) Record(r metrics.IterationResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) all() []metrics.IterationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]metrics.IterationResult, len(c.results))
	copy(out, c.results)
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func newTestPool(t *testing.T, cfg PoolConfig) (*Pool, *collector) {
	t.Helper()
	rec := &collector{}
	if cfg.Recorder == nil {
		cfg.Recorder = rec
	}
	pool, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.StopAll(0)
		pool.Close()
	})
	return pool, rec
}

func noop(context.Context) error { return nil }

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateDraining, "draining"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestNewPool_Validation(t *testing.T) {
	rec := &collector{}

	_, err := NewPool(PoolConfig{Recorder: rec})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewPool(PoolConfig{Workload: WorkloadFunc(noop)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewPool(PoolConfig{Workload: WorkloadFunc(noop), Recorder: rec, Pacing: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPool_SetTargetNegative(t *testing.T) {
	pool, _ := newTestPool(t, PoolConfig{Workload: WorkloadFunc(noop), Pacing: 10 * time.Millisecond})
	assert.ErrorIs(t, pool.SetTarget(-1), ErrInvalidArgument)
	assert.Equal(t, 0, pool.Active())
}

func TestPool_Grow(t *testing.T) {
	pool, rec := newTestPool(t, PoolConfig{Workload: WorkloadFunc(noop), Pacing: 10 * time.Millisecond})

	require.NoError(t, pool.SetTarget(5))
	assert.Equal(t, 5, pool.Active())
	assert.Equal(t, 5, pool.Assigned())
	assert.Equal(t, 5, pool.Peak())

	assert.Eventually(t, func() bool { return rec.len() >= 10 }, waitFor, tick)

	ids := map[int]bool{}
	for _, r := range rec.all() {
		ids[r.VUID] = true
		assert.True(t, r.Success())
		assert.False(t, r.EndTime.Before(r.StartTime))
	}
	assert.Len(t, ids, 5)
	assert.GreaterOrEqual(t, pool.Iterations(), int64(10))
}

func TestPool_ShrinkRetiresNewest(t *testing.T) {
	pool, _ := newTestPool(t, PoolConfig{Workload: WorkloadFunc(noop), Pacing: 20 * time.Millisecond})

	require.NoError(t, pool.SetTarget(4))
	require.NoError(t, pool.SetTarget(2))

	assert.Equal(t, 2, pool.Assigned())
	assert.Eventually(t, func() bool { return pool.Active() == 2 }, waitFor, tick)

	var ids []int
	for _, v := range pool.VUs() {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []int{1, 2}, ids)
	assert.Equal(t, 4, pool.Peak())
}

func TestPool_SetTargetIsIdempotent(t *testing.T) {
	pool, _ := newTestPool(t, PoolConfig{Workload: WorkloadFunc(noop), Pacing: 10 * time.Millisecond})

	require.NoError(t, pool.SetTarget(3))
	require.NoError(t, pool.SetTarget(3))
	require.NoError(t, pool.SetTarget(3))

	assert.Equal(t, 3, pool.Active())
	assert.Equal(t, 3, pool.Peak())
}

func TestPool_DrainingFinishesInFlightIteration(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	workload := WorkloadFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	pool, rec := newTestPool(t, PoolConfig{Workload: workload, GracefulRampDown: 5 * time.Second})
	require.NoError(t, pool.SetTarget(1))
	<-started

	vus := pool.VUs()
	require.Len(t, vus, 1)
	v := vus[0]

	require.NoError(t, pool.SetTarget(0))
	assert.Equal(t, StateDraining, v.State())
	assert.Equal(t, 1, pool.Active())
	assert.Equal(t, 0, pool.Assigned())

	close(release)

	select {
	case <-v.Done():
	case <-time.After(waitFor):
		t.Fatal("draining VU did not stop")
	}
	assert.Equal(t, StateStopped, v.State())
	assert.False(t, v.Abandoned())
	assert.Equal(t, int64(0), pool.Abandoned())

	results := rec.all()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success())
}

func TestPool_ForceStopAfterGracefulRampDown(t *testing.T) {
	started := make(chan struct{}, 1)
	workload := WorkloadFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	pool, rec := newTestPool(t, PoolConfig{Workload: workload, GracefulRampDown: 20 * time.Millisecond})
	require.NoError(t, pool.SetTarget(1))
	<-started

	require.NoError(t, pool.SetTarget(0))

	assert.Eventually(t, func() bool { return pool.Active() == 0 }, waitFor, tick)
	assert.Equal(t, int64(1), pool.Abandoned())

	assert.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)
	result := rec.all()[0]
	assert.False(t, result.Success())
	assert.Equal(t, ReasonInterrupted, result.Reason)
}

func TestPool_ZeroGraceForceStopsImmediately(t *testing.T) {
	started := make(chan struct{}, 1)
	workload := WorkloadFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	pool, _ := newTestPool(t, PoolConfig{Workload: workload})
	require.NoError(t, pool.SetTarget(1))
	<-started

	v := pool.VUs()[0]
	require.NoError(t, pool.SetTarget(0))

	assert.Equal(t, StateStopped, v.State())
	assert.True(t, v.Abandoned())
}

func TestPool_GraceTimerReleasedWhenDrainingVUFinishes(t *testing.T) {
	mock := clock.NewMock()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	workload := WorkloadFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	pool, _ := newTestPool(t, PoolConfig{Workload: workload, GracefulRampDown: time.Minute, Clock: mock})
	require.NoError(t, pool.SetTarget(1))
	<-started

	v := pool.VUs()[0]
	require.NoError(t, pool.SetTarget(0))
	require.Equal(t, StateDraining, v.State())

	v.graceMu.Lock()
	timer := v.graceTimer
	v.graceMu.Unlock()
	require.NotNil(t, timer)

	close(release)
	select {
	case <-v.Done():
	case <-time.After(waitFor):
		t.Fatal("draining VU did not stop")
	}

	assert.False(t, timer.Stop(), "grace timer still pending after the VU stopped")

	mock.Add(2 * time.Minute)
	assert.False(t, v.Abandoned())
	assert.Equal(t, int64(0), pool.Abandoned())
}

func TestVirtualUser_ArmGraceAfterDoneStopsTimer(t *testing.T) {
	mock := clock.NewMock()
	v := newVirtualUser(context.Background(), 1)
	defer v.cancel()
	v.markDone()

	var fired atomic.Bool
	timer := mock.AfterFunc(time.Second, func() { fired.Store(true) })
	v.armGrace(timer)

	assert.False(t, timer.Stop())
	mock.Add(time.Minute)
	assert.False(t, fired.Load())
}

func TestPool_HungWorkloadDoesNotBlockControl(t *testing.T) {
	var started atomic.Int32
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })

	// Ignores ctx entirely.
	workload := WorkloadFunc(func(context.Context) error {
		started.Add(1)
		<-unblock
		return nil
	})

	pool, _ := newTestPool(t, PoolConfig{Workload: workload, GracefulRampDown: time.Hour})
	require.NoError(t, pool.SetTarget(2))
	require.Eventually(t, func() bool { return started.Load() == 2 }, waitFor, tick)

	begin := time.Now()
	forced := pool.StopAll(30 * time.Millisecond)
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, 2, forced)
	assert.Equal(t, 0, pool.Active())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	assert.NoError(t, pool.Wait(ctx))
}

func TestPool_FailureOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		workload WorkloadFunc
		timeout  time.Duration
		reason   string
	}{
		{
			name:     "error",
			workload: func(context.Context) error { return errors.New("status 500") },
			reason:   "status 500",
		},
		{
			name:     "panic",
			workload: func(context.Context) error { panic("boom") },
			reason:   ReasonPanic,
		},
		{
			name: "timeout",
			workload: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			timeout: 10 * time.Millisecond,
			reason:  ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, rec := newTestPool(t, PoolConfig{
				Workload:         tt.workload,
				IterationTimeout: tt.timeout,
				Pacing:           5 * time.Millisecond,
			})
			require.NoError(t, pool.SetTarget(1))

			// The VU keeps iterating after a failure.
			assert.Eventually(t, func() bool { return rec.len() >= 2 }, waitFor, tick)
			for _, r := range rec.all() {
				assert.False(t, r.Success())
				assert.Equal(t, tt.reason, r.Reason)
			}
			assert.Equal(t, 1, pool.Active())
		})
	}
}

func TestPool_RetirementInterruptsPacing(t *testing.T) {
	pool, rec := newTestPool(t, PoolConfig{
		Workload:         WorkloadFunc(noop),
		Pacing:           time.Hour,
		GracefulRampDown: time.Second,
	})
	require.NoError(t, pool.SetTarget(1))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)

	v := pool.VUs()[0]
	require.NoError(t, pool.SetTarget(0))

	select {
	case <-v.Done():
	case <-time.After(waitFor):
		t.Fatal("pacing VU did not stop on retirement")
	}
	assert.False(t, v.Abandoned())
	assert.Equal(t, 1, rec.len())
}

func TestPool_StopAllGraceful(t *testing.T) {
	var inFlight atomic.Int32
	workload := WorkloadFunc(func(ctx context.Context) error {
		inFlight.Add(1)
		defer inFlight.Add(-1)
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	pool, rec := newTestPool(t, PoolConfig{Workload: workload})
	require.NoError(t, pool.SetTarget(3))
	assert.Eventually(t, func() bool { return rec.len() >= 3 }, waitFor, tick)

	forced := pool.StopAll(time.Second)
	assert.Equal(t, 0, forced)
	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, int32(0), inFlight.Load())

	for _, r := range rec.all() {
		assert.True(t, r.Success())
	}
	assert.ErrorIs(t, pool.SetTarget(1), ErrPoolClosed)
}

func TestPool_ConcurrencyNeverExceedsTarget(t *testing.T) {
	var running, maxRunning atomic.Int32
	workload := WorkloadFunc(func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	pool, _ := newTestPool(t, PoolConfig{Workload: workload, GracefulRampDown: time.Second})

	for _, target := range []int{3, 8, 8, 5, 10, 2, 0, 6} {
		require.NoError(t, pool.SetTarget(target))
		time.Sleep(10 * time.Millisecond)
	}

	assert.LessOrEqual(t, int(maxRunning.Load()), pool.Peak())
	assert.LessOrEqual(t, pool.Peak(), 10+8)
}
