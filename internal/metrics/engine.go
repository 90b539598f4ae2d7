// Package metrics aggregates iteration results into scenario statistics.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/vuramp/internal/clock"
)

// Phase is a coarse label for what the scenario is doing.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// otherReason collects failure reasons once MaxFailureReasons distinct
// reasons have been seen.
const otherReason = "other"

// Engine aggregates IterationResults for a single scenario.
//
// # Thread Safety
//
// Record may be called from any number of VUs. Each call holds one mutex
// for a histogram insert and a handful of counter updates; nothing in the
// critical section blocks. Counters are atomics so live reads never take
// the lock.
type Engine struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram

	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	reasons    map[string]int64

	total   atomic.Int64
	success atomic.Int64
	failure atomic.Int64
	late    atomic.Int64

	activeVUs atomic.Int32
	peakVUs   atomic.Int32

	phaseMu      sync.RWMutex
	phase        Phase
	phaseHistory []PhaseChange

	buckets *TimeBucketStore

	observersMu sync.RWMutex
	observers   []Observer

	clock     clock.Clock
	startTime time.Time

	finalizeOnce sync.Once
	finalized    atomic.Bool
	final        Snapshot

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the live time-series resolution (default: 1s).
	// A negative value disables the background emitter.
	BucketInterval time.Duration

	// MaxBuckets bounds the time-series ring buffer (default: 3600).
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1).
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour).
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3).
	HistogramSigFigs int

	// MaxFailureReasons bounds the number of distinct failure reasons kept.
	MaxFailureReasons int

	// Clock is the time source; the wall clock when nil.
	Clock clock.Clock
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:    time.Second,
		MaxBuckets:        3600,
		HistogramMin:      1,
		HistogramMax:      3600000000,
		HistogramSigFigs:  3,
		MaxFailureReasons: 100,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	Iterations int64     `json:"iterations"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its time-series emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval == 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = defaults.MaxBuckets
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}
	if config.MaxFailureReasons <= 0 {
		config.MaxFailureReasons = defaults.MaxFailureReasons
	}
	config.Clock = clock.OrDefault(config.Clock)

	e := &Engine{
		hist:    hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		reasons: make(map[string]int64),
		phase:   PhaseInit,
		buckets: NewTimeBucketStore(config.MaxBuckets),
		clock:   config.Clock,
		config:  config,
	}
	e.startTime = e.clock.Now()
	e.buckets.Start(e.startTime)

	ctx, cancel := context.WithCancel(context.Background())
	e.emitterCancel = cancel
	if config.BucketInterval > 0 {
		e.emitterWg.Add(1)
		go e.runEmitter(ctx)
	}

	return e
}

// AddObserver registers an observer for every subsequent result.
func (e *Engine) AddObserver(o Observer) {
	if o == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, o)
	e.observersMu.Unlock()
}

// Record folds one result into the aggregate. Results arriving after
// Finalize are counted as late and otherwise ignored.
func (e *Engine) Record(r IterationResult) {
	if e.finalized.Load() {
		e.late.Add(1)
		return
	}

	latency := r.Duration()
	micros := latency.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}

	e.mu.Lock()
	if e.finalized.Load() {
		e.mu.Unlock()
		e.late.Add(1)
		return
	}
	_ = e.hist.RecordValue(micros)
	if e.total.Load() == 0 || latency < e.minLatency {
		e.minLatency = latency
	}
	if latency > e.maxLatency {
		e.maxLatency = latency
	}
	e.sumLatency += latency
	if r.Success() {
		e.success.Add(1)
	} else {
		e.failure.Add(1)
		e.addReason(r.Reason)
	}
	e.total.Add(1)
	e.mu.Unlock()

	e.observersMu.RLock()
	for _, o := range e.observers {
		o.ObserveIteration(r)
	}
	e.observersMu.RUnlock()
}

// addReason must be called with e.mu held.
func (e *Engine) addReason(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if _, ok := e.reasons[reason]; !ok && len(e.reasons) >= e.config.MaxFailureReasons {
		reason = otherReason
	}
	e.reasons[reason]++
}

// SetPhase records a phase transition. Repeated phases are ignored.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:      phase,
		Timestamp:  e.clock.Now(),
		Iterations: e.total.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of all phase transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// SetActiveVUs updates the live VU gauge and the peak.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
	for {
		peak := e.peakVUs.Load()
		if int32(count) <= peak || e.peakVUs.CompareAndSwap(peak, int32(count)) {
			break
		}
	}

	e.observersMu.RLock()
	for _, o := range e.observers {
		o.ObserveActiveVUs(count)
	}
	e.observersMu.RUnlock()
}

// ActiveVUs returns the last reported VU count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Total returns the number of recorded iterations.
func (e *Engine) Total() int64 {
	return e.total.Load()
}

// TimeSeries returns the live buckets, oldest first.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := e.clock.Ticker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.buckets.Emit(e.clock.Now(), e.total.Load(), e.failure.Load(), e.ActiveVUs(), e.Phase())
}

// Snapshot returns the live aggregate. Once the engine is finalized it
// returns the frozen snapshot.
func (e *Engine) Snapshot() Snapshot {
	if e.finalized.Load() {
		return e.final.clone()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clock.Now(), false)
}

// Finalize freezes the aggregate, stops the emitter, and returns the final
// snapshot. It is idempotent: every call returns an identical snapshot.
func (e *Engine) Finalize() Snapshot {
	e.finalizeOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()

		e.mu.Lock()
		now := e.clock.Now()
		e.final = e.snapshotLocked(now, true)
		e.finalized.Store(true)
		e.mu.Unlock()

		e.buckets.Emit(now, e.final.Total, e.final.Failure, e.ActiveVUs(), e.Phase())
	})
	return e.final.clone()
}

// Finalized reports whether Finalize has been called.
func (e *Engine) Finalized() bool {
	return e.finalized.Load()
}

// snapshotLocked must be called with e.mu held.
func (e *Engine) snapshotLocked(now time.Time, final bool) Snapshot {
	total := e.total.Load()
	failed := e.failure.Load()

	latency := LatencyStats{Count: e.hist.TotalCount()}
	if total > 0 {
		latency.Min = e.minLatency
		latency.Max = e.maxLatency
		latency.Mean = time.Duration(int64(e.sumLatency) / total)
		latency.StdDev = time.Duration(e.hist.StdDev()) * time.Microsecond
		latency.P50 = time.Duration(e.hist.ValueAtQuantile(50)) * time.Microsecond
		latency.P90 = time.Duration(e.hist.ValueAtQuantile(90)) * time.Microsecond
		latency.P95 = time.Duration(e.hist.ValueAtQuantile(95)) * time.Microsecond
		latency.P99 = time.Duration(e.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	elapsed := now.Sub(e.startTime)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(total) / elapsed.Seconds()
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var reasons map[string]int64
	if len(e.reasons) > 0 {
		reasons = make(map[string]int64, len(e.reasons))
		for k, v := range e.reasons {
			reasons[k] = v
		}
	}

	return Snapshot{
		Total:      total,
		Success:    e.success.Load(),
		Failure:    failed,
		Late:       e.late.Load(),
		Latency:    latency,
		Throughput: throughput,
		ErrorRate:  errorRate,
		Failures:   reasons,
		ActiveVUs:  e.ActiveVUs(),
		PeakVUs:    int(e.peakVUs.Load()),
		Phase:      e.Phase(),
		Elapsed:    elapsed,
		StartTime:  e.startTime,
		Timestamp:  now,
		Final:      final,
	}
}

// Snapshot is a point-in-time view of a scenario's aggregate.
type Snapshot struct {
	Total      int64            `json:"total"`
	Success    int64            `json:"success"`
	Failure    int64            `json:"failure"`
	Late       int64            `json:"late,omitempty"`
	Latency    LatencyStats     `json:"latency"`
	Throughput float64          `json:"throughput"`
	ErrorRate  float64          `json:"errorRate"`
	Failures   map[string]int64 `json:"failures,omitempty"`
	ActiveVUs  int              `json:"activeVUs"`
	PeakVUs    int              `json:"peakVUs"`
	Phase      Phase            `json:"phase"`
	Elapsed    time.Duration    `json:"elapsed"`
	StartTime  time.Time        `json:"startTime"`
	Timestamp  time.Time        `json:"timestamp"`
	Final      bool             `json:"final"`
}

func (s Snapshot) clone() Snapshot {
	if s.Failures != nil {
		reasons := make(map[string]int64, len(s.Failures))
		for k, v := range s.Failures {
			reasons[k] = v
		}
		s.Failures = reasons
	}
	return s
}

// LatencyStats contains iteration latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
