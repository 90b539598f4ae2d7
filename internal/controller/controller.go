// Package controller runs a selection of scenarios concurrently and folds
// their results into a single RunSummary.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/vuramp/internal/clock"
	"github.com/wesleyorama2/vuramp/internal/executor"
	"github.com/wesleyorama2/vuramp/internal/logging"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/thresholds"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

var (
	// ErrNotFound is returned when a selected scenario is not configured.
	ErrNotFound = errors.New("scenario not found")

	// ErrInvalidConfig is wrapped by every structural configuration error.
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrAlreadyRunning is returned by Run while another run is active.
	ErrAlreadyRunning = errors.New("controller is already running")
)

// ScenarioSpec is one runnable scenario: how VUs evolve and what they do.
type ScenarioSpec struct {
	Executor   executor.Config
	Workload   vu.Workload
	Thresholds []string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source for executors and aggregators.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger for run and scenario events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithEngineConfig sets the aggregator configuration for every scenario.
func WithEngineConfig(cfg metrics.EngineConfig) Option {
	return func(ctl *Controller) { ctl.engineConfig = cfg }
}

// WithObserver attaches an observer, such as a Prometheus exporter, to
// every scenario's aggregator.
func WithObserver(factory func(scenario string) metrics.Observer) Option {
	return func(ctl *Controller) { ctl.observers = append(ctl.observers, factory) }
}

// WithTracer sets the tracer used for run and scenario spans.
func WithTracer(t trace.Tracer) Option {
	return func(ctl *Controller) { ctl.tracer = t }
}

// Controller owns the configured scenarios and runs selections of them.
//
// Example usage:
//
//	ctl, _ := controller.New(specs)
//	summary, _ := ctl.Run(ctx, controller.ParseSelection(os.Getenv("SCENARIO")))
type Controller struct {
	scenarios    map[string]ScenarioSpec
	clock        clock.Clock
	logger       logrus.FieldLogger
	engineConfig metrics.EngineConfig
	observers    []func(string) metrics.Observer
	tracer       trace.Tracer

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	executors map[string]executor.Executor
	engines   map[string]*metrics.Engine
}

// New validates the scenario set. Executor configs without a name take the
// map key.
func New(scenarios map[string]ScenarioSpec, opts ...Option) (*Controller, error) {
	c := &Controller{
		scenarios:    make(map[string]ScenarioSpec, len(scenarios)),
		engineConfig: metrics.DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrDefault(c.clock)
	c.logger = logging.OrDiscard(c.logger)
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/wesleyorama2/vuramp/internal/controller")
	}
	if c.engineConfig.Clock == nil {
		c.engineConfig.Clock = c.clock
	}

	var problems []string
	for name, spec := range scenarios {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "scenario name must not be empty")
			continue
		}
		if spec.Executor.Name == "" {
			spec.Executor.Name = name
		}
		if spec.Executor.Name != name {
			problems = append(problems, fmt.Sprintf("scenario %q: executor name %q does not match", name, spec.Executor.Name))
		}
		if spec.Workload == nil {
			problems = append(problems, fmt.Sprintf("scenario %q: workload is required", name))
		}
		if err := spec.Executor.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("scenario %q: %v", name, err))
		}
		if _, err := thresholds.ParseAll(spec.Thresholds); err != nil {
			problems = append(problems, fmt.Sprintf("scenario %q: %v", name, err))
		}
		c.scenarios[name] = spec
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return c, nil
}

// Names returns the configured scenario names, sorted.
func (c *Controller) Names() []string {
	names := make([]string, 0, len(c.scenarios))
	for name := range c.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a selection onto configured names. Any unknown name fails
// with ErrNotFound.
func (c *Controller) Resolve(sel Selection) ([]string, error) {
	found, missing := sel.resolve(c.scenarios)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s (configured: %s)", ErrNotFound,
			strings.Join(missing, ", "), strings.Join(c.Names(), ", "))
	}
	return found, nil
}

// Run executes the selected scenarios concurrently and blocks until every
// executor reaches Stopped.
//
// Unknown names fail with ErrNotFound before any VU starts. An empty
// selection returns an empty summary. Scenario failures are recorded in
// their ScenarioSummary and never cancel sibling scenarios.
func (c *Controller) Run(ctx context.Context, sel Selection) (*RunSummary, error) {
	names, err := c.Resolve(sel)
	if err != nil {
		return nil, err
	}

	executors := make(map[string]executor.Executor, len(names))
	for _, name := range names {
		exec, err := executor.New(c.scenarios[name].Executor,
			executor.WithClock(c.clock),
			executor.WithLogger(c.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scenario %q: %v", ErrInvalidConfig, name, err)
		}
		executors[name] = exec
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.executors = executors
	c.engines = make(map[string]*metrics.Engine, len(names))
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		close(done)
		c.mu.Unlock()
	}()

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Selection: sel.String(),
		StartTime: c.clock.Now(),
		Scenarios: make(map[string]*ScenarioSummary, len(names)),
	}
	logger := c.logger.WithField("run", summary.RunID)

	if len(names) == 0 {
		logger.Info("no scenario selected; nothing to run")
		summary.EndTime = c.clock.Now()
		return summary, nil
	}

	runCtx, span := c.tracer.Start(runCtx, "run", trace.WithAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.StringSlice("run.scenarios", names),
	))
	defer span.End()

	logger.WithField("scenarios", strings.Join(names, ",")).Info("run started")

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, name := range names {
		g.Go(func() error {
			result := c.runScenario(runCtx, name, executors[name], logger)
			mu.Lock()
			summary.Scenarios[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.EndTime = c.clock.Now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)
	summary.Passed = !summary.Failed()
	if !summary.Passed {
		span.SetStatus(codes.Error, "one or more scenarios failed")
	}

	logger.WithFields(logrus.Fields{
		"duration": summary.Duration,
		"passed":   summary.Passed,
	}).Info("run finished")
	return summary, nil
}

// runScenario drives one executor with its own aggregator. Errors and
// panics stay inside the returned summary.
func (c *Controller) runScenario(ctx context.Context, name string, exec executor.Executor, logger logrus.FieldLogger) (result *ScenarioSummary) {
	spec := c.scenarios[name]

	ctx, span := c.tracer.Start(ctx, "scenario", trace.WithAttributes(
		attribute.String("scenario.name", name),
		attribute.String("scenario.executor", string(exec.Type())),
	))
	defer span.End()

	engine := metrics.NewEngineWithConfig(c.engineConfig)
	for _, factory := range c.observers {
		engine.AddObserver(factory(name))
	}
	c.mu.Lock()
	c.engines[name] = engine
	c.mu.Unlock()

	start := c.clock.Now()
	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scenario %q panicked: %v", name, r)
			}
		}()
		return exec.Run(ctx, spec.Workload, engine)
	}()

	snapshot := engine.Finalize()
	stats := exec.Stats()

	result = &ScenarioSummary{
		Name:        name,
		Executor:    string(exec.Type()),
		State:       exec.State(),
		StartTime:   start,
		Duration:    c.clock.Since(start),
		Metrics:     snapshot,
		TimeSeries:  engine.TimeSeries(),
		Phases:      engine.PhaseHistory(),
		Transitions: exec.Transitions(),
		PeakVUs:     stats.PeakVUs,
		Iterations:  stats.Iterations,
		Abandoned:   stats.Abandoned,
		Aborted:     stats.Aborted,
	}

	// ParseAll was checked in New.
	ts, _ := thresholds.ParseAll(spec.Thresholds)
	result.Thresholds = thresholds.EvaluateAll(ts, snapshot)

	if runErr != nil {
		result.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.WithField("scenario", name).WithError(runErr).Error("scenario failed")
	}
	span.SetAttributes(
		attribute.Int64("scenario.iterations", snapshot.Total),
		attribute.Int64("scenario.failures", snapshot.Failure),
		attribute.Int("scenario.peak_vus", stats.PeakVUs),
	)
	return result
}

// Stop aborts every running scenario and waits for the run to finish or
// for ctx to be done. It is a no-op when nothing is running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.mu.RUnlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if a run is in progress.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Stats returns live stats for the scenarios of the current or last run.
func (c *Controller) Stats() map[string]*executor.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]*executor.Stats, len(c.executors))
	for name, exec := range c.executors {
		stats[name] = exec.Stats()
	}
	return stats
}

// Snapshots returns live aggregates for the scenarios of the current or
// last run. Finalized scenarios return their final snapshot.
func (c *Controller) Snapshots() map[string]metrics.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]metrics.Snapshot, len(c.engines))
	for name, engine := range c.engines {
		out[name] = engine.Snapshot()
	}
	return out
}

// Progress returns the mean progress of the current run (0.0 to 1.0).
func (c *Controller) Progress() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.executors) == 0 {
		return 0.0
	}
	var total float64
	for _, exec := range c.executors {
		total += exec.Progress()
	}
	return total / float64(len(c.executors))
}

// ScenarioSummary is the finalized result of one scenario.
type ScenarioSummary struct {
	Name        string                `json:"name"`
	Executor    string                `json:"executor"`
	State       executor.State        `json:"state"`
	StartTime   time.Time             `json:"startTime"`
	Duration    time.Duration         `json:"duration"`
	Metrics     metrics.Snapshot      `json:"metrics"`
	TimeSeries  []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases      []metrics.PhaseChange `json:"phases,omitempty"`
	Transitions []executor.Transition `json:"transitions,omitempty"`
	PeakVUs     int                   `json:"peakVUs"`
	Iterations  int64                 `json:"iterations"`
	Abandoned   int64                 `json:"abandoned,omitempty"`
	Aborted     bool                  `json:"aborted,omitempty"`
	Thresholds  []thresholds.Result   `json:"thresholds,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Failed reports whether the scenario errored or breached a threshold.
func (s *ScenarioSummary) Failed() bool {
	return s.Error != "" || !thresholds.AllPassed(s.Thresholds)
}

// RunSummary is the read-only result of a run.
type RunSummary struct {
	RunID     string                      `json:"runId"`
	Selection string                      `json:"selection"`
	StartTime time.Time                   `json:"startTime"`
	EndTime   time.Time                   `json:"endTime"`
	Duration  time.Duration               `json:"duration"`
	Scenarios map[string]*ScenarioSummary `json:"scenarios"`
	Passed    bool                        `json:"passed"`
}

// Names returns the scenario names in the summary, sorted.
func (s *RunSummary) Names() []string {
	names := make([]string, 0, len(s.Scenarios))
	for name := range s.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed reports whether any scenario errored or breached a threshold.
func (s *RunSummary) Failed() bool {
	for _, sc := range s.Scenarios {
		if sc.Failed() {
			return true
		}
	}
	return false
}

// Errored reports whether any scenario ended with an error.
func (s *RunSummary) Errored() bool {
	for _, sc := range s.Scenarios {
		if sc.Error != "" {
			return true
		}
	}
	return false
}
