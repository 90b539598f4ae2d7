// Package executor drives one scenario end to end: it follows a stage plan,
// resizes a VU pool on every tick, and drains the pool when the plan ends.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/planner"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"
)

// Defaults applied when a duration is left at zero by the config layer.
const (
	DefaultTickInterval     = time.Second
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
)

var (
	// ErrInvalidState is returned for a forbidden lifecycle transition, such
	// as running or stopping an executor that already reached Stopped.
	ErrInvalidState = errors.New("invalid executor state")

	// ErrInvalidConfig is wrapped by every ValidationError.
	ErrInvalidConfig = errors.New("invalid executor config")
)

// Executor defines the interface for VU-based load strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Name returns the scenario name this executor drives.
	Name() string

	// Run drives the scenario and blocks until the executor is Stopped.
	// Cancelling ctx aborts the plan and drains the pool within GracefulStop.
	Run(ctx context.Context, workload vu.Workload, engine *metrics.Engine) error

	// Stop aborts a running executor and waits for it to reach Stopped or
	// for ctx to be done.
	Stop(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// Transitions returns every state change so far.
	Transitions() []Transition

	// Progress returns plan progress (0.0 to 1.0).
	Progress() float64

	// Stats returns live executor statistics.
	Stats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name.
	Name string `json:"name" yaml:"name"`

	// Type is the executor type.
	Type Type `json:"type" yaml:"type"`

	// Stages drive ramping-vus.
	Stages []planner.Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// VUs and Duration drive constant-vus.
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// GracefulRampDown bounds how long a VU retired by a decreasing target
	// may finish its iteration.
	GracefulRampDown time.Duration `json:"gracefulRampDown" yaml:"gracefulRampDown"`

	// GracefulStop bounds how long VUs may finish once the plan ends.
	GracefulStop time.Duration `json:"gracefulStop" yaml:"gracefulStop"`

	// Pacing is the wait after each iteration.
	Pacing time.Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// IterationTimeout bounds a single workload call. Zero disables it.
	IterationTimeout time.Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// TickInterval is how often the target is recomputed (default: 1s).
	TickInterval time.Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// HoldLast keeps the final stage's target after the plan ends, until the
	// run is stopped or its context cancelled.
	HoldLast bool `json:"holdLast,omitempty" yaml:"holdLast,omitempty"`

	// Progression selects step (default) or linear targets within a stage.
	Progression planner.Progression `json:"progression,omitempty" yaml:"progression,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, stage := range c.Stages {
			if stage.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
			}
			if stage.Duration < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
			}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"gracefulRampDown", c.GracefulRampDown},
		{"gracefulStop", c.GracefulStop},
		{"pacing", c.Pacing},
		{"iterationTimeout", c.IterationTimeout},
		{"tickInterval", c.TickInterval},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &ValidationError{Field: d.field, Message: "must be >= 0"}
		}
	}

	return nil
}

// PlanStages returns the stage list the executor follows. constant-vus
// compiles to a single stage.
func (c *Config) PlanStages() []planner.Stage {
	if c.Type == TypeConstantVUs {
		return []planner.Stage{{Target: c.VUs, Duration: c.Duration}}
	}
	out := make([]planner.Stage, len(c.Stages))
	copy(out, c.Stages)
	return out
}

// Plan builds the validated stage plan for this configuration.
func (c *Config) Plan() (*planner.Plan, error) {
	opts := []planner.Option{planner.WithProgression(c.Progression)}
	if c.HoldLast {
		opts = append(opts, planner.WithHoldLast())
	}
	return planner.New(c.PlanStages(), opts...)
}

// TotalDuration calculates the planned duration, excluding GracefulStop.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.PlanStages() {
		total += stage.Duration
	}
	return total
}

// MaxVUs is the largest planned VU count.
func (c *Config) MaxVUs() int {
	peak := 0
	for _, stage := range c.PlanStages() {
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	return peak
}

// Stats contains real-time executor statistics.
type Stats struct {
	State State `json:"state"`

	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs   int   `json:"activeVUs"`
	DrainingVUs int   `json:"drainingVUs"`
	TargetVUs   int   `json:"targetVUs"`
	PeakVUs     int   `json:"peakVUs"`
	Abandoned   int64 `json:"abandoned"`

	// Iteration stats
	Iterations int64 `json:"iterations"`

	// Stage info
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Aborted is set when the plan was cut short by Stop or cancellation.
	Aborted bool `json:"aborted"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
