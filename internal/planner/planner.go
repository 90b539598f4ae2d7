// Package planner turns an ordered list of ramp stages into a concurrency
// target as a function of elapsed scenario time.
package planner

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned for negative stage values or a negative
// elapsed time.
var ErrInvalidArgument = errors.New("invalid argument")

// Stage is a single step of a ramp profile.
type Stage struct {
	// Target is the desired number of concurrent VUs during the stage.
	Target int `json:"target" yaml:"target"`

	// Duration is how long the stage lasts. Zero-duration stages are
	// instantaneous transitions.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Name is an optional label used in progress output.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Progression controls how the target moves within a stage.
type Progression int

const (
	// ProgressionStep holds each stage's target for the whole stage window.
	ProgressionStep Progression = iota

	// ProgressionLinear interpolates from the previous stage's target to the
	// current one across the stage window.
	ProgressionLinear
)

func (p Progression) String() string {
	switch p {
	case ProgressionStep:
		return "step"
	case ProgressionLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Progression) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Progression) UnmarshalText(text []byte) error {
	parsed, err := ParseProgression(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseProgression maps a configuration string to a Progression.
// An empty string selects ProgressionStep.
func ParseProgression(s string) (Progression, error) {
	switch s {
	case "", "step":
		return ProgressionStep, nil
	case "linear":
		return ProgressionLinear, nil
	default:
		return ProgressionStep, fmt.Errorf("%w: unknown progression %q", ErrInvalidArgument, s)
	}
}

// Option configures a Plan.
type Option func(*Plan)

// WithHoldLast keeps the last stage's target once all stages have elapsed
// instead of dropping to zero.
func WithHoldLast() Option {
	return func(p *Plan) { p.holdLast = true }
}

// WithProgression selects how targets move within a stage.
func WithProgression(progression Progression) Option {
	return func(p *Plan) { p.progression = progression }
}

// WithLinearProgression is shorthand for WithProgression(ProgressionLinear).
func WithLinearProgression() Option {
	return WithProgression(ProgressionLinear)
}

// Plan is an immutable, validated stage sequence. It is safe for concurrent
// use and every method is a pure function of its inputs.
type Plan struct {
	stages      []Stage
	offsets     []time.Duration // start offset of each stage
	total       time.Duration
	maxTarget   int
	holdLast    bool
	progression Progression
}

// New validates stages and builds a Plan.
func New(stages []Stage, opts ...Option) (*Plan, error) {
	p := &Plan{
		stages:  make([]Stage, len(stages)),
		offsets: make([]time.Duration, len(stages)),
	}
	copy(p.stages, stages)

	for i, stage := range p.stages {
		if stage.Target < 0 {
			return nil, fmt.Errorf("%w: stage %d target %d is negative", ErrInvalidArgument, i, stage.Target)
		}
		if stage.Duration < 0 {
			return nil, fmt.Errorf("%w: stage %d duration %s is negative", ErrInvalidArgument, i, stage.Duration)
		}
		p.offsets[i] = p.total
		p.total += stage.Duration
		if stage.Target > p.maxTarget {
			p.maxTarget = stage.Target
		}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Target returns the planned concurrency at elapsed time t.
//
// Stage i covers [start_i, start_i+duration_i), so the curve is right
// continuous at stage boundaries and zero-duration stages never match.
func (p *Plan) Target(t time.Duration) (int, error) {
	if t < 0 {
		return 0, fmt.Errorf("%w: elapsed time %s is negative", ErrInvalidArgument, t)
	}

	idx := p.indexAt(t)
	if idx < 0 {
		return p.afterEnd(), nil
	}

	stage := p.stages[idx]
	if p.progression == ProgressionStep {
		return stage.Target, nil
	}

	from := p.previousTarget(idx)
	progress := float64(t-p.offsets[idx]) / float64(stage.Duration)
	value := float64(from) + float64(stage.Target-from)*progress
	return int(value + 0.5), nil
}

// StageAt returns the index and name of the stage active at t, or -1 once
// the plan has finished or when t is negative.
func (p *Plan) StageAt(t time.Duration) (int, string) {
	if t < 0 {
		return -1, ""
	}
	idx := p.indexAt(t)
	if idx < 0 {
		return -1, ""
	}
	return idx, p.stages[idx].Name
}

// Duration is the sum of all stage durations.
func (p *Plan) Duration() time.Duration {
	return p.total
}

// MaxTarget is the largest target of any stage.
func (p *Plan) MaxTarget() int {
	return p.maxTarget
}

// Len returns the number of stages, including zero-duration ones.
func (p *Plan) Len() int {
	return len(p.stages)
}

// Stages returns a copy of the stage list.
func (p *Plan) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// NextBoundary returns the first stage boundary strictly after t. The end
// of the plan counts as a boundary. It returns false once t is at or past
// the end.
func (p *Plan) NextBoundary(t time.Duration) (time.Duration, bool) {
	for i, stage := range p.stages {
		if end := p.offsets[i] + stage.Duration; end > t {
			return end, true
		}
	}
	return 0, false
}

// Direction compares the stage at idx with the target held before it:
// 1 for an increase, -1 for a decrease, 0 otherwise.
func (p *Plan) Direction(idx int) int {
	if idx < 0 || idx >= len(p.stages) {
		return 0
	}
	switch prev := p.previousTarget(idx); {
	case p.stages[idx].Target > prev:
		return 1
	case p.stages[idx].Target < prev:
		return -1
	default:
		return 0
	}
}

// IsRamping reports whether the stage at index idx changes the target
// relative to the stage before it.
func (p *Plan) IsRamping(idx int) bool {
	if idx < 0 || idx >= len(p.stages) {
		return false
	}
	return p.stages[idx].Target != p.previousTarget(idx)
}

func (p *Plan) indexAt(t time.Duration) int {
	for i, stage := range p.stages {
		if stage.Duration == 0 {
			continue
		}
		if t >= p.offsets[i] && t < p.offsets[i]+stage.Duration {
			return i
		}
	}
	return -1
}

// previousTarget is the target the curve holds just before stage idx starts.
func (p *Plan) previousTarget(idx int) int {
	if idx == 0 {
		return 0
	}
	return p.stages[idx-1].Target
}

func (p *Plan) afterEnd() int {
	if p.holdLast && len(p.stages) > 0 {
		return p.stages[len(p.stages)-1].Target
	}
	return 0
}
