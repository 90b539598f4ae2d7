package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/vuramp/internal/executor"
	"github.com/wesleyorama2/vuramp/internal/planner"
	"github.com/wesleyorama2/vuramp/internal/thresholds"
)

// ErrInvalidConfig is matched by every ValidationError and ValidationErrors.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the fields with errors, in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err.Field)
	}
	return out
}

// Validate checks the configuration after defaults were applied.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	validateTarget("target", &c.Target, errs)

	// Sorted for stable error output.
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validateScenario(name, c.Scenarios[name], errs)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs.Add("tracing.sampleRate", "must be between 0.0 and 1.0")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, ", ") {
		errs.Add(prefix, "scenario names must be non-empty and contain no commas or spaces")
	}
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	switch executor.Type(sc.Executor) {
	case executor.TypeRampingVUs:
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
		if sc.VUs != 0 || sc.Duration != nil {
			errs.Add(prefix, "vus and duration apply to constant-vus only; use stages")
		}
	case executor.TypeConstantVUs:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		if sc.Duration == nil || *sc.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant-vus executor")
		}
		if len(sc.Stages) > 0 {
			errs.Add(prefix+".stages", "stages apply to ramping-vus only")
		}
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	for i, stage := range sc.Stages {
		stagePrefix := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if stage.Target < 0 {
			errs.Add(stagePrefix+".target", "target cannot be negative")
		}
		if stage.Duration < 0 {
			errs.Add(stagePrefix+".duration", "duration cannot be negative")
		}
	}

	durations := []struct {
		field string
		value *Duration
	}{
		{"gracefulStop", sc.GracefulStop},
		{"gracefulRampDown", sc.GracefulRampDown},
		{"pacing", sc.Pacing},
		{"iterationTimeout", sc.IterationTimeout},
		{"tickInterval", sc.TickInterval},
	}
	for _, d := range durations {
		if d.value != nil && *d.value < 0 {
			errs.Add(prefix+"."+d.field, "cannot be negative")
		}
	}
	if sc.TickInterval != nil && *sc.TickInterval == 0 {
		errs.Add(prefix+".tickInterval", "must be greater than 0")
	}

	if _, err := planner.ParseProgression(sc.Progression); err != nil {
		errs.Add(prefix+".progression", err.Error())
	}

	for i, expr := range sc.Thresholds {
		if _, err := thresholds.Parse(expr); err != nil {
			errs.Add(fmt.Sprintf("%s.thresholds[%d]", prefix, i), err.Error())
		}
	}

	if sc.Target != nil {
		validateTarget(prefix+".target", sc.Target, errs)
	}
}

// validateTarget checks the static parts of a target. Placeholders are
// resolved and the final URL checked in ResolveTarget.
func validateTarget(prefix string, t *TargetConfig, errs *ValidationErrors) {
	if t.URL != "" && !strings.Contains(t.URL, "{{") {
		if _, err := url.Parse(t.URL); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}
	if t.Scheme != "" && t.Scheme != "http" && t.Scheme != "https" {
		errs.Add(prefix+".scheme", fmt.Sprintf("invalid scheme: %s", t.Scheme))
	}
	if t.Port < 0 || t.Port > 65535 {
		errs.Add(prefix+".port", "port must be between 0 and 65535")
	}
	if t.Method != "" {
		validMethods := map[string]bool{
			"GET": true, "POST": true, "PUT": true, "DELETE": true,
			"PATCH": true, "HEAD": true, "OPTIONS": true,
		}
		if !validMethods[strings.ToUpper(t.Method)] {
			errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", t.Method))
		}
	}
	if t.Timeout != nil && *t.Timeout < 0 {
		errs.Add(prefix+".timeout", "cannot be negative")
	}
	if t.MaxConnsPerHost < 0 {
		errs.Add(prefix+".maxConnsPerHost", "cannot be negative")
	}
	if t.Expect != nil && t.Expect.Equals != "" && t.Expect.JSONPath == "" {
		errs.Add(prefix+".expect.equals", "equals requires jsonPath")
	}
}
