// Package config loads scenario files, validates them, and converts them
// into executor and workload configurations.
package config

import (
	"github.com/wesleyorama2/vuramp/internal/tracing"
	"github.com/wesleyorama2/vuramp/internal/workload"
)

// TestConfig is the root of a scenario file.
//
// Example YAML:
//
//	name: community-day
//	target:
//	  host: "{{host}}"
//	  port: 8000
//	  endpoint: cpu_intensive
//	  param: iterations=100
//	scenarios:
//	  Scenario_1:
//	    executor: ramping-vus
//	    stages:
//	      - { target: 20, duration: 4m }
//	      - { target: 20, duration: 6m }
//	      - { target: 0, duration: 2m }
//	    gracefulRampDown: 30s
//	    gracefulStop: 30s
//	    pacing: 1s
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Target is the request every scenario issues unless it overrides it.
	Target TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`

	// Variables are substituted into {{name}} placeholders of the target.
	// Environment-derived values take precedence.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles; each runs with its own executor.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Tracing configures OpenTelemetry export.
	Tracing tracing.Config `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// TargetConfig describes the HTTP request issued once per iteration. URL,
// when set, wins over the host/port/endpoint/param parts.
type TargetConfig struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Scheme   string `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Param    string `json:"param,omitempty" yaml:"param,omitempty"`

	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout bounds a single request (default: 30s).
	Timeout *Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Expect adds checks beyond "status is 2xx".
	Expect *workload.Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`

	// MaxConnsPerHost limits connections per host (0: unlimited).
	MaxConnsPerHost int `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor is "ramping-vus" (default) or "constant-vus".
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// VUs and Duration drive constant-vus.
	VUs      int       `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration *Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages drive ramping-vus.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long in-flight iterations may finish once the
	// plan ends (default: 30s).
	GracefulStop *Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown is how long a retired VU may finish its iteration
	// (default: 30s).
	GracefulRampDown *Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Pacing is the wait after each iteration.
	Pacing *Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// IterationTimeout bounds one iteration (0: none).
	IterationTimeout *Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// TickInterval is how often the VU target is recomputed (default: 1s).
	TickInterval *Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// Progression is "step" (default) or "linear".
	Progression string `json:"progression,omitempty" yaml:"progression,omitempty"`

	// HoldLast keeps the last stage's target running after the plan ends
	// until the run is stopped.
	HoldLast bool `json:"holdLast,omitempty" yaml:"holdLast,omitempty"`

	// Thresholds are pass/fail expressions, e.g. "p95 < 500ms".
	Thresholds []string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Target overrides fields of the global target for this scenario.
	Target *TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g. "30s", "2m", or 30 for seconds)
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count for the stage. Under step progression it is held for
	// the whole stage; under linear progression it is reached at the stage end.
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}
