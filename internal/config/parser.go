package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/vuramp/internal/executor"
	"github.com/wesleyorama2/vuramp/internal/planner"
	"github.com/wesleyorama2/vuramp/internal/workload"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultExecutor         = executor.TypeRampingVUs
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultTickInterval     = time.Second
	DefaultTimeout          = 30 * time.Second
	DefaultScheme           = "http"
	DefaultPort             = 8000
	DefaultMethod           = "GET"
)

//go:embed default.yaml
var defaultConfig []byte

// DefaultFileName is reported for the built-in configuration.
const DefaultFileName = "builtin:default.yaml"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// DefaultConfig returns the built-in scenarios Scenario_1 and Scenario_2.
func DefaultConfig() (*TestConfig, error) {
	return ParseConfig(defaultConfig, DefaultFileName)
}

// DefaultConfigSource returns the built-in configuration file.
func DefaultConfigSource() []byte {
	out := make([]byte, len(defaultConfig))
	copy(out, defaultConfig)
	return out
}

// LoadConfig reads and parses a configuration file.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses YAML, or JSON when filename ends in .json. The document
// is checked against the schema, decoded, defaulted and validated.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ValidationError{Message: "config is empty"}
	}

	isJSON := strings.EqualFold(filepath.Ext(filename), ".json")

	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error parsing JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error parsing YAML: %w", err)
		}
	}
	if err := ValidateStructure(doc); err != nil {
		return nil, err
	}

	var cfg TestConfig
	if isJSON {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *TestConfig) {
	applyTargetDefaults(&cfg.Target)

	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Executor == "" {
			sc.Executor = string(DefaultExecutor)
		}
		if sc.GracefulStop == nil {
			sc.GracefulStop = durationPtr(DefaultGracefulStop)
		}
		if sc.GracefulRampDown == nil {
			sc.GracefulRampDown = durationPtr(DefaultGracefulRampDown)
		}
		if sc.TickInterval == nil {
			sc.TickInterval = durationPtr(DefaultTickInterval)
		}
	}
}

func applyTargetDefaults(t *TargetConfig) {
	if t.Scheme == "" {
		t.Scheme = DefaultScheme
	}
	if t.Method == "" {
		t.Method = DefaultMethod
	}
	if t.Timeout == nil {
		t.Timeout = durationPtr(DefaultTimeout)
	}
}

// Names returns the scenario names in the file.
func (c *TestConfig) Names() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	return names
}

// Scenario returns the named scenario.
func (c *TestConfig) Scenario(name string) (*ScenarioConfig, bool) {
	sc, ok := c.Scenarios[name]
	return sc, ok && sc != nil
}

// ParseScenarioDuration returns the planned length of a scenario: the
// constant-vus duration or the sum of its stages.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != nil && *sc.Duration > 0 {
		return sc.Duration.Std(), nil
	}
	if len(sc.Stages) == 0 {
		return 0, errors.New("scenario has neither duration nor stages")
	}
	var total time.Duration
	for _, stage := range sc.Stages {
		total += stage.Duration.Std()
	}
	return total, nil
}

// ConvertToExecutorConfig converts a scenario into an executor.Config.
func ConvertToExecutorConfig(name string, sc *ScenarioConfig) (executor.Config, error) {
	progression, err := planner.ParseProgression(sc.Progression)
	if err != nil {
		return executor.Config{}, err
	}

	cfg := executor.Config{
		Name:             name,
		Type:             executor.Type(sc.Executor),
		VUs:              sc.VUs,
		Duration:         sc.Duration.GetDuration(0),
		GracefulStop:     sc.GracefulStop.GetDuration(DefaultGracefulStop),
		GracefulRampDown: sc.GracefulRampDown.GetDuration(DefaultGracefulRampDown),
		Pacing:           sc.Pacing.GetDuration(0),
		IterationTimeout: sc.IterationTimeout.GetDuration(0),
		TickInterval:     sc.TickInterval.GetDuration(DefaultTickInterval),
		HoldLast:         sc.HoldLast,
		Progression:      progression,
	}
	if cfg.Type == "" {
		cfg.Type = DefaultExecutor
	}
	for _, stage := range sc.Stages {
		cfg.Stages = append(cfg.Stages, planner.Stage{
			Target:   stage.Target,
			Duration: stage.Duration.Std(),
			Name:     stage.Name,
		})
	}

	if err := cfg.Validate(); err != nil {
		return executor.Config{}, fmt.Errorf("scenario %q: %w", name, err)
	}
	return cfg, nil
}

// ResolveTarget merges the scenario's target over the global one and
// substitutes variables. vars take precedence over the file's variables.
// Any placeholder left unresolved is an error naming the environment
// variables that would supply it.
func (c *TestConfig) ResolveTarget(name string, vars map[string]string) (TargetConfig, error) {
	sc, ok := c.Scenario(name)
	if !ok {
		return TargetConfig{}, fmt.Errorf("scenario %q is not configured", name)
	}

	t := mergeTarget(c.Target, sc.Target)
	all := MergeVariables(c.Variables, vars)

	t.URL = ResolveVariables(t.URL, all)
	t.Host = ResolveVariables(t.Host, all)
	t.Endpoint = ResolveVariables(t.Endpoint, all)
	t.Param = ResolveVariables(t.Param, all)
	t.Body = ResolveVariables(t.Body, all)
	if len(t.Headers) > 0 {
		headers := make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			headers[k] = ResolveVariables(v, all)
		}
		t.Headers = headers
	}

	fields := []struct{ field, value string }{
		{"url", t.URL}, {"host", t.Host}, {"endpoint", t.Endpoint}, {"param", t.Param}, {"body", t.Body},
	}
	for _, f := range fields {
		if m := placeholderPattern.FindStringSubmatch(f.value); m != nil {
			return TargetConfig{}, &ValidationError{
				Field:   fmt.Sprintf("scenarios.%s.target.%s", name, f.field),
				Message: unresolvedMessage(m[1]),
			}
		}
	}
	return t, nil
}

func unresolvedMessage(variable string) string {
	msg := fmt.Sprintf("variable {{%s}} is not set", variable)
	if names, ok := envAliases[variable]; ok {
		msg += fmt.Sprintf(" (set %s)", strings.Join(names, " or "))
	}
	return msg
}

// mergeTarget overlays the non-zero fields of override onto base.
func mergeTarget(base TargetConfig, override *TargetConfig) TargetConfig {
	out := base
	if len(base.Headers) > 0 {
		out.Headers = MergeVariables(base.Headers, nil)
	}
	if override == nil {
		return out
	}

	if override.Host != "" || override.Port != 0 || override.Endpoint != "" || override.Param != "" {
		out.URL = ""
	}
	if override.URL != "" {
		out.URL = override.URL
	}
	if override.Scheme != "" {
		out.Scheme = override.Scheme
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.Port != 0 {
		out.Port = override.Port
	}
	if override.Endpoint != "" {
		out.Endpoint = override.Endpoint
	}
	if override.Param != "" {
		out.Param = override.Param
	}
	if override.Method != "" {
		out.Method = override.Method
	}
	if override.Body != "" {
		out.Body = override.Body
	}
	if override.Timeout != nil {
		out.Timeout = override.Timeout
	}
	if override.Expect != nil {
		out.Expect = override.Expect
	}
	if override.MaxConnsPerHost != 0 {
		out.MaxConnsPerHost = override.MaxConnsPerHost
	}
	if override.InsecureSkipVerify {
		out.InsecureSkipVerify = true
	}
	if len(override.Headers) > 0 {
		out.Headers = MergeVariables(out.Headers, override.Headers)
	}
	return out
}

// BuildURL returns URL when set, otherwise
// scheme://host:port/endpoint?param with port defaulting to 8000.
func (t TargetConfig) BuildURL() (string, error) {
	if t.URL != "" {
		return t.URL, nil
	}
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", &ValidationError{Field: "target.host", Message: unresolvedMessage(KeyHost)}
	}

	scheme := t.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + strings.TrimPrefix(t.Endpoint, "/"),
		RawQuery: strings.TrimPrefix(t.Param, "?"),
	}
	return u.String(), nil
}

// ConvertToWorkloadConfig resolves the scenario's target into an HTTP
// workload configuration.
func (c *TestConfig) ConvertToWorkloadConfig(name string, vars map[string]string) (workload.HTTPConfig, error) {
	t, err := c.ResolveTarget(name, vars)
	if err != nil {
		return workload.HTTPConfig{}, err
	}
	target, err := t.BuildURL()
	if err != nil {
		return workload.HTTPConfig{}, err
	}

	cfg := workload.HTTPConfig{
		URL:     target,
		Method:  t.Method,
		Headers: t.Headers,
		Body:    t.Body,
		Client: workload.ClientConfig{
			Timeout:            t.Timeout.GetDuration(DefaultTimeout),
			MaxConnsPerHost:    t.MaxConnsPerHost,
			InsecureSkipVerify: t.InsecureSkipVerify,
		},
	}
	if t.Expect != nil {
		cfg.Expect = *t.Expect
	}
	return cfg, nil
}

// ResolveVariables replaces {{name}} placeholders with values from vars.
// Unknown placeholders are left in place.
func ResolveVariables(input string, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// MergeVariables merges maps left to right; later maps win.
func MergeVariables(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
