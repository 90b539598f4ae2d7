package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/executor"
)

// quickScenario names the scenario built from --url.
const quickScenario = "cli"

// buildQuickConfig builds a single-scenario configuration from flags:
// ramping-vus when --stages is set, constant-vus otherwise.
func buildQuickConfig(opts *runOptions) (*config.TestConfig, error) {
	sc := &config.ScenarioConfig{Thresholds: opts.thresholds}

	if opts.stages != "" {
		if opts.vus != 0 || opts.duration != "" {
			return nil, fmt.Errorf("--stages cannot be combined with --vus or --duration")
		}
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		sc.Executor = string(executor.TypeRampingVUs)
		sc.Stages = stages
	} else {
		vus := opts.vus
		if vus == 0 {
			vus = 10
		}
		raw := opts.duration
		if raw == "" {
			raw = "30s"
		}
		d, err := config.ParseDurationString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
		sc.Executor = string(executor.TypeConstantVUs)
		sc.VUs = vus
		sc.Duration = durationPtr(config.Duration(d))
	}

	if opts.pacing != "" {
		d, err := config.ParseDurationString(opts.pacing)
		if err != nil {
			return nil, fmt.Errorf("invalid pacing: %w", err)
		}
		sc.Pacing = durationPtr(config.Duration(d))
	}

	cfg := &config.TestConfig{
		Name:        "CLI Test",
		Description: fmt.Sprintf("Test generated from CLI flags for %s", opts.url),
		Target:      config.TargetConfig{URL: opts.url},
		Scenarios:   map[string]*config.ScenarioConfig{quickScenario: sc},
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationPtr(d config.Duration) *config.Duration {
	return &d
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		d, err := config.ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}
		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}
