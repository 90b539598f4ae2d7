package cli

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable the CLI reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SCENARIO", "VURAMP_SCENARIO", "VURAMP_CONFIG",
		"VURAMP_HOST", "AWS_COMMUNITY_DAY_LB_DNS_NAME",
		"VURAMP_ENDPOINT", "AWS_COMMUNITY_DAY_API_ENDPOINT",
		"VURAMP_PARAM", "AWS_COMMUNITY_DAY_API_ENDPOINT_PARAM",
		"VURAMP_METRICS_ADDR", "VURAMP_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"VURAMP_LOG_LEVEL", "VURAMP_LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := ExecuteArgs(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig writes a short two-scenario config aimed at target.
func writeConfig(t *testing.T, target string, threshold string) string {
	t.Helper()
	content := fmt.Sprintf(`name: cli-test
target:
  url: %q
scenarios:
  fast:
    executor: ramping-vus
    stages:
      - { duration: 40ms, target: 2 }
      - { duration: 40ms, target: 2 }
      - { duration: 20ms, target: 0 }
    gracefulStop: 50ms
    gracefulRampDown: 50ms
    pacing: 5ms
    tickInterval: 5ms
    thresholds: [%q]
  steady:
    executor: constant-vus
    vus: 1
    duration: 60ms
    gracefulStop: 50ms
    pacing: 5ms
    tickInterval: 5ms
`, target, threshold)

	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(&ExitCodeError{Code: ExitThresholdsFailed}))
	assert.Equal(t, ExitError, ExitCode(fmt.Errorf("wrapped: %w", &ExitCodeError{Code: ExitError, Err: errors.New("x")})))
	assert.Equal(t, "exit status 2", (&ExitCodeError{Code: 2}).Error())
}

func TestRoot_Help(t *testing.T) {
	clearEnv(t)
	code, stdout, _ := execute()
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "validate")
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	code, _, stderr := execute("--log-level", "loud", "list")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown log level")
}

func TestRun_EmptySelectionRunsNothing(t *testing.T) {
	clearEnv(t)

	code, stdout, stderr := execute("run")
	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "none selected")
	assert.Contains(t, stdout, "No scenarios were selected.")
}

func TestRun_UnknownScenarioStartsNothing(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)
	path := writeConfig(t, srv.URL, "rate < 0.01")

	code, _, stderr := execute("run", "--config", path, "--scenario", "fast,Scenario_9")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "scenario not found")
	assert.Contains(t, stderr, "Scenario_9")
	assert.Contains(t, stderr, "configured: fast, steady")
	assert.Zero(t, hits.Load())
}

func TestRun_DefaultConfigNeedsHost(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCENARIO", "Scenario_1")

	code, _, stderr := execute("run")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "AWS_COMMUNITY_DAY_LB_DNS_NAME")
}

func TestRun_ConfigFileJSONReport(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)
	path := writeConfig(t, srv.URL+"/cpu_intensive?iterations=10", "rate < 0.01")
	t.Setenv("SCENARIO", "all")

	code, stdout, stderr := execute("run", "--config", path, "--format", "json", "--quiet")
	require.Equal(t, ExitOK, code, stderr)

	var summary struct {
		Passed    bool `json:"passed"`
		Scenarios map[string]struct {
			Executor string `json:"executor"`
			PeakVUs  int    `json:"peakVUs"`
			Metrics  struct {
				Total   int64 `json:"total"`
				Failure int64 `json:"failure"`
			} `json:"metrics"`
		} `json:"scenarios"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary), stdout)
	assert.True(t, summary.Passed)
	require.Len(t, summary.Scenarios, 2)

	fast := summary.Scenarios["fast"]
	steady := summary.Scenarios["steady"]
	assert.Equal(t, "ramping-vus", fast.Executor)
	assert.Equal(t, 2, fast.PeakVUs)
	assert.Equal(t, "constant-vus", steady.Executor)
	assert.Positive(t, fast.Metrics.Total)
	assert.Zero(t, fast.Metrics.Failure)
	assert.InDelta(t, hits.Load(), fast.Metrics.Total+steady.Metrics.Total, 2)

	// Quiet mode still reports the verdict, on stderr next to the report.
	assert.Contains(t, stderr, "PASSED")
}

func TestRun_ScenarioFlagOverridesEnvironment(t *testing.T) {
	clearEnv(t)
	srv, _ := countingServer(t, http.StatusOK)
	path := writeConfig(t, srv.URL, "rate < 0.01")
	t.Setenv("SCENARIO", "Scenario_9")

	code, stdout, stderr := execute("run", "--config", path, "--scenario", "steady")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "steady [constant-vus]")
	assert.NotContains(t, stdout, "fast [ramping-vus]")
}

func TestRun_ThresholdFailureExitCode(t *testing.T) {
	clearEnv(t)
	srv, _ := countingServer(t, http.StatusServiceUnavailable)
	path := writeConfig(t, srv.URL, "rate < 0.01")

	code, stdout, stderr := execute("run", "--config", path, "--scenario", "fast", "--no-color")
	assert.Equal(t, ExitThresholdsFailed, code, stderr)
	assert.Contains(t, stdout, "Failed ✗")
	assert.Contains(t, stdout, "status 503")
	assert.Contains(t, stdout, "✗ rate < 0.01")
}

func TestRun_JUnitReportFile(t *testing.T) {
	clearEnv(t)
	srv, _ := countingServer(t, http.StatusOK)
	path := writeConfig(t, srv.URL, "count > 0")
	report := filepath.Join(t.TempDir(), "reports", "junit.xml")

	code, stdout, stderr := execute("run", "--config", path, "--scenario", "fast", "--output", report)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "Report: "+report)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var suites junit.Testsuites
	require.NoError(t, xml.Unmarshal(data, &suites))
	require.Len(t, suites.Suites, 1)
	assert.Equal(t, "fast", suites.Suites[0].Name)
	assert.Equal(t, 2, suites.Suites[0].Tests)
	assert.Zero(t, suites.Failures)
}

func TestRun_TextFormatRejectsOutputFile(t *testing.T) {
	clearEnv(t)
	code, _, stderr := execute("run", "--format", "text", "--output", filepath.Join(t.TempDir(), "x"))
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "--output needs a report format")
}

func TestRun_MetricsEndpoint(t *testing.T) {
	clearEnv(t)
	srv, _ := countingServer(t, http.StatusOK)
	path := writeConfig(t, srv.URL, "rate < 0.01")

	code, _, stderr := execute("run", "--config", path, "--scenario", "fast", "--metrics-addr", "127.0.0.1:0", "-q")
	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "Serving Prometheus metrics")
}

func TestList(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_COMMUNITY_DAY_LB_DNS_NAME", "lb.example.com")
	t.Setenv("AWS_COMMUNITY_DAY_API_ENDPOINT", "cpu_intensive")
	t.Setenv("AWS_COMMUNITY_DAY_API_ENDPOINT_PARAM", "iterations=100")

	code, stdout, stderr := execute("list")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "builtin:default.yaml")
	assert.Contains(t, stdout, "Scenario_1")
	assert.Contains(t, stdout, "12m0s")
	assert.Contains(t, stdout, "6m0s")
	assert.Contains(t, stdout, "4m0s:20,6m0s:20,2m0s:0")
	assert.Contains(t, stdout, "GET http://lb.example.com:8000/cpu_intensive?iterations=100")
}

func TestList_UnresolvedTarget(t *testing.T) {
	clearEnv(t)
	code, stdout, _ := execute("list")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "AWS_COMMUNITY_DAY_LB_DNS_NAME")
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	good := writeConfig(t, "http://localhost:8000/", "p95 < 500ms")
	code, stdout, _ := execute("validate", good)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "is valid (2 scenarios: [fast steady])")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
scenarios:
  a:
    executor: ramping-vus
    vus: 3
    stages:
      - { duration: 1s, target: 1 }
    thresholds: ["p42 < 1s"]
`), 0644))
	code, stdout, _ = execute("validate", bad)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stdout, "is invalid")
	assert.Contains(t, stdout, "scenarios.a")

	code, stdout, _ = execute("validate")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "builtin:default.yaml is valid")

	code, stdout, _ = execute("validate", "--print-default")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Scenario_2:")
}

func TestValidate_ConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "http://localhost:8000/", "p95 < 500ms")
	t.Setenv("VURAMP_CONFIG", path)

	code, stdout, _ := execute("validate")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, path+" is valid")
}
