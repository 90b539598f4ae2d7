package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/config"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []config.StageConfig
		wantErr string
	}{
		{
			name:  "ramp hold ramp",
			input: "30s:10,2m:10,30s:0",
			want: []config.StageConfig{
				{Duration: config.Duration(30 * time.Second), Target: 10, Name: "stage-1"},
				{Duration: config.Duration(2 * time.Minute), Target: 10, Name: "stage-2"},
				{Duration: config.Duration(30 * time.Second), Target: 0, Name: "stage-3"},
			},
		},
		{
			name:  "bare seconds and spaces",
			input: " 5:1 , 10:0 ",
			want: []config.StageConfig{
				{Duration: config.Duration(5 * time.Second), Target: 1, Name: "stage-1"},
				{Duration: config.Duration(10 * time.Second), Target: 0, Name: "stage-2"},
			},
		},
		{name: "missing colon", input: "30s", wantErr: "expected 'duration:target'"},
		{name: "bad duration", input: "soon:5", wantErr: "invalid duration 'soon'"},
		{name: "bad target", input: "30s:many", wantErr: "invalid target 'many'"},
		{name: "negative target", input: "30s:-1", wantErr: "target cannot be negative"},
		{name: "empty", input: " , ", wantErr: "at least one stage is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStages(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildQuickConfig_Stages(t *testing.T) {
	cfg, err := buildQuickConfig(&runOptions{
		url:        "http://localhost:8000/cpu_intensive",
		stages:     "1m:5,1m:0",
		pacing:     "500ms",
		thresholds: []string{"p95 < 1s"},
	})
	require.NoError(t, err)

	sc, ok := cfg.Scenario(quickScenario)
	require.True(t, ok)
	assert.Equal(t, "ramping-vus", sc.Executor)
	assert.Len(t, sc.Stages, 2)
	require.NotNil(t, sc.Pacing)
	assert.Equal(t, 500*time.Millisecond, sc.Pacing.Std())
	assert.Equal(t, []string{"p95 < 1s"}, sc.Thresholds)
	assert.Equal(t, "http://localhost:8000/cpu_intensive", cfg.Target.URL)
}

func TestBuildQuickConfig_ConstantDefaults(t *testing.T) {
	cfg, err := buildQuickConfig(&runOptions{url: "http://localhost:8000/"})
	require.NoError(t, err)

	sc, _ := cfg.Scenario(quickScenario)
	assert.Equal(t, "constant-vus", sc.Executor)
	assert.Equal(t, 10, sc.VUs)
	require.NotNil(t, sc.Duration)
	assert.Equal(t, 30*time.Second, sc.Duration.Std())
}

func TestBuildQuickConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    runOptions
		wantErr string
	}{
		{"stages with vus", runOptions{url: "http://x/", stages: "1s:1", vus: 2}, "cannot be combined"},
		{"bad stages", runOptions{url: "http://x/", stages: "1s"}, "invalid stages format"},
		{"bad duration", runOptions{url: "http://x/", duration: "forever"}, "invalid duration"},
		{"bad pacing", runOptions{url: "http://x/", pacing: "often"}, "invalid pacing"},
		{"bad threshold", runOptions{url: "http://x/", thresholds: []string{"p42 < 1s"}}, "thresholds[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildQuickConfig(&tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
