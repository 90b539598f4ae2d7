package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioOneStages() []Stage {
	return []Stage{
		{Target: 20, Duration: 4 * time.Minute},
		{Target: 20, Duration: 6 * time.Minute},
		{Target: 0, Duration: 2 * time.Minute},
	}
}

func TestNew_RejectsNegativeValues(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"negative target", []Stage{{Target: -1, Duration: time.Second}}},
		{"negative duration", []Stage{{Target: 1, Duration: -time.Second}}},
		{"second stage invalid", []Stage{{Target: 1, Duration: time.Second}, {Target: -5, Duration: time.Second}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestPlan_Target_StepCurve(t *testing.T) {
	p, err := New(scenarioOneStages())
	require.NoError(t, err)

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 20},
		{time.Minute, 20},
		{4*time.Minute - time.Nanosecond, 20},
		{4 * time.Minute, 20},
		{10*time.Minute - time.Nanosecond, 20},
		{10 * time.Minute, 0},
		{12 * time.Minute, 0},
		{time.Hour, 0},
	}

	for _, tt := range tests {
		got, err := p.Target(tt.at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "target at %s", tt.at)
	}

	assert.Equal(t, 12*time.Minute, p.Duration())
	assert.Equal(t, 20, p.MaxTarget())
}

func TestPlan_Target_RightContinuousAtBoundaries(t *testing.T) {
	p, err := New([]Stage{
		{Target: 5, Duration: time.Second},
		{Target: 10, Duration: time.Second},
	})
	require.NoError(t, err)

	before, err := p.Target(time.Second - time.Nanosecond)
	require.NoError(t, err)
	at, err := p.Target(time.Second)
	require.NoError(t, err)

	assert.Equal(t, 5, before)
	assert.Equal(t, 10, at)
}

func TestPlan_Target_NegativeTime(t *testing.T) {
	p, err := New(scenarioOneStages())
	require.NoError(t, err)

	_, err = p.Target(-time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPlan_Target_ZeroDurationStagesDoNotStall(t *testing.T) {
	p, err := New([]Stage{
		{Target: 50, Duration: 0},
		{Target: 3, Duration: time.Second},
		{Target: 99, Duration: 0},
		{Target: 7, Duration: time.Second},
	})
	require.NoError(t, err)

	first, err := p.Target(0)
	require.NoError(t, err)
	second, err := p.Target(time.Second)
	require.NoError(t, err)
	end, err := p.Target(2 * time.Second)
	require.NoError(t, err)

	assert.Equal(t, 3, first)
	assert.Equal(t, 7, second)
	assert.Equal(t, 0, end)
	assert.Equal(t, 99, p.MaxTarget())
}

func TestPlan_Target_AllZeroDuration(t *testing.T) {
	p, err := New([]Stage{{Target: 10}, {Target: 20}})
	require.NoError(t, err)

	got, err := p.Target(0)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Equal(t, time.Duration(0), p.Duration())
}

func TestPlan_Target_HoldLast(t *testing.T) {
	p, err := New([]Stage{
		{Target: 4, Duration: time.Second},
		{Target: 8, Duration: time.Second},
	}, WithHoldLast())
	require.NoError(t, err)

	got, err := p.Target(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 8, got)
}

func TestPlan_Target_Linear(t *testing.T) {
	p, err := New([]Stage{
		{Target: 10, Duration: 10 * time.Second},
		{Target: 10, Duration: 10 * time.Second},
		{Target: 0, Duration: 10 * time.Second},
	}, WithLinearProgression())
	require.NoError(t, err)

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Second, 5},
		{10 * time.Second, 10},
		{15 * time.Second, 10},
		{25 * time.Second, 5},
		{30 * time.Second, 0},
	}

	for _, tt := range tests {
		got, err := p.Target(tt.at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "target at %s", tt.at)
	}
}

func TestPlan_Target_Idempotent(t *testing.T) {
	p, err := New(scenarioOneStages())
	require.NoError(t, err)

	for _, at := range []time.Duration{0, 3 * time.Minute, 11 * time.Minute} {
		a, err := p.Target(at)
		require.NoError(t, err)
		b, err := p.Target(at)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestPlan_DoesNotAliasInput(t *testing.T) {
	stages := scenarioOneStages()
	p, err := New(stages)
	require.NoError(t, err)

	stages[0].Target = 1000

	got, err := p.Target(0)
	require.NoError(t, err)
	assert.Equal(t, 20, got)

	copied := p.Stages()
	copied[1].Target = 1000
	assert.Equal(t, 20, p.Stages()[1].Target)
}

func TestPlan_StageAt(t *testing.T) {
	stages := scenarioOneStages()
	stages[1].Name = "steady"
	p, err := New(stages)
	require.NoError(t, err)

	idx, name := p.StageAt(5 * time.Minute)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "steady", name)

	idx, _ = p.StageAt(13 * time.Minute)
	assert.Equal(t, -1, idx)

	idx, _ = p.StageAt(-time.Second)
	assert.Equal(t, -1, idx)
}

func TestPlan_IsRamping(t *testing.T) {
	p, err := New(scenarioOneStages())
	require.NoError(t, err)

	assert.True(t, p.IsRamping(0))
	assert.False(t, p.IsRamping(1))
	assert.True(t, p.IsRamping(2))
	assert.False(t, p.IsRamping(3))
}

func TestParseProgression(t *testing.T) {
	got, err := ParseProgression("")
	require.NoError(t, err)
	assert.Equal(t, ProgressionStep, got)

	got, err = ParseProgression("linear")
	require.NoError(t, err)
	assert.Equal(t, ProgressionLinear, got)
	assert.Equal(t, "linear", got.String())

	_, err = ParseProgression("cubic")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPlan_NextBoundary(t *testing.T) {
	p, err := New([]Stage{
		{Target: 5, Duration: time.Second},
		{Target: 9, Duration: 0},
		{Target: 2, Duration: 2 * time.Second},
	})
	require.NoError(t, err)

	next, ok := p.NextBoundary(0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, next)

	next, ok = p.NextBoundary(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, next)

	_, ok = p.NextBoundary(3 * time.Second)
	assert.False(t, ok)
}

func TestPlan_Direction(t *testing.T) {
	p, err := New(scenarioOneStages())
	require.NoError(t, err)

	assert.Equal(t, 1, p.Direction(0))
	assert.Equal(t, 0, p.Direction(1))
	assert.Equal(t, -1, p.Direction(2))
	assert.Equal(t, 0, p.Direction(-1))
}
