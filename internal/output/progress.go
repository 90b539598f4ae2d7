package output

import (
	"sort"
	"time"

	"github.com/wesleyorama2/vuramp/internal/executor"
	"github.com/wesleyorama2/vuramp/internal/metrics"
)

// ScenarioProgress is the live view of one running scenario.
type ScenarioProgress struct {
	Name     string
	State    executor.State
	Phase    metrics.Phase
	Progress float64
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs   int
	TargetVUs   int
	DrainingVUs int

	Stage       int // 1-indexed
	TotalStages int
	StageName   string

	Iterations int64
	Failures   int64
	ErrorRate  float64
	Throughput float64
	P95        time.Duration
	Avg        time.Duration
}

// Remaining estimates the time left in the scenario's plan.
func (p ScenarioProgress) Remaining() time.Duration {
	if p.Total <= p.Elapsed {
		return 0
	}
	return p.Total - p.Elapsed
}

// ProgressFrom combines executor stats with the aggregator snapshot.
func ProgressFrom(name string, stats *executor.Stats, snap metrics.Snapshot) ScenarioProgress {
	p := ScenarioProgress{
		Name:       name,
		Phase:      snap.Phase,
		Iterations: snap.Total,
		Failures:   snap.Failure,
		ErrorRate:  snap.ErrorRate,
		Throughput: snap.Throughput,
		P95:        snap.Latency.P95,
		Avg:        snap.Latency.Mean,
		ActiveVUs:  snap.ActiveVUs,
	}
	if stats == nil {
		return p
	}

	p.State = stats.State
	p.Elapsed = stats.Elapsed
	p.Total = stats.TotalDuration
	p.ActiveVUs = stats.ActiveVUs
	p.TargetVUs = stats.TargetVUs
	p.DrainingVUs = stats.DrainingVUs
	p.Stage = stats.CurrentStage + 1
	p.TotalStages = stats.TotalStages
	p.StageName = stats.CurrentStageName
	if p.Stage > p.TotalStages {
		p.Stage = p.TotalStages
	}
	switch {
	case stats.State == executor.StateStopped:
		p.Progress = 1
	case p.Total > 0:
		p.Progress = float64(p.Elapsed) / float64(p.Total)
		if p.Progress > 1 {
			p.Progress = 1
		}
	}
	return p
}

// CollectProgress builds a name-sorted progress list from the per-scenario
// stats and snapshots reported by the controller.
func CollectProgress(stats map[string]*executor.Stats, snaps map[string]metrics.Snapshot) []ScenarioProgress {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ScenarioProgress, 0, len(names))
	for _, name := range names {
		out = append(out, ProgressFrom(name, stats[name], snaps[name]))
	}
	return out
}
