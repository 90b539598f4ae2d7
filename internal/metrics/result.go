package metrics

import "time"

// Outcome is the result class of one workload execution.
type Outcome int

const (
	// OutcomeSuccess means the workload returned without error.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the workload failed, timed out, panicked, or was
	// interrupted by a force-stop.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// IterationResult is produced once per workload execution. It is folded into
// an Engine and never retained individually.
type IterationResult struct {
	VUID      int       `json:"vuId"`
	Iteration int64     `json:"iteration"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Outcome   Outcome   `json:"outcome"`

	// Reason describes a failure. Empty on success.
	Reason string `json:"reason,omitempty"`
}

// Duration is the wall time the iteration took.
func (r IterationResult) Duration() time.Duration {
	d := r.EndTime.Sub(r.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// Success reports whether the iteration succeeded.
func (r IterationResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Recorder consumes iteration results. Implementations must be safe for
// concurrent use by many VUs.
type Recorder interface {
	Record(IterationResult)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(IterationResult)

// Record calls f(r).
func (f RecorderFunc) Record(r IterationResult) {
	f(r)
}

// Observer receives a copy of every recorded result and active-VU update.
// Exporters such as the Prometheus bridge implement it.
type Observer interface {
	ObserveIteration(IterationResult)
	ObserveActiveVUs(int)
}
