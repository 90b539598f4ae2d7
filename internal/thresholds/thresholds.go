// Package thresholds evaluates pass/fail expressions such as "p95 < 500ms"
// against a finalized scenario snapshot.
package thresholds

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/vuramp/internal/metrics"
)

// ErrInvalidExpression is wrapped by every parse failure.
var ErrInvalidExpression = errors.New("invalid threshold expression")

var expressionPattern = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

type kind int

const (
	kindDuration kind = iota
	kindFloat
)

// metricKinds lists every metric an expression may reference.
var metricKinds = map[string]kind{
	"min":        kindDuration,
	"max":        kindDuration,
	"avg":        kindDuration,
	"med":        kindDuration,
	"p50":        kindDuration,
	"p90":        kindDuration,
	"p95":        kindDuration,
	"p99":        kindDuration,
	"rate":       kindFloat, // failure rate, 0..1
	"count":      kindFloat, // total iterations
	"failures":   kindFloat, // failed iterations
	"throughput": kindFloat, // iterations per second
}

var operators = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true,
	"==": true, "=": true, "!=": true, "<>": true,
}

// Threshold is a parsed expression.
type Threshold struct {
	Expression string
	Metric     string
	Operator   string
	Value      float64
	kind       kind
}

// Parse parses an expression like "p95 < 500ms" or "rate < 0.01".
func Parse(expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)

	matches := expressionPattern.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return Threshold{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
	}
	metric, op, raw := matches[1], matches[2], strings.TrimSpace(matches[3])

	k, ok := metricKinds[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("%w: unknown metric %q in %q", ErrInvalidExpression, metric, expr)
	}
	if !operators[op] {
		return Threshold{}, fmt.Errorf("%w: unknown operator %q in %q", ErrInvalidExpression, op, expr)
	}

	t := Threshold{Expression: expr, Metric: metric, Operator: op, kind: k}
	switch k {
	case kindDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
		}
		t.Value = float64(d)
	default:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
		}
		t.Value = v
	}
	return t, nil
}

// ParseAll parses every expression, failing on the first invalid one.
func ParseAll(exprs []string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(exprs))
	for _, expr := range exprs {
		t, err := Parse(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Result contains the result of a threshold evaluation.
type Result struct {
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// Evaluate checks t against s.
func (t Threshold) Evaluate(s metrics.Snapshot) Result {
	actual := t.actual(s)
	result := Result{
		Expression: t.Expression,
		Passed:     compareValues(actual, t.Operator, t.Value),
		Value:      t.format(actual),
	}
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", t.Metric, result.Value, t.Operator, t.format(t.Value))
	}
	return result
}

func (t Threshold) actual(s metrics.Snapshot) float64 {
	switch t.Metric {
	case "min":
		return float64(s.Latency.Min)
	case "max":
		return float64(s.Latency.Max)
	case "avg":
		return float64(s.Latency.Mean)
	case "med", "p50":
		return float64(s.Latency.P50)
	case "p90":
		return float64(s.Latency.P90)
	case "p95":
		return float64(s.Latency.P95)
	case "p99":
		return float64(s.Latency.P99)
	case "rate":
		return s.ErrorRate
	case "count":
		return float64(s.Total)
	case "failures":
		return float64(s.Failure)
	case "throughput":
		return s.Throughput
	default:
		return 0
	}
}

func (t Threshold) format(v float64) string {
	switch {
	case t.kind == kindDuration:
		return time.Duration(v).String()
	case t.Metric == "rate":
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// EvaluateAll evaluates every threshold. No thresholds means no results,
// which AllPassed treats as a pass.
func EvaluateAll(ts []Threshold, s metrics.Snapshot) []Result {
	if len(ts) == 0 {
		return nil
	}
	out := make([]Result, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Evaluate(s))
	}
	return out
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
