package metrics

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsPrefix prefixes every exported Prometheus metric.
const MetricsPrefix = "vuramp_"

// PrometheusExporter mirrors scenario aggregates into a Prometheus registry.
// One exporter serves every scenario of a run; series are labelled by
// scenario name.
type PrometheusExporter struct {
	iterations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	activeVUs  *prometheus.GaugeVec
}

// NewPrometheusExporter registers the engine's collectors with reg.
// Collectors already registered by an earlier exporter are reused.
func NewPrometheusExporter(reg prometheus.Registerer) (*PrometheusExporter, error) {
	p := &PrometheusExporter{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "iterations_total",
			Help: "Number of completed workload iterations",
		}, []string{"scenario", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "iteration_failures_total",
			Help: "Number of failed workload iterations by reason",
		}, []string{"scenario", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "iteration_duration_seconds",
			Help:    "Workload iteration duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"scenario"}),
		activeVUs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricsPrefix + "active_vus",
			Help: "Number of live virtual users",
		}, []string{"scenario"}),
	}

	var err error
	if p.iterations, err = registerOrReuse(reg, p.iterations); err != nil {
		return nil, err
	}
	if p.failures, err = registerOrReuse(reg, p.failures); err != nil {
		return nil, err
	}
	if p.duration, err = registerOrReuse(reg, p.duration); err != nil {
		return nil, err
	}
	if p.activeVUs, err = registerOrReuse(reg, p.activeVUs); err != nil {
		return nil, err
	}
	return p, nil
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ForScenario returns an Observer that labels everything with scenario.
func (p *PrometheusExporter) ForScenario(scenario string) Observer {
	return &scenarioObserver{exporter: p, scenario: scenario}
}

type scenarioObserver struct {
	exporter *PrometheusExporter
	scenario string
}

func (o *scenarioObserver) ObserveIteration(r IterationResult) {
	o.exporter.iterations.WithLabelValues(o.scenario, r.Outcome.String()).Inc()
	o.exporter.duration.WithLabelValues(o.scenario).Observe(r.Duration().Seconds())
	if !r.Success() {
		o.exporter.failures.WithLabelValues(o.scenario, labelValue(r.Reason)).Inc()
	}
}

// maxLabelLen bounds failure-reason label values in bytes.
const maxLabelLen = 64

// labelValue returns s as valid UTF-8 of at most maxLabelLen bytes, cut on
// a rune boundary. WithLabelValues panics on invalid UTF-8.
func labelValue(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLabelLen {
		return s
	}
	n := maxLabelLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (o *scenarioObserver) ObserveActiveVUs(n int) {
	o.exporter.activeVUs.WithLabelValues(o.scenario).Set(float64(n))
}
