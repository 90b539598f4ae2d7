package output

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/wesleyorama2/vuramp/internal/controller"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html.tmpl").Funcs(template.FuncMap{
		"formatDuration":      formatDuration,
		"formatDurationShort": formatDurationShort,
		"formatNumber":        formatNumber,
		"mul":                 func(a, b float64) float64 { return a * b },
	}).ParseFS(templateFS, "templates/report.html.tmpl"),
)

type htmlReport struct {
	Title      string
	RunID      string
	Selection  string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Passed     bool
	Scenarios  []*controller.ScenarioSummary
	SeriesJSON template.JS
}

type chartSeries struct {
	Index  int          `json:"index"`
	Name   string       `json:"name"`
	Points []chartPoint `json:"points"`
}

type chartPoint struct {
	Elapsed    float64 `json:"elapsed"`
	Throughput float64 `json:"throughput"`
	ActiveVUs  int     `json:"activeVUs"`
	Failures   int64   `json:"failures"`
	Phase      string  `json:"phase"`
}

// WriteHTML renders a standalone HTML report with per-scenario charts.
func WriteHTML(w io.Writer, summary *controller.RunSummary, title string) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if title == "" {
		title = "vuramp"
	}

	data := htmlReport{
		Title:     title,
		RunID:     summary.RunID,
		Selection: summary.Selection,
		StartTime: summary.StartTime,
		EndTime:   summary.EndTime,
		Duration:  summary.Duration,
		Passed:    summary.Passed,
	}

	var series []chartSeries
	for i, name := range summary.Names() {
		sc := summary.Scenarios[name]
		data.Scenarios = append(data.Scenarios, sc)
		if len(sc.TimeSeries) == 0 {
			continue
		}

		s := chartSeries{Index: i, Name: name}
		for _, b := range sc.TimeSeries {
			s.Points = append(s.Points, chartPoint{
				Elapsed:    b.Timestamp.Sub(sc.StartTime).Round(time.Second).Seconds(),
				Throughput: b.Throughput,
				ActiveVUs:  b.ActiveVUs,
				Failures:   b.Failures,
				Phase:      string(b.Phase),
			})
		}
		series = append(series, s)
	}

	if series == nil {
		series = []chartSeries{}
	}
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to convert time series: %w", err)
	}
	data.SeriesJSON = template.JS(raw)

	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}
