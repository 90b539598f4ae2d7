package output

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/vuramp/internal/controller"
)

// Format represents the available report formats
type Format string

const (
	// FormatText is the default human-readable console summary
	FormatText Format = "text"
	// FormatJSON writes the run summary as JSON
	FormatJSON Format = "json"
	// FormatYAML writes the run summary as YAML
	FormatYAML Format = "yaml"
	// FormatJUnit writes JUnit XML (for CI/CD integration)
	FormatJUnit Format = "junit"
	// FormatHTML writes a standalone HTML report
	FormatHTML Format = "html"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatJSON, FormatYAML, FormatJUnit, FormatHTML}

// FormatForPath guesses a format from a file extension, falling back to
// JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatJSON
	}
}

// ParseFormat parses a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatText, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want one of text, json, yaml, junit, html)", s)
}

// WriteReport writes a machine-readable report. FormatText is rendered by
// Console.PrintSummary instead.
func WriteReport(w io.Writer, summary *controller.RunSummary, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, summary)
	case FormatYAML:
		return WriteYAML(w, summary)
	case FormatJUnit:
		return WriteJUnit(w, summary)
	case FormatHTML:
		return WriteHTML(w, summary, "")
	default:
		return fmt.Errorf("format %q is not a report format", format)
	}
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, summary *controller.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// WriteYAML writes the summary as YAML with the same field names as the
// JSON report.
func WriteYAML(w io.Writer, summary *controller.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// WriteJUnit writes one testsuite per scenario. Each threshold becomes a
// testcase, and a scenario error is reported on a "run" testcase.
func WriteJUnit(w io.Writer, summary *controller.RunSummary) error {
	suites := junit.Testsuites{
		Name: "vuramp " + summary.RunID,
		Time: seconds(summary.Duration.Seconds()),
	}

	for i, name := range summary.Names() {
		sc := summary.Scenarios[name]
		m := sc.Metrics

		suite := junit.Testsuite{
			Name: name,
			ID:   i,
			Time: seconds(sc.Duration.Seconds()),
		}
		suite.SetTimestamp(sc.StartTime)
		suite.AddProperty("executor", sc.Executor)
		suite.AddProperty("iterations", strconv.FormatInt(m.Total, 10))
		suite.AddProperty("failures", strconv.FormatInt(m.Failure, 10))
		suite.AddProperty("peak_vus", strconv.Itoa(sc.PeakVUs))
		suite.AddProperty("p95", m.Latency.P95.String())
		suite.AddProperty("error_rate", strconv.FormatFloat(m.ErrorRate, 'f', 4, 64))
		if sc.Aborted {
			suite.AddProperty("aborted", "true")
		}

		run := junit.Testcase{
			Name:      "run",
			Classname: name,
			Time:      suite.Time,
		}
		if sc.Error != "" {
			run.Error = &junit.Result{Message: sc.Error, Type: "error"}
		}
		suite.AddTestcase(run)

		for _, t := range sc.Thresholds {
			tc := junit.Testcase{
				Name:      t.Expression,
				Classname: name + ".thresholds",
			}
			if !t.Passed {
				tc.Failure = &junit.Result{Message: t.Message, Type: "threshold", Data: "actual: " + t.Value}
			}
			suite.AddTestcase(tc)
		}
		suites.AddSuite(suite)
	}

	return suites.WriteXML(w)
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
