// Package output renders live progress and final run summaries.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/vuramp/internal/controller"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console manages live console output during a run.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && SupportsColors()))

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
	}

	return &Console{
		writer: config.Writer,
		scheme: scheme,
		isTTY:  isTTY,
		quiet:  config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(testName, source string, scenarios []string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.scheme.Title.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln(rule)
	c.writeln(c.scheme.Value.Sprintf("%s - Running", testName))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Config:     %s", c.scheme.Dim.Sprint(source)))
	if len(scenarios) == 0 {
		c.writeln(fmt.Sprintf("Scenarios:  %s", c.scheme.Warn.Sprint("none selected")))
	} else {
		c.writeln(fmt.Sprintf("Scenarios:  %s", c.scheme.Highlight.Sprint(strings.Join(scenarios, ", "))))
	}
	c.writeln("")
}

// Update redraws the live display in place. It does nothing when the
// output is not a terminal.
func (c *Console) Update(progress []ScenarioProgress) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	var lines []string
	for _, p := range progress {
		lines = append(lines, c.renderScenario(p)...)
	}
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderScenario(p ScenarioProgress) []string {
	s := c.scheme
	var lines []string

	stage := string(p.Phase)
	if p.TotalStages > 0 {
		stage = fmt.Sprintf("%s (%d/%d)", p.Phase, p.Stage, p.TotalStages)
		if p.StageName != "" {
			stage = fmt.Sprintf("%s %s", stage, p.StageName)
		}
	}
	lines = append(lines, fmt.Sprintf("%s  %s %s | %s",
		s.Value.Sprint(p.Name),
		s.Success.Sprint(renderProgressBar(p.Progress, 30)),
		s.Value.Sprintf("%3.0f%%", p.Progress*100),
		s.Dim.Sprintf("%s / %s", formatDuration(p.Elapsed), formatDuration(p.Total))))
	lines = append(lines, fmt.Sprintf("Stage:    %s", s.Phase.Sprint(stage)))

	lines = append(lines, s.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", s.Highlight.Sprint(p.ActiveVUs), p.TargetVUs)
	iters := fmt.Sprintf("Iterations:  %s", s.Highlight.Sprint(formatNumber(p.Iterations)))
	lines = append(lines, c.formatBoxRow(vus, iters))

	rate := fmt.Sprintf("Rate:    %s", s.Success.Sprintf("%.1f/s", p.Throughput))
	errColor := c.errorRateColor(p.ErrorRate)
	errs := fmt.Sprintf("Failures:    %s (%s)", errColor.Sprint(p.Failures), errColor.Sprintf("%.1f%%", p.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rate, errs))

	p95 := fmt.Sprintf("P95:     %s", s.Phase.Sprint(formatDurationShort(p.P95)))
	avg := fmt.Sprintf("Avg:         %s", s.Phase.Sprint(formatDurationShort(p.Avg)))
	lines = append(lines, c.formatBoxRow(p95, avg))

	lines = append(lines, s.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) errorRateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return c.scheme.Error
	case rate > 0.01:
		return c.scheme.Warn
	default:
		return c.scheme.Success
	}
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2
	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)
	bar := c.scheme.Dim.Sprint(boxVertical)

	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar, left, strings.Repeat(" ", leftPadding),
		bar, right, strings.Repeat(" ", rightPadding),
		bar)
}

// PrintNonInteractiveUpdate prints one status line per scenario. Used when
// output is not a TTY (e.g., piped to a file or CI/CD).
func (c *Console) PrintNonInteractiveUpdate(progress []ScenarioProgress) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range progress {
		c.writeln(fmt.Sprintf("[%s] %s | %s | Progress: %.0f%% | VUs: %d/%d | Iters: %d | Rate: %.1f/s | Failures: %d (%.1f%%) | P95: %s",
			formatDuration(p.Elapsed),
			p.Name,
			p.Phase,
			p.Progress*100,
			p.ActiveVUs,
			p.TargetVUs,
			p.Iterations,
			p.Throughput,
			p.Failures,
			p.ErrorRate*100,
			formatDurationShort(p.P95)))
	}
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(summary *controller.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	if c.quiet {
		if summary.Passed {
			c.writeln(s.Success.Sprint("PASSED"))
		} else {
			c.writeln(s.Error.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	rule := s.Title.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	status := s.Success.Sprint("Completed ✓")
	if !summary.Passed {
		status = s.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", s.Value.Sprintf("Run %s", summary.RunID), status))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Selection:     %s", s.Highlight.Sprint(summary.Selection)))
	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(summary.Duration))))
	c.writeln("")

	names := summary.Names()
	if len(names) == 0 {
		c.writeln(s.Warn.Sprint("No scenarios were selected."))
		c.writeln("")
		return
	}
	for _, name := range names {
		c.printScenario(summary.Scenarios[name])
	}
}

func (c *Console) printScenario(sc *controller.ScenarioSummary) {
	s := c.scheme
	m := sc.Metrics

	icon := s.SuccessIcon()
	if sc.Failed() {
		icon = s.ErrorIcon()
	}
	title := fmt.Sprintf("%s %s [%s]", icon, s.Value.Sprint(sc.Name), sc.Executor)
	if sc.Aborted {
		title += " " + s.Warn.Sprint("(aborted)")
	}
	c.writeln(title)

	c.writeln(fmt.Sprintf("  Duration:      %s", formatDuration(sc.Duration)))
	c.writeln(fmt.Sprintf("  Peak VUs:      %d", sc.PeakVUs))
	c.writeln(fmt.Sprintf("  Iterations:    %s (%.1f/s)", formatNumber(m.Total), m.Throughput))

	successRate := 1 - m.ErrorRate
	rateColor := s.Success
	if successRate < 0.99 {
		rateColor = s.Warn
	}
	if successRate < 0.95 {
		rateColor = s.Error
	}
	if m.Total == 0 {
		rateColor = s.Dim
	}
	c.writeln(fmt.Sprintf("  Success Rate:  %s", rateColor.Sprintf("%.1f%%", successRate*100)))
	if sc.Abandoned > 0 {
		c.writeln(fmt.Sprintf("  Abandoned:     %s", s.Warn.Sprint(sc.Abandoned)))
	}
	if sc.Error != "" {
		c.writeln(fmt.Sprintf("  Error:         %s", s.Error.Sprint(sc.Error)))
	}

	if m.Latency.Count > 0 {
		c.writeln("  " + s.Label.Sprint("Latency:"))
		c.writeln(fmt.Sprintf("    Min %s | P50 %s | P90 %s | P95 %s | P99 %s | Max %s",
			formatDurationShort(m.Latency.Min),
			formatDurationShort(m.Latency.P50),
			formatDurationShort(m.Latency.P90),
			formatDurationShort(m.Latency.P95),
			formatDurationShort(m.Latency.P99),
			formatDurationShort(m.Latency.Max)))
	}

	if len(m.Failures) > 0 {
		c.writeln("  " + s.Label.Sprint("Failures:"))
		reasons := make([]string, 0, len(m.Failures))
		for reason := range m.Failures {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool {
			if m.Failures[reasons[i]] != m.Failures[reasons[j]] {
				return m.Failures[reasons[i]] > m.Failures[reasons[j]]
			}
			return reasons[i] < reasons[j]
		})
		for _, reason := range reasons {
			c.writeln(fmt.Sprintf("    %-24s %s", reason, s.Error.Sprint(formatNumber(m.Failures[reason]))))
		}
	}

	if len(sc.Thresholds) > 0 {
		c.writeln("  " + s.Label.Sprint("Thresholds:"))
		for _, t := range sc.Thresholds {
			mark := s.SuccessIcon()
			if !t.Passed {
				mark = s.ErrorIcon()
			}
			c.writeln(fmt.Sprintf("    %s %s (actual: %s)", mark, t.Expression, t.Value))
		}
	}
	c.writeln("")
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	head := len(str) % 3
	if head > 0 {
		b.WriteString(str[:head])
	}
	for i := head; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

// visibleLen counts the printable runes in s, skipping ANSI sequences.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\033':
			inEscape = true
		case inEscape:
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
