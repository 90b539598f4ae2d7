package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Dim       *color.Color
	Phase     *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Value, s.Dim, s.Phase, s.Success, s.Warn, s.Error, s.Highlight}
}

// DefaultColorScheme returns the default color scheme. Colors are forced on;
// callers decide whether the destination supports them.
func DefaultColorScheme() *ColorScheme {
	scheme := &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Label:     color.New(color.FgWhite),
		Value:     color.New(color.FgWhite, color.Bold),
		Dim:       color.New(color.FgHiBlack),
		Phase:     color.New(color.FgBlue, color.Bold),
		Success:   color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Error:     color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// SuccessIcon returns a checkmark symbol with appropriate color
func (s *ColorScheme) SuccessIcon() string {
	return s.Success.Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func (s *ColorScheme) ErrorIcon() string {
	return s.Error.Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func (s *ColorScheme) WarningIcon() string {
	return s.Warn.Sprint("⚠")
}
