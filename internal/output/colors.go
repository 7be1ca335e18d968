package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Stage     *color.Color
	Latency   *color.Color
	Success   *color.Color
	Warning   *color.Color
	Error     *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Stage:     color.New(color.FgMagenta),
		Latency:   color.New(color.FgBlue),
		Success:   color.New(color.FgGreen),
		Warning:   color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors enabled even
// when the process is not attached to a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title, s.Label, s.Value, s.Stage, s.Latency,
		s.Success, s.Warning, s.Error, s.Dim, s.Highlight,
	}
}

// rateColor picks green, yellow or red for an error rate.
func (s *ColorScheme) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Error
	case errorRate > 0.01:
		return s.Warning
	default:
		return s.Success
	}
}

// icon returns a check mark in the success color, or a cross in the
// error color when passed is false.
func (s *ColorScheme) icon(passed bool) string {
	if passed {
		return s.Success.Sprint("✓")
	}
	return s.Error.Sprint("✗")
}
