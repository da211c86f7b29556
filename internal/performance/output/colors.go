package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Value     *color.Color
	Dim       *color.Color
	Phase     *color.Color
	Latency   *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Phase:     color.New(color.FgMagenta),
		Latency:   color.New(color.FgBlue),
		Success:   color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Error:     color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors enabled even
// when stdout is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title, s.Rule, s.Value, s.Dim, s.Phase,
		s.Latency, s.Success, s.Warn, s.Error, s.Highlight,
	}
}

// Table styles for the summary.
var (
	colorBorder = lipgloss.Color("#767676")
	colorHeader = lipgloss.Color("#7D56F4")
	colorPass   = lipgloss.Color("#04B575")
	colorFail   = lipgloss.Color("#FF5F87")

	headerStyle = lipgloss.NewStyle().Foreground(colorHeader).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	passStyle   = cellStyle.Foreground(colorPass)
	failStyle   = cellStyle.Foreground(colorFail)
	borderStyle = lipgloss.NewStyle().Foreground(colorBorder)
)
