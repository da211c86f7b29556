package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// RenderSummary renders the tabular end-of-run summary. When styled is
// false the tables carry no color.
func RenderSummary(s *engine.Summary, colors *ColorScheme, styled bool) string {
	if colors == nil {
		colors = NoColorScheme()
	}

	var b strings.Builder
	line := colors.Rule.Sprint(strings.Repeat(boxHorizontal, 56))

	b.WriteString(line + "\n")
	b.WriteString(fmt.Sprintf("%s - %s\n", colors.Title.Sprint(s.Name), verdictText(s, colors)))
	b.WriteString(line + "\n\n")

	b.WriteString(fmt.Sprintf("Run ID:      %s\n", s.RunID))
	b.WriteString(fmt.Sprintf("Duration:    %s\n", colors.Value.Sprint(formatDuration(s.Duration))))
	b.WriteString(fmt.Sprintf("Iterations:  %s\n", colors.Value.Sprint(formatNumber(s.Iterations))))
	b.WriteString(fmt.Sprintf("Requests:    %s (%s failed)\n",
		colors.Value.Sprint(formatNumber(s.Requests)),
		formatNumber(s.RequestFailures)))
	b.WriteString(fmt.Sprintf("Checks:      %s failed\n", formatNumber(s.AssertionFailures)))
	if s.FailureKind != "" {
		b.WriteString(fmt.Sprintf("Failure:     %s\n", colors.Error.Sprint(string(s.FailureKind))))
	}
	if s.AbortReason != "" {
		b.WriteString(fmt.Sprintf("Reason:      %s\n", s.AbortReason))
	}
	b.WriteString("\n")

	if len(s.Metrics) > 0 {
		b.WriteString(colors.Title.Sprint("Metrics") + "\n")
		b.WriteString(MetricsTable(s.Metrics, s.Duration.Seconds(), styled) + "\n\n")
	}
	if len(s.Checks) > 0 {
		b.WriteString(colors.Title.Sprint("Checks") + "\n")
		b.WriteString(ChecksTable(s.Checks, styled) + "\n\n")
	}
	if len(s.Thresholds) > 0 {
		b.WriteString(colors.Title.Sprint("Thresholds") + "\n")
		b.WriteString(ThresholdsTable(s.Thresholds, styled) + "\n\n")
	}
	return b.String()
}

func verdictText(s *engine.Summary, colors *ColorScheme) string {
	switch s.Verdict {
	case engine.VerdictPass:
		return colors.Success.Sprint("PASS ✓")
	case engine.VerdictFail:
		return colors.Error.Sprint("FAIL ✗")
	default:
		return colors.Warn.Sprint(string(s.Verdict))
	}
}

// MetricsTable renders one row per metric. Trends show their distribution;
// counters show their per-second rate over seconds.
func MetricsTable(snapshots []metrics.MetricSnapshot, seconds float64, styled bool) string {
	rows := make([][]string, 0, len(snapshots))
	for _, m := range snapshots {
		row := []string{m.Name, m.Kind.String(), "", "", "", "", "", "", ""}
		switch m.Kind {
		case metrics.KindCounter:
			row[2] = formatFloat(m.Value)
			if seconds > 0 {
				row[3] = fmt.Sprintf("%.2f/s", m.Value/seconds)
			}
		case metrics.KindRate:
			row[2] = fmt.Sprintf("%.2f%%", m.Value*100)
			row[3] = fmt.Sprintf("%d/%d", m.Passes, m.Count)
		case metrics.KindTrend:
			if t := m.Trend; t != nil {
				row[2] = formatFloat(t.Avg)
				row[3] = formatFloat(t.Min)
				row[4] = formatFloat(t.Med)
				row[5] = formatFloat(t.P90)
				row[6] = formatFloat(t.P95)
				row[7] = formatFloat(t.P99)
				row[8] = formatFloat(t.Max)
			}
		}
		rows = append(rows, row)
	}

	t := newTable(styled, func(row, col int) lipgloss.Style {
		if col >= 2 {
			return numberStyle
		}
		return cellStyle
	}).
		Headers("METRIC", "KIND", "VALUE/AVG", "RATE/MIN", "MED", "P90", "P95", "P99", "MAX").
		Rows(rows...)
	return t.String()
}

// ChecksTable renders one row per check.
func ChecksTable(checks []metrics.CheckSnapshot, styled bool) string {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		total := c.Passes + c.Fails
		rate := 0.0
		if total > 0 {
			rate = float64(c.Passes) / float64(total) * 100
		}
		mark := "✓"
		if c.Fails > 0 {
			mark = "✗"
		}
		rows = append(rows, []string{
			mark,
			strings.TrimPrefix(c.Group, "::"),
			c.Name,
			formatNumber(c.Passes),
			formatNumber(c.Fails),
			fmt.Sprintf("%.1f%%", rate),
			truncate(c.LastFailure, 48),
		})
	}

	t := newTable(styled, func(row, col int) lipgloss.Style {
		if col == 0 && row >= 0 && row < len(rows) {
			if rows[row][0] == "✓" {
				return passStyle
			}
			return failStyle
		}
		if col >= 3 && col <= 5 {
			return numberStyle
		}
		return cellStyle
	}).
		Headers("", "GROUP", "CHECK", "PASSES", "FAILS", "RATE", "LAST FAILURE").
		Rows(rows...)
	return t.String()
}

// ThresholdsTable renders one row per threshold result.
func ThresholdsTable(results []threshold.Result, styled bool) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
		}
		actual := formatFloat(r.Actual)
		if r.Message != "" {
			actual = r.Message
		}
		rows = append(rows, []string{mark, r.Metric, r.Expression, actual})
	}

	t := newTable(styled, func(row, col int) lipgloss.Style {
		if col == 0 && row >= 0 && row < len(rows) {
			if rows[row][0] == "✓" {
				return passStyle
			}
			return failStyle
		}
		return cellStyle
	}).
		Headers("", "METRIC", "THRESHOLD", "ACTUAL").
		Rows(rows...)
	return t.String()
}

// newTable creates a bordered table. Unstyled tables keep padding and
// alignment only.
func newTable(styled bool, style func(row, col int) lipgloss.Style) *table.Table {
	t := table.New().Border(lipgloss.NormalBorder())
	if !styled {
		return t.StyleFunc(func(row, col int) lipgloss.Style {
			s := style(row, col)
			if row == table.HeaderRow {
				return cellStyle
			}
			return lipgloss.NewStyle().Padding(0, 1).Align(s.GetAlign())
		})
	}
	return t.BorderStyle(borderStyle).StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return style(row, col)
	})
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return formatNumber(int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
