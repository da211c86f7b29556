// Package output renders run progress and summaries for the console and as
// JSON.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA" // Move cursor up N lines
	clearLine = "\033[2K"  // Clear entire line

	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress tracking
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since the run started
	Remaining time.Duration // Time left in the stage plan

	// VU stats
	LiveVUs   int // Virtual users in the pool
	TargetVUs int // Current scheduled target

	// Request stats
	CurrentRPS    float64 // Requests per second over the last interval
	TotalRequests int64   // Total requests completed
	Errors        int64   // Total failed requests
	ErrorRate     float64 // Failed fraction over the last interval

	// Latency stats (milliseconds)
	LatencyP95 float64
	LatencyAvg float64

	// Phase info
	State        string
	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// StatsFromProgress builds LiveStats from an engine progress snapshot.
func StatsFromProgress(p engine.Progress) *LiveStats {
	remaining := p.TotalDuration - p.Elapsed
	if remaining < 0 {
		remaining = 0
	}

	stats := &LiveStats{
		Progress:     p.Fraction,
		Elapsed:      p.Elapsed,
		Remaining:    remaining,
		LiveVUs:      p.LiveVUs,
		TargetVUs:    p.TargetVUs,
		State:        p.State.String(),
		CurrentPhase: string(p.Phase),
		CurrentStage: p.Stage + 1,
		TotalStages:  p.Stages,
	}
	if b := p.Latest; b != nil {
		stats.CurrentRPS = b.IntervalRPS
		stats.TotalRequests = b.TotalRequests
		stats.Errors = b.TotalFailures
		stats.ErrorRate = b.IntervalErrorRate
		stats.LatencyP95 = b.DurationP95
		stats.LatencyAvg = b.DurationAvg
	}
	if stats.CurrentPhase == "" {
		stats.CurrentPhase = "initializing"
	}
	return stats
}

// ConsoleOutput manages live console output during a run.
type ConsoleOutput struct {
	planName string
	writer   io.Writer
	isTTY    bool
	quiet    bool
	colored  bool
	colors   *ColorScheme

	mu          sync.Mutex
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	PlanName string
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	colored := !config.NoColor && isTTY && supportsColors()
	colors := NoColorScheme()
	if colored {
		colors = ForcedColorScheme()
	}

	return &ConsoleOutput{
		planName: config.PlanName,
		writer:   config.Writer,
		isTTY:    isTTY,
		quiet:    config.Quiet,
		colored:  colored,
		colors:   colors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// Colored reports whether colors are enabled.
func (c *ConsoleOutput) Colored() bool {
	return c.colored
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(stages int, total time.Duration, scenarios []string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln(line)
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.planName))
	c.writeln(line)
	c.writeln(fmt.Sprintf("Stages:    %d (%s)", stages, formatDuration(total)))
	c.writeln(fmt.Sprintf("Scenarios: %s", strings.Join(scenarios, ", ")))
	c.writeln("")
}

// Update redraws the live display. It is a no-op when not writing to a
// terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.LiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatMillis(stats.LatencyP95)))
}

// Follow polls progress every interval until ctx is done. Terminals get a
// redrawn display; other writers get a status line every tenth interval.
func (c *ConsoleOutput) Follow(ctx context.Context, interval time.Duration, progress func() engine.Progress) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := StatsFromProgress(progress())
			if c.isTTY {
				c.Update(stats)
			} else if n%10 == 0 {
				c.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// PrintSummary clears the live display and prints the final summary.
func (c *ConsoleOutput) PrintSummary(s *engine.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	if c.quiet {
		c.writeln(c.verdict(s))
		return
	}

	c.writeln("")
	c.write(RenderSummary(s, c.colors, c.colored))
}

// verdict renders the colored verdict word.
func (c *ConsoleOutput) verdict(s *engine.Summary) string {
	switch s.Verdict {
	case engine.VerdictPass:
		return c.colors.Success.Sprint("PASS")
	case engine.VerdictFail:
		return c.colors.Error.Sprint("FAIL")
	default:
		return c.colors.Warn.Sprint(string(s.Verdict))
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
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

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Success.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Phase.Sprint(phaseInfo)))

	errColor := c.colors.Success
	if stats.ErrorRate > 0.01 {
		errColor = c.colors.Warn
	}
	if stats.ErrorRate > 0.05 {
		errColor = c.colors.Error
	}

	lines = append(lines,
		fmt.Sprintf("VUs:      %s / %d    Requests: %s    RPS: %s",
			c.colors.Value.Sprint(stats.LiveVUs),
			stats.TargetVUs,
			c.colors.Value.Sprint(formatNumber(stats.TotalRequests)),
			c.colors.Success.Sprintf("%.1f", stats.CurrentRPS)),
		fmt.Sprintf("Errors:   %s (%s)    P95: %s    Avg: %s",
			errColor.Sprint(stats.Errors),
			errColor.Sprintf("%.1f%%", stats.ErrorRate*100),
			c.colors.Latency.Sprint(formatMillis(stats.LatencyP95)),
			c.colors.Latency.Sprint(formatMillis(stats.LatencyAvg))))

	return lines
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a millisecond value in a short format.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0ms"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
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

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
