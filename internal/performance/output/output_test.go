package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

func sampleSummary(verdict engine.Verdict) *engine.Summary {
	return &engine.Summary{
		RunID:             "run-1",
		Name:              "storefront",
		Duration:          90 * time.Second,
		Verdict:           verdict,
		Iterations:        1200,
		Requests:          4800,
		RequestFailures:   12,
		AssertionFailures: 3,
		Metrics: []metrics.MetricSnapshot{
			{Name: "http_reqs", Kind: metrics.KindCounter, Value: 4800, Count: 4800},
			{Name: "http_req_failed", Kind: metrics.KindRate, Value: 0.0025, Passes: 12, Fails: 4788, Count: 4800},
			{Name: "http_req_duration", Kind: metrics.KindTrend, Value: 42.5, Count: 4800, Trend: &metrics.TrendStats{
				Count: 4800, Min: 3, Max: 812.25, Avg: 42.5, Med: 31, P90: 88, P95: 120, P99: 400,
			}},
		},
		Checks: []metrics.CheckSnapshot{
			{Group: "", Name: "login status is 200", Passes: 360, Fails: 0},
			{Group: "::Purchase", Name: "order created", Passes: 97, Fails: 3, LastFailure: "status 500 {\"error\":\"stock\"}"},
		},
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p(95)<500", Actual: 120, Passed: true},
			{Metric: "errors", Expression: "rate<0.01", Actual: 0.02, Passed: false},
		},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms       float64
		expected string
	}{
		{0, "0ms"},
		{0.5, "500µs"},
		{42.126, "42.13ms"},
		{42.125, "42.12ms"},
		{1500, "1.50s"},
		{90000, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatMillis(tt.ms))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[█████░░░░░]", renderProgressBar(0.5, 10))
	assert.Equal(t, "[░░░░░░░░░░]", renderProgressBar(-1, 10))
	assert.Equal(t, "[██████████]", renderProgressBar(2, 10))
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(sampleSummary(engine.VerdictFail), NoColorScheme(), false)

	assert.Contains(t, out, "storefront - FAIL")
	assert.Contains(t, out, "Requests:    4,800 (12 failed)")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, "53.33/s")
	assert.Contains(t, out, "Purchase")
	assert.Contains(t, out, "order created")
	assert.Contains(t, out, "p(95)<500")
	assert.Contains(t, out, "rate<0.01")
	assert.NotContains(t, out, "\033[")
}

func TestRenderSummary_Aborted(t *testing.T) {
	s := sampleSummary(engine.VerdictAborted)
	s.FailureKind = engine.SetupFailure
	s.AbortReason = "setup produced no users"

	out := RenderSummary(s, nil, false)
	assert.Contains(t, out, "ABORTED")
	assert.Contains(t, out, "SETUP_FAILURE")
	assert.Contains(t, out, "setup produced no users")
}

func TestConsoleOutput_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleOutputConfig{PlanName: "plan", Writer: &buf, Quiet: true})

	c.PrintHeader(3, time.Minute, []string{"Login"})
	c.PrintNonInteractiveUpdate(&LiveStats{})
	c.PrintSummary(sampleSummary(engine.VerdictPass))

	assert.Equal(t, "PASS\n", buf.String())
}

func TestConsoleOutput_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleOutputConfig{PlanName: "plan", Writer: &buf})
	assert.False(t, c.IsTTY())
	assert.False(t, c.Colored())

	c.PrintHeader(2, 90*time.Second, []string{"Login", "Browse"})
	c.Update(&LiveStats{Progress: 0.5})
	c.PrintNonInteractiveUpdate(&LiveStats{
		Elapsed:       30 * time.Second,
		Progress:      0.25,
		LiveVUs:       10,
		TargetVUs:     12,
		TotalRequests: 100,
		CurrentRPS:    12.5,
		LatencyP95:    120,
		CurrentPhase:  "ramp-up",
	})

	out := buf.String()
	assert.Contains(t, out, "plan - Running")
	assert.Contains(t, out, "Scenarios: Login, Browse")
	assert.Contains(t, out, "[30.0s] ramp-up | Progress: 25% | VUs: 10/12 | Reqs: 100 | RPS: 12.5")
	assert.Contains(t, out, "P95: 120.00ms")
	assert.NotContains(t, out, "Progress: [", "live display must not render on a non-terminal")
}

func TestConsoleOutput_TTYRedraw(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleOutputConfig{PlanName: "plan", Writer: &buf, ForceTTY: true, NoColor: true})

	c.Update(&LiveStats{Progress: 0.1, CurrentPhase: "ramp-up", TotalStages: 3, CurrentStage: 1})
	c.Update(&LiveStats{Progress: 0.2, CurrentPhase: "steady", TotalStages: 3, CurrentStage: 2})

	out := buf.String()
	assert.Contains(t, out, "Stage:    steady (2/3)")
	assert.Contains(t, out, "\033[4A", "second update should move the cursor over the previous display")
}

func TestStatsFromProgress(t *testing.T) {
	stats := StatsFromProgress(engine.Progress{
		State:         engine.StateRamping,
		Phase:         metrics.PhaseSteady,
		Stage:         1,
		Stages:        3,
		LiveVUs:       5,
		TargetVUs:     6,
		Elapsed:       40 * time.Second,
		TotalDuration: 60 * time.Second,
		Fraction:      2.0 / 3.0,
		Latest:        &metrics.TimeBucket{TotalRequests: 50, TotalFailures: 2, IntervalRPS: 4, DurationP95: 80},
	})

	assert.Equal(t, 20*time.Second, stats.Remaining)
	assert.Equal(t, 2, stats.CurrentStage)
	assert.Equal(t, "steady", stats.CurrentPhase)
	assert.Equal(t, int64(50), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, 80.0, stats.LatencyP95)

	empty := StatsFromProgress(engine.Progress{})
	assert.Equal(t, "initializing", empty.CurrentPhase)
}

func TestFollow_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true, NoColor: true})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Follow(ctx, 10*time.Millisecond, func() engine.Progress { return engine.Progress{Fraction: 0.5} })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after cancellation")
	}
	assert.Contains(t, buf.String(), "Progress:")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleSummary(engine.VerdictPass)))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "PASS", decoded["verdict"])
	assert.Equal(t, "storefront", decoded["name"])
	assert.Len(t, decoded["thresholds"], 2)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSONFile(path, sampleSummary(engine.VerdictFail)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"verdict": "FAIL"`))
}
