package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// Summary contains the complete results of a run.
type Summary struct {
	// Run metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Verdict
	Verdict     Verdict     `json:"verdict"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
	AbortReason string      `json:"abortReason,omitempty"`

	// Totals
	Iterations        int64 `json:"iterations"`
	Requests          int64 `json:"requests"`
	RequestFailures   int64 `json:"requestFailures"`
	AssertionFailures int64 `json:"assertionFailures"`

	// Detail
	Metrics    []metrics.MetricSnapshot `json:"metrics"`
	Checks     []metrics.CheckSnapshot  `json:"checks"`
	Thresholds []threshold.Result       `json:"thresholds"`
	TimeSeries []*metrics.TimeBucket    `json:"timeSeries,omitempty"`
}

// Passed reports whether the verdict is PASS.
func (s *Summary) Passed() bool {
	return s.Verdict == VerdictPass
}

// Metric returns the snapshot of the named metric.
func (s *Summary) Metric(name string) (metrics.MetricSnapshot, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return metrics.MetricSnapshot{}, false
}

// FailedThresholds returns the thresholds that did not hold.
func (s *Summary) FailedThresholds() []threshold.Result {
	var failed []threshold.Result
	for _, r := range s.Thresholds {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// finish fills summary from the frozen collector.
func (e *Engine) finish(s *Summary, verdict Verdict, kind FailureKind, reason string, results []threshold.Result, elapsed time.Duration) {
	s.EndTime = time.Now()
	s.Duration = elapsed
	s.Verdict = verdict
	s.FailureKind = kind
	s.AbortReason = reason
	s.Thresholds = results
	if s.Thresholds == nil {
		s.Thresholds = []threshold.Result{}
	}

	s.Metrics = e.collector.Snapshot()
	s.Checks = e.collector.CheckResults()
	s.TimeSeries = e.collector.TimeSeries()

	if m, ok := s.Metric(metrics.Iterations); ok {
		s.Iterations = int64(m.Value)
	}
	if m, ok := s.Metric(metrics.HTTPReqs); ok {
		s.Requests = int64(m.Value)
	}
	if m, ok := s.Metric(metrics.HTTPReqFailed); ok {
		s.RequestFailures = m.Passes
	}
	for _, c := range s.Checks {
		s.AssertionFailures += c.Fails
	}
}
