package threshold

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Source provides read access to the frozen metrics of a run.
type Source interface {
	Lookup(name string) (*metrics.Metric, bool)
}

// Result is the outcome of one rule.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Actual     float64 `json:"actual"`
	Passed     bool    `json:"passed"`
	Message    string  `json:"message,omitempty"`
}

// Evaluate evaluates every rule against src. elapsed is the run's wall-clock
// duration, used for the per-second rate of counters.
func Evaluate(rules []Rule, src Source, elapsed time.Duration) []Result {
	results := make([]Result, 0, len(rules))
	for _, rule := range rules {
		results = append(results, evaluateRule(rule, src, elapsed))
	}
	return results
}

// AllPassed reports whether every result passed. An empty set passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func evaluateRule(rule Rule, src Source, elapsed time.Duration) Result {
	result := Result{Metric: rule.Metric, Expression: rule.Expression}

	m, ok := src.Lookup(rule.Metric)
	if !ok || m.Samples() == 0 {
		result.Actual = 0
		result.Passed = Compare(0, rule.Comparator, rule.Literal)
		result.Message = "no samples"
		return result
	}

	if !rule.Applicable(m.Kind) {
		result.Passed = false
		result.Message = fmt.Sprintf("%s is not defined for a %s metric", rule.AggregatorString(), m.Kind)
		return result
	}

	result.Actual = aggregate(rule, m, elapsed)
	result.Passed = Compare(result.Actual, rule.Comparator, rule.Literal)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s = %s, want %s %s",
			rule.AggregatorString(),
			strconv.FormatFloat(result.Actual, 'f', -1, 64),
			rule.Comparator,
			strconv.FormatFloat(rule.Literal, 'f', -1, 64))
	}
	return result
}

func aggregate(rule Rule, m *metrics.Metric, elapsed time.Duration) float64 {
	switch m.Kind {
	case metrics.KindTrend:
		stats := m.Trend().Stats()
		switch rule.Aggregator {
		case AggAvg:
			return stats.Avg
		case AggMin:
			return stats.Min
		case AggMax:
			return stats.Max
		case AggCount:
			return float64(stats.Count)
		case AggPercentile:
			return m.Trend().Percentile(rule.Percentile)
		}

	case metrics.KindRate:
		if rule.Aggregator == AggCount {
			_, total := m.Rate().Counts()
			return float64(total)
		}
		return m.Rate().Value()

	case metrics.KindCounter:
		if rule.Aggregator == AggCount {
			return m.Counter().Value()
		}
		if secs := elapsed.Seconds(); secs > 0 {
			return m.Counter().Value() / secs
		}
	}
	return 0
}
