// Package threshold parses and evaluates pass/fail rules over run metrics.
//
// A rule has the form "aggregator comparator literal", for example
//
//	p(95)<500
//	rate<0.05
//	avg <= 200ms
//	count>=1000
//
// Comparisons are strict: "rate<0.05" fails when the rate is exactly 0.05.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Aggregator reduces a metric to a single number.
type Aggregator string

const (
	AggAvg        Aggregator = "avg"
	AggMin        Aggregator = "min"
	AggMax        Aggregator = "max"
	AggPercentile Aggregator = "p"
	AggRate       Aggregator = "rate"
	AggCount      Aggregator = "count"
)

// Comparator compares an aggregated value against a literal.
type Comparator string

const (
	Less         Comparator = "<"
	LessEqual    Comparator = "<="
	Greater      Comparator = ">"
	GreaterEqual Comparator = ">="
	Equal        Comparator = "=="
	NotEqual     Comparator = "!="
)

// Rule is a parsed threshold expression bound to a metric.
type Rule struct {
	Metric     string
	Expression string
	Aggregator Aggregator
	// Percentile is set when Aggregator is AggPercentile.
	Percentile float64
	Comparator Comparator
	Literal    float64
}

// SyntaxError reports an expression that could not be parsed.
type SyntaxError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("threshold %q on %s: %s", e.Expression, e.Metric, e.Reason)
}

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|rate|count|p\(\s*(\d+(?:\.\d+)?)\s*\)|p(\d+(?:\.\d+)?))\s*` +
		`(<=|>=|==|!=|<|>)\s*` +
		`([-+]?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)\s*(ms|s|m|us|µs)?\s*$`)

// durationUnits converts duration literal suffixes to milliseconds.
var durationUnits = map[string]float64{
	"us": 0.001,
	"µs": 0.001,
	"ms": 1,
	"s":  1000,
	"m":  60000,
}

// Parse parses a single expression for metric.
func Parse(metric, expr string) (Rule, error) {
	match := exprPattern.FindStringSubmatch(expr)
	if match == nil {
		return Rule{}, &SyntaxError{Metric: metric, Expression: expr, Reason: "expected \"aggregator comparator value\""}
	}

	rule := Rule{
		Metric:     metric,
		Expression: strings.TrimSpace(expr),
		Comparator: Comparator(match[4]),
	}

	switch agg := match[1]; {
	case agg == "med":
		rule.Aggregator = AggPercentile
		rule.Percentile = 50
	case match[2] != "" || match[3] != "":
		raw := match[2]
		if raw == "" {
			raw = match[3]
		}
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 100 {
			return Rule{}, &SyntaxError{Metric: metric, Expression: expr, Reason: "percentile must be between 0 and 100"}
		}
		rule.Aggregator = AggPercentile
		rule.Percentile = p
	default:
		rule.Aggregator = Aggregator(agg)
	}

	literal, err := strconv.ParseFloat(match[5], 64)
	if err != nil {
		return Rule{}, &SyntaxError{Metric: metric, Expression: expr, Reason: "invalid literal"}
	}
	if unit := match[6]; unit != "" {
		literal *= durationUnits[unit]
	}
	rule.Literal = literal

	return rule, nil
}

// ParseAll parses every expression in thresholds, keyed by metric name.
// Rules are returned ordered by metric name, then declaration order.
func ParseAll(thresholds map[string][]string) ([]Rule, error) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var rules []Rule
	for _, name := range names {
		for _, expr := range thresholds[name] {
			rule, err := Parse(name, expr)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Applicable reports whether the rule's aggregator can be computed for kind.
func (r Rule) Applicable(kind metrics.Kind) bool {
	switch kind {
	case metrics.KindTrend:
		return r.Aggregator != AggRate
	case metrics.KindRate:
		return r.Aggregator == AggRate || r.Aggregator == AggCount
	case metrics.KindCounter:
		return r.Aggregator == AggRate || r.Aggregator == AggCount
	}
	return false
}

// AggregatorString renders the aggregator as written in expressions.
func (r Rule) AggregatorString() string {
	if r.Aggregator == AggPercentile {
		return fmt.Sprintf("p(%s)", strconv.FormatFloat(r.Percentile, 'f', -1, 64))
	}
	return string(r.Aggregator)
}

// CheckKinds verifies every rule whose metric has a known kind can be
// computed for that kind.
func CheckKinds(rules []Rule, kinds map[string]metrics.Kind) error {
	for _, rule := range rules {
		kind, ok := kinds[rule.Metric]
		if !ok {
			continue
		}
		if !rule.Applicable(kind) {
			return &SyntaxError{
				Metric:     rule.Metric,
				Expression: rule.Expression,
				Reason:     fmt.Sprintf("%s is not defined for a %s metric", rule.AggregatorString(), kind),
			}
		}
	}
	return nil
}

// Compare applies c to actual and literal.
func Compare(actual float64, c Comparator, literal float64) bool {
	switch c {
	case Less:
		return actual < literal
	case LessEqual:
		return actual <= literal
	case Greater:
		return actual > literal
	case GreaterEqual:
		return actual >= literal
	case Equal:
		return actual == literal
	case NotEqual:
		return actual != literal
	}
	return false
}
