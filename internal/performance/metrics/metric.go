// Package metrics provides concurrent-safe metric accumulation for load runs.
//
// Three metric kinds are supported:
//   - Counter: a monotonic float sum
//   - Rate: the fraction of boolean samples that were true
//   - Trend: numeric samples summarised by min, max, mean and percentiles
//
// Metrics are created lazily by name on first use through a Collector.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Kind identifies the accumulation semantics of a metric.
type Kind int

const (
	// KindCounter sums non-negative increments.
	KindCounter Kind = iota
	// KindRate tracks the fraction of true samples.
	KindRate
	// KindTrend tracks the distribution of numeric samples.
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so written summaries
// can be read back.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "counter":
		*k = KindCounter
	case "rate":
		*k = KindRate
	case "trend":
		*k = KindTrend
	default:
		return fmt.Errorf("unknown metric kind %q", text)
	}
	return nil
}

// ErrNegativeIncrement is returned when a counter is decremented.
var ErrNegativeIncrement = errors.New("counter increment must be non-negative")

// Counter is a monotonic float sum. The zero value is ready to use.
type Counter struct {
	bits atomic.Uint64
	adds atomic.Int64
}

// Add increments the counter by v. Negative or NaN increments are rejected.
func (c *Counter) Add(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return ErrNegativeIncrement
	}
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if c.bits.CompareAndSwap(old, next) {
			c.adds.Add(1)
			return nil
		}
	}
}

// Value returns the current sum.
func (c *Counter) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Adds returns how many increments were accepted, zero increments included.
func (c *Counter) Adds() int64 {
	return c.adds.Load()
}

// Rate tracks boolean samples with exact integer counts.
// The zero value is ready to use.
type Rate struct {
	trues atomic.Int64
	total atomic.Int64
}

// Add records one sample.
func (r *Rate) Add(sample bool) {
	if sample {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

// Counts returns the number of true samples and the total number of samples.
func (r *Rate) Counts() (trues, total int64) {
	// total is loaded first so that trues never exceeds it in a live read
	total = r.total.Load()
	trues = r.trues.Load()
	if trues > total {
		trues = total
	}
	return trues, total
}

// Value returns trues/total, or 0 when no samples were recorded.
func (r *Rate) Value() float64 {
	trues, total := r.Counts()
	if total == 0 {
		return 0
	}
	return float64(trues) / float64(total)
}

// Trend histogram bounds, in thousandths of a sample unit. With millisecond
// samples this covers 1µs to 1h, the same range the latency histograms use.
const (
	trendScale        = 1000.0
	trendHistogramMin = 1
	trendHistogramMax = 3_600_000_000
	trendSigFigs      = 3
)

// Trend records numeric samples.
//
// Samples inside the histogram range go to an HDR histogram with 3
// significant figures, so any reported percentile is within 0.1% of the
// exact order statistic. Zeros are counted, and every other sample outside
// the range (negative, below 0.0005 or above 3.6e6) is kept exactly. Min,
// max, sum and count are tracked exactly, which makes Percentile(0) and
// Percentile(100) exact.
type Trend struct {
	mu     sync.Mutex
	hist   *hdrhistogram.Histogram
	below  []float64
	above  []float64
	zeros  int64
	sorted bool
	min    float64
	max    float64
	sum    float64
	count  int64
}

// NewTrend creates an empty trend.
func NewTrend() *Trend {
	return &Trend{
		hist:   hdrhistogram.New(trendHistogramMin, trendHistogramMax, trendSigFigs),
		sorted: true,
	}
}

// Add records one sample. NaN samples are ignored.
func (t *Trend) Add(v float64) {
	if math.IsNaN(v) {
		return
	}

	// hdrhistogram is not safe for concurrent use
	t.mu.Lock()
	defer t.mu.Unlock()

	scaled := math.Round(v * trendScale)
	switch {
	case v == 0:
		t.zeros++
	case scaled < trendHistogramMin:
		t.below = append(t.below, v)
		t.sorted = false
	case scaled > trendHistogramMax:
		t.above = append(t.above, v)
		t.sorted = false
	default:
		_ = t.hist.RecordValue(int64(scaled))
	}

	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.sum += v
	t.count++
}

// Count returns the number of samples.
func (t *Trend) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Percentile returns the p-th percentile (0..100) of the recorded samples.
// p <= 0 returns the exact minimum and p >= 100 the exact maximum.
// An empty trend returns 0.
func (t *Trend) Percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentileLocked(p)
}

func (t *Trend) percentileLocked(p float64) float64 {
	if t.count == 0 {
		return 0
	}
	if p <= 0 {
		return t.min
	}
	if p >= 100 {
		return t.max
	}

	if !t.sorted {
		sort.Float64s(t.below)
		sort.Float64s(t.above)
		t.sorted = true
	}

	// 1-based rank of the sample at p, walked through the regions in
	// ascending order: negatives, zeros, tiny positives, histogram, above.
	rank := int64(math.Ceil(p / 100 * float64(t.count)))
	if rank < 1 {
		rank = 1
	}

	negatives := int64(sort.SearchFloat64s(t.below, 0))
	tiny := int64(len(t.below)) - negatives
	inRange := t.hist.TotalCount()

	switch {
	case rank <= negatives:
		return t.below[rank-1]
	case rank <= negatives+t.zeros:
		return 0
	case rank <= negatives+t.zeros+tiny:
		return t.below[rank-t.zeros-1]
	case rank <= negatives+t.zeros+tiny+inRange:
		r := rank - negatives - t.zeros - tiny
		v := float64(t.hist.ValueAtQuantile(float64(r)/float64(inRange)*100)) / trendScale
		return math.Min(math.Max(v, t.min), t.max)
	}

	r := rank - negatives - t.zeros - tiny - inRange
	if r > int64(len(t.above)) {
		return t.max
	}
	return t.above[r-1]
}

// Stats returns a summary of the trend.
func (t *Trend) Stats() TrendStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TrendStats{Count: t.count}
	if t.count == 0 {
		return stats
	}
	stats.Min = t.min
	stats.Max = t.max
	stats.Avg = t.sum / float64(t.count)
	stats.Med = t.percentileLocked(50)
	stats.P90 = t.percentileLocked(90)
	stats.P95 = t.percentileLocked(95)
	stats.P99 = t.percentileLocked(99)
	return stats
}

// Merge folds other's samples into t. The result does not depend on the
// order in which trends are merged.
func (t *Trend) Merge(other *Trend) {
	if other == nil || other == t {
		return
	}

	other.mu.Lock()
	snapshot := hdrhistogram.Import(other.hist.Export())
	below := append([]float64(nil), other.below...)
	above := append([]float64(nil), other.above...)
	oZeros := other.zeros
	oMin, oMax, oSum, oCount := other.min, other.max, other.sum, other.count
	other.mu.Unlock()

	if oCount == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.hist.Merge(snapshot)
	t.below = append(t.below, below...)
	t.above = append(t.above, above...)
	t.zeros += oZeros
	t.sorted = false
	if t.count == 0 || oMin < t.min {
		t.min = oMin
	}
	if t.count == 0 || oMax > t.max {
		t.max = oMax
	}
	t.sum += oSum
	t.count += oCount
}

// TrendStats summarises a trend. Values carry the unit of the samples,
// milliseconds for every built-in duration trend.
type TrendStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Med   float64 `json:"med"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Metric is a named accumulator of one kind.
type Metric struct {
	Name string
	Kind Kind

	counter *Counter
	rate    *Rate
	trend   *Trend
}

func newMetric(name string, kind Kind) *Metric {
	m := &Metric{Name: name, Kind: kind}
	switch kind {
	case KindCounter:
		m.counter = &Counter{}
	case KindRate:
		m.rate = &Rate{}
	case KindTrend:
		m.trend = NewTrend()
	}
	return m
}

// Counter returns the underlying counter, or nil for other kinds.
func (m *Metric) Counter() *Counter { return m.counter }

// Rate returns the underlying rate, or nil for other kinds.
func (m *Metric) Rate() *Rate { return m.rate }

// Trend returns the underlying trend, or nil for other kinds.
func (m *Metric) Trend() *Trend { return m.trend }

// Samples returns how many samples the metric has received. For a counter
// that is the number of increments, independent of their size.
func (m *Metric) Samples() int64 {
	switch m.Kind {
	case KindCounter:
		return m.counter.Adds()
	case KindRate:
		_, total := m.rate.Counts()
		return total
	case KindTrend:
		return m.trend.Count()
	}
	return 0
}

// Snapshot returns a point-in-time copy of the metric.
func (m *Metric) Snapshot() MetricSnapshot {
	s := MetricSnapshot{Name: m.Name, Kind: m.Kind}
	switch m.Kind {
	case KindCounter:
		s.Value = m.counter.Value()
		s.Count = m.counter.Adds()
	case KindRate:
		s.Passes, s.Count = m.rate.Counts()
		s.Fails = s.Count - s.Passes
		s.Value = m.rate.Value()
	case KindTrend:
		stats := m.trend.Stats()
		s.Trend = &stats
		s.Count = stats.Count
		s.Value = stats.Avg
	}
	return s
}

// MetricSnapshot is a read-only view of a metric.
//
// Value is the counter sum, the rate fraction, or the trend mean.
// Passes and Fails are only set for rates.
type MetricSnapshot struct {
	Name   string      `json:"name"`
	Kind   Kind        `json:"kind"`
	Value  float64     `json:"value"`
	Count  int64       `json:"count"`
	Passes int64       `json:"passes,omitempty"`
	Fails  int64       `json:"fails,omitempty"`
	Trend  *TrendStats `json:"trend,omitempty"`
}
