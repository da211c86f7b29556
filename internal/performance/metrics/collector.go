package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Built-in metric names.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	GroupDuration     = "group_duration"
)

// BuiltinKinds maps every built-in metric to its kind.
var BuiltinKinds = map[string]Kind{
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	DataReceived:      KindCounter,
	Checks:            KindRate,
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	GroupDuration:     KindTrend,
}

// SubMetricName returns the name of the tagged sub-metric of name,
// e.g. http_req_duration{name:Login}.
func SubMetricName(name, tagKey, tagValue string) string {
	return fmt.Sprintf("%s{%s:%s}", name, tagKey, tagValue)
}

// SplitSubMetric splits a sub-metric name into its parent name and tag.
// Plain names return an empty tag.
func SplitSubMetric(name string) (parent, tagKey, tagValue string) {
	parent, rest, ok := strings.Cut(name, "{")
	if !ok || !strings.HasSuffix(rest, "}") {
		return name, "", ""
	}
	tagKey, tagValue, _ = strings.Cut(strings.TrimSuffix(rest, "}"), ":")
	return parent, tagKey, tagValue
}

// RequestRecord describes one completed request.
type RequestRecord struct {
	Tag      string
	Duration time.Duration
	Status   int
	Bytes    int64
	Err      error
}

// Failed reports whether the request counts towards http_req_failed:
// a transport error, a timeout, or a status of 400 or above.
func (r RequestRecord) Failed() bool {
	return r.Err != nil || r.Status >= 400 || r.Status == 0
}

// Collector owns every metric of a run.
//
// # Thread Safety
//
// Collector is safe for concurrent use. Metric lookup takes a read lock,
// counters and rates update atomically and trends lock individually.
// After Freeze the collector drops writes and counts them, which the
// engine reports as an internal failure.
type Collector struct {
	metrics   map[string]*Metric
	metricsMu sync.RWMutex

	checks   map[string]*checkStat
	checksMu sync.Mutex

	buckets *TimeBucketStore

	liveVUs atomic.Int32
	phase   atomic.Value

	frozen     atomic.Bool
	lateWrites atomic.Int64
	misuses    atomic.Int64
	lastMisuse atomic.Value

	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	c := &Collector{
		metrics:   make(map[string]*Metric),
		checks:    make(map[string]*checkStat),
		buckets:   NewTimeBucketStore(0),
		startTime: time.Now(),
	}
	c.phase.Store(PhaseIdle)
	return c
}

// get returns the metric called name, creating it with kind on first use.
// A kind mismatch is a misuse and returns nil.
func (c *Collector) get(name string, kind Kind) *Metric {
	c.metricsMu.RLock()
	m, ok := c.metrics[name]
	c.metricsMu.RUnlock()

	if !ok {
		c.metricsMu.Lock()
		m, ok = c.metrics[name]
		if !ok {
			m = newMetric(name, kind)
			c.metrics[name] = m
		}
		c.metricsMu.Unlock()
	}

	if m.Kind != kind {
		c.misuse(fmt.Errorf("metric %q is a %s, not a %s", name, m.Kind, kind))
		return nil
	}
	return m
}

// writable reports whether writes are still accepted.
func (c *Collector) writable() bool {
	if c.frozen.Load() {
		c.lateWrites.Add(1)
		return false
	}
	return true
}

func (c *Collector) misuse(err error) {
	c.misuses.Add(1)
	c.lastMisuse.Store(err.Error())
}

// AddCounter increments the counter called name.
func (c *Collector) AddCounter(name string, v float64) {
	if !c.writable() {
		return
	}
	m := c.get(name, KindCounter)
	if m == nil {
		return
	}
	if err := m.counter.Add(v); err != nil {
		c.misuse(fmt.Errorf("metric %q: %w", name, err))
	}
}

// AddRate records a boolean sample into the rate called name.
func (c *Collector) AddRate(name string, sample bool) {
	if !c.writable() {
		return
	}
	if m := c.get(name, KindRate); m != nil {
		m.rate.Add(sample)
	}
}

// AddTrend records a sample into the trend called name.
func (c *Collector) AddTrend(name string, v float64) {
	if !c.writable() {
		return
	}
	if m := c.get(name, KindTrend); m != nil {
		m.trend.Add(v)
	}
}

// RecordRequest updates every built-in request metric for rec.
func (c *Collector) RecordRequest(rec RequestRecord) {
	if !c.writable() {
		return
	}

	ms := durationMillis(rec.Duration)
	failed := rec.Failed()

	c.AddCounter(HTTPReqs, 1)
	c.AddTrend(HTTPReqDuration, ms)
	if rec.Tag != "" {
		c.AddTrend(SubMetricName(HTTPReqDuration, "name", rec.Tag), ms)
	}
	c.AddRate(HTTPReqFailed, failed)
	if rec.Bytes > 0 {
		c.AddCounter(DataReceived, float64(rec.Bytes))
	}

	c.buckets.RecordRequest(failed, rec.Bytes)
}

// RecordCheck records one check outcome into the checks rate and the
// per-check counts. reason is kept for the summary when the check fails.
func (c *Collector) RecordCheck(group, name string, passed bool, reason string) {
	if !c.writable() {
		return
	}
	c.AddRate(Checks, passed)

	key := group + "\x00" + name
	c.checksMu.Lock()
	defer c.checksMu.Unlock()

	cs, ok := c.checks[key]
	if !ok {
		cs = &checkStat{group: group, name: name}
		c.checks[key] = cs
	}
	if passed {
		cs.passes++
	} else {
		cs.fails++
		if reason != "" {
			cs.lastFailure = reason
		}
	}
}

// RecordIteration records one completed iteration.
func (c *Collector) RecordIteration(d time.Duration) {
	c.AddCounter(Iterations, 1)
	c.AddTrend(IterationDuration, durationMillis(d))
}

// RecordGroup records the wall time spent inside a group.
func (c *Collector) RecordGroup(path string, d time.Duration) {
	ms := durationMillis(d)
	c.AddTrend(GroupDuration, ms)
	c.AddTrend(SubMetricName(GroupDuration, "group", path), ms)
}

// Lookup returns the metric called name.
func (c *Collector) Lookup(name string) (*Metric, bool) {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	m, ok := c.metrics[name]
	return m, ok
}

// Names returns every metric name in sorted order.
func (c *Collector) Names() []string {
	c.metricsMu.RLock()
	names := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		names = append(names, name)
	}
	c.metricsMu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns every metric sorted by name.
func (c *Collector) Snapshot() []MetricSnapshot {
	names := c.Names()
	result := make([]MetricSnapshot, 0, len(names))
	for _, name := range names {
		if m, ok := c.Lookup(name); ok {
			result = append(result, m.Snapshot())
		}
	}
	return result
}

// CheckSnapshot holds the outcome counts of one named check.
type CheckSnapshot struct {
	Group       string `json:"group,omitempty"`
	Name        string `json:"name"`
	Passes      int64  `json:"passes"`
	Fails       int64  `json:"fails"`
	LastFailure string `json:"lastFailure,omitempty"`
}

type checkStat struct {
	group       string
	name        string
	passes      int64
	fails       int64
	lastFailure string
}

// CheckResults returns per-check counts ordered by group then name.
func (c *Collector) CheckResults() []CheckSnapshot {
	c.checksMu.Lock()
	result := make([]CheckSnapshot, 0, len(c.checks))
	for _, cs := range c.checks {
		result = append(result, CheckSnapshot{
			Group:       cs.group,
			Name:        cs.name,
			Passes:      cs.passes,
			Fails:       cs.fails,
			LastFailure: cs.lastFailure,
		})
	}
	c.checksMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// SetLiveVUs publishes the live worker count for progress reporting.
func (c *Collector) SetLiveVUs(n int) {
	c.liveVUs.Store(int32(n))
}

// LiveVUs returns the last published live worker count.
func (c *Collector) LiveVUs() int {
	return int(c.liveVUs.Load())
}

// SetPhase publishes the current load phase.
func (c *Collector) SetPhase(p Phase) {
	c.phase.Store(p)
}

// Phase returns the current load phase.
func (c *Collector) Phase() Phase {
	return c.phase.Load().(Phase)
}

// EmitBucket closes the current time-series interval.
func (c *Collector) EmitBucket() *TimeBucket {
	var stats TrendStats
	if m, ok := c.Lookup(HTTPReqDuration); ok && m.Kind == KindTrend {
		stats = m.trend.Stats()
	}
	return c.buckets.Emit(stats, c.LiveVUs(), c.Phase())
}

// TimeSeries returns the emitted buckets in chronological order.
func (c *Collector) TimeSeries() []*TimeBucket {
	return c.buckets.Buckets()
}

// LatestBucket returns the most recent bucket, or nil.
func (c *Collector) LatestBucket() *TimeBucket {
	return c.buckets.Latest()
}

// SteadyStateRPS returns the mean throughput over steady buckets.
func (c *Collector) SteadyStateRPS() (float64, int) {
	return c.buckets.SteadyStateRPS()
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// Freeze makes the collector read-only. Later writes are dropped and counted.
func (c *Collector) Freeze() {
	c.frozen.Store(true)
}

// Frozen reports whether Freeze was called.
func (c *Collector) Frozen() bool {
	return c.frozen.Load()
}

// LateWrites returns the number of writes dropped after Freeze.
func (c *Collector) LateWrites() int64 {
	return c.lateWrites.Load()
}

// Misuses returns the number of rejected writes (kind mismatches and
// invalid increments) and the most recent reason.
func (c *Collector) Misuses() (int64, string) {
	reason, _ := c.lastMisuse.Load().(string)
	return c.misuses.Load(), reason
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
