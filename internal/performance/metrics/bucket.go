package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the load shape the scheduler is in when a bucket is emitted.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
)

// TimeBucket captures one interval of the live time series.
//
// Totals are cumulative since the run started; interval fields only cover
// the time since the previous bucket.
type TimeBucket struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalRequests     int64     `json:"totalRequests"`
	TotalFailures     int64     `json:"totalFailures"`
	IntervalRequests  int64     `json:"intervalRequests"`
	IntervalRPS       float64   `json:"intervalRps"`
	IntervalErrorRate float64   `json:"intervalErrorRate"`
	IntervalBytes     int64     `json:"intervalBytes"`
	DurationP95       float64   `json:"durationP95"`
	DurationAvg       float64   `json:"durationAvg"`
	LiveVUs           int       `json:"liveVUs"`
	Phase             Phase     `json:"phase"`
}

// TimeBucketStore keeps the most recent buckets in a ring buffer.
//
// Requests are accumulated lock-free into the current interval and folded
// into a bucket by Emit, which the run loop calls once per interval.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
	currentBytes    atomic.Int64
	totalRequests   atomic.Int64
	totalFailures   atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
// A non-positive size keeps one hour of one-second buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds one request to the current interval.
func (tbs *TimeBucketStore) RecordRequest(failed bool, bytes int64) {
	tbs.currentRequests.Add(1)
	tbs.totalRequests.Add(1)
	tbs.currentBytes.Add(bytes)
	if failed {
		tbs.currentFailures.Add(1)
		tbs.totalFailures.Add(1)
	}
}

// Emit closes the current interval and appends it as a bucket.
func (tbs *TimeBucketStore) Emit(duration TrendStats, liveVUs int, phase Phase) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	requests := tbs.currentRequests.Swap(0)
	failures := tbs.currentFailures.Swap(0)
	bytes := tbs.currentBytes.Swap(0)

	interval := now.Sub(tbs.lastBucketTime).Seconds()
	if interval <= 0 {
		interval = 1.0
	}

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(failures) / float64(requests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     tbs.totalRequests.Load(),
		TotalFailures:     tbs.totalFailures.Load(),
		IntervalRequests:  requests,
		IntervalRPS:       float64(requests) / interval,
		IntervalErrorRate: errorRate,
		IntervalBytes:     bytes,
		DurationP95:       duration.P95,
		DurationAvg:       duration.Avg,
		LiveVUs:           liveVUs,
		Phase:             phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// Buckets returns the retained buckets in chronological order.
func (tbs *TimeBucketStore) Buckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// Latest returns the most recent bucket, or nil if none were emitted.
func (tbs *TimeBucketStore) Latest() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// SteadyStateRPS averages interval throughput over steady buckets only.
// The second return value is the number of buckets averaged.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range tbs.Buckets() {
		if b.Phase == PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
