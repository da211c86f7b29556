// Package rate caps the global request rate of a run.
package rate

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every virtual user.
//
// A nil *Limiter is valid and never blocks, so callers need no branch for
// unlimited runs.
//
// # Thread Safety
//
// Limiter is safe for concurrent use from multiple goroutines.
type Limiter struct {
	limiter *rate.Limiter

	// Metrics
	totalWaits    atomic.Int64 // Total calls to Wait
	totalWaitTime atomic.Int64 // Total wait time in nanoseconds
}

// New returns a limiter allowing rps requests per second with the given
// burst. rps <= 0 returns nil (unlimited).
func New(rps float64, burst int) *Limiter {
	if rps <= 0 || math.IsNaN(rps) {
		return nil
	}
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(rps/10)))
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until one request may be sent or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	start := time.Now()
	err := l.limiter.Wait(ctx)
	l.totalWaits.Add(1)
	l.totalWaitTime.Add(int64(time.Since(start)))
	return err
}

// SetRate changes the rate. The bucket keeps its current tokens.
func (l *Limiter) SetRate(rps float64) {
	if l == nil || rps <= 0 {
		return
	}
	l.limiter.SetLimit(rate.Limit(rps))
}

// Rate returns the configured requests per second, or 0 when unlimited.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return l.limiter.Burst()
}

// Stats returns statistics about the limiter's operation.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Rate:          l.Rate(),
		Burst:         l.Burst(),
		TotalWaits:    l.totalWaits.Load(),
		TotalWaitTime: time.Duration(l.totalWaitTime.Load()),
	}
}

// Stats contains statistics about the limiter.
type Stats struct {
	Rate          float64       `json:"rate"`          // Requests per second
	Burst         int           `json:"burst"`         // Bucket size
	TotalWaits    int64         `json:"totalWaits"`    // Requests that went through Wait
	TotalWaitTime time.Duration `json:"totalWaitTime"` // Total time spent waiting
}
