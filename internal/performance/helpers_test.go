package performance_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// staticRequester answers every request with status and body, after delay.
func staticRequester(status int, body string, delay time.Duration) (performance.Requester, *atomic.Int64) {
	var calls atomic.Int64
	return performance.RequesterFunc(func(ctx context.Context, req *performance.Request) *performance.Response {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return &performance.Response{
			Status:   status,
			Headers:  http.Header{"Content-Type": []string{"application/json"}},
			Body:     []byte(body),
			Duration: delay,
		}
	}), &calls
}

// newTestRuntime builds a runtime around a single scenario.
func newTestRuntime(t *testing.T, requester performance.Requester, scenario performance.Scenario) *performance.Runtime {
	t.Helper()

	reg := performance.NewRegistry()
	if err := reg.Add(scenario); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	sel, err := performance.NewSelector(reg)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	return &performance.Runtime{
		Selector:  sel,
		Metrics:   metrics.NewCollector(),
		Requester: requester,
		Setup:     performance.EmptySetup(),
		Settings:  performance.Settings{BaseURL: "http://target.test"}.WithDefaults(),
		Logger:    zap.NewNop(),
	}
}

func rateCounts(t *testing.T, c *metrics.Collector, name string) (trues, total int64) {
	t.Helper()
	m, ok := c.Lookup(name)
	if !ok {
		return 0, 0
	}
	if m.Rate() == nil {
		t.Fatalf("metric %s is not a rate", name)
	}
	return m.Rate().Counts()
}

func counterValue(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	m, ok := c.Lookup(name)
	if !ok {
		return 0
	}
	return m.Counter().Value()
}
