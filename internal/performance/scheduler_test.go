package performance_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

func storefrontStages() []performance.Stage {
	return []performance.Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: time.Minute, Target: 50},
		{Duration: 2 * time.Minute, Target: 50},
		{Duration: time.Minute, Target: 100},
		{Duration: 2 * time.Minute, Target: 100},
		{Duration: 30 * time.Second, Target: 0},
	}
}

func TestStageScheduler_CurrentTarget(t *testing.T) {
	s := performance.NewStageScheduler(0, storefrontStages(), 0, nil)

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{-time.Second, 0},
		{0, 0},
		{15 * time.Second, 5},
		{30 * time.Second, 10},
		{60 * time.Second, 30},
		{90 * time.Second, 50},
		{150 * time.Second, 50},
		{210 * time.Second, 50},
		{240 * time.Second, 75},
		{270 * time.Second, 100},
		{390 * time.Second, 100},
		{405 * time.Second, 50},
		{420 * time.Second, 0},
		{time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			if got := s.CurrentTarget(tt.elapsed); got != tt.want {
				t.Errorf("CurrentTarget(%v) = %d, want %d", tt.elapsed, got, tt.want)
			}
		})
	}

	if got := s.TotalDuration(); got != 7*time.Minute {
		t.Errorf("TotalDuration() = %v, want 7m", got)
	}
}

func TestStageScheduler_CurrentTarget_RoundsHalfUp(t *testing.T) {
	s := performance.NewStageScheduler(0, []performance.Stage{{Duration: 4 * time.Second, Target: 1}}, 0, nil)

	assert.Equal(t, 0, s.CurrentTarget(time.Second))
	assert.Equal(t, 1, s.CurrentTarget(2*time.Second))
	assert.Equal(t, 1, s.CurrentTarget(3*time.Second))
}

func TestStageScheduler_StartTarget(t *testing.T) {
	s := performance.NewStageScheduler(20, []performance.Stage{{Duration: 10 * time.Second, Target: 10}}, 0, nil)

	assert.Equal(t, 20, s.CurrentTarget(0))
	assert.Equal(t, 15, s.CurrentTarget(5*time.Second))
	assert.Equal(t, 10, s.CurrentTarget(10*time.Second))
}

func TestStageScheduler_ZeroDurationStage(t *testing.T) {
	s := performance.NewStageScheduler(0, []performance.Stage{
		{Duration: 0, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
	}, 0, nil)

	assert.Equal(t, 10, s.CurrentTarget(0))
	assert.Equal(t, 10, s.CurrentTarget(5*time.Second))
}

func TestStageScheduler_StageAt(t *testing.T) {
	s := performance.NewStageScheduler(0, storefrontStages(), 0, nil)

	tests := []struct {
		elapsed time.Duration
		idx     int
		phase   metrics.Phase
	}{
		{0, 0, metrics.PhaseRampUp},
		{45 * time.Second, 1, metrics.PhaseRampUp},
		{100 * time.Second, 2, metrics.PhaseSteady},
		{300 * time.Second, 4, metrics.PhaseSteady},
		{400 * time.Second, 5, metrics.PhaseRampDown},
		{time.Hour, 5, metrics.PhaseRampDown},
	}

	for _, tt := range tests {
		idx, phase := s.StageAt(tt.elapsed)
		assert.Equal(t, tt.idx, idx, "stage at %v", tt.elapsed)
		assert.Equal(t, tt.phase, phase, "phase at %v", tt.elapsed)
	}
}

func busyScenario() performance.Scenario {
	return performance.Scenario{
		Name:   "busy",
		Weight: 1,
		Steps: []performance.Step{{
			Name:  "get",
			Pause: 5 * time.Millisecond,
			Run: func(it *performance.Iteration) error {
				it.Get("Home", "/")
				return nil
			},
		}},
	}
}

func TestStageScheduler_PlateauHoldsTarget(t *testing.T) {
	requester, _ := staticRequester(200, `{}`, 0)
	rt := newTestRuntime(t, requester, busyScenario())

	s := performance.NewStageScheduler(0, []performance.Stage{
		{Duration: 100 * time.Millisecond, Target: 50},
		{Duration: 600 * time.Millisecond, Target: 50},
	}, 20*time.Millisecond, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), rt) }()

	// sample across the plateau
	time.Sleep(250 * time.Millisecond)
	for i := 0; i < 10; i++ {
		live := s.LiveVUs()
		if live < 49 || live > 51 {
			t.Errorf("LiveVUs() = %d during plateau, want 50±1", live)
		}
		assert.Equal(t, live, rt.Metrics.LiveVUs())
		time.Sleep(30 * time.Millisecond)
	}

	require.NoError(t, <-done)
	assert.Equal(t, 50, s.LiveVUs())
	assert.Equal(t, 50, s.TargetVUs())

	s.Drain(rt, time.Second)
	assert.Equal(t, 0, s.ActiveVUs())
	assert.Equal(t, 0, s.LiveVUs())
	assert.Equal(t, metrics.PhaseDraining, rt.Metrics.Phase())
	assert.Greater(t, counterValue(t, rt.Metrics, metrics.Iterations), 0.0)
}

func TestStageScheduler_EndTargetExact(t *testing.T) {
	requester, _ := staticRequester(200, `{}`, 0)
	rt := newTestRuntime(t, requester, busyScenario())

	// a tick longer than the whole run: only the end timer can set the
	// final target
	s := performance.NewStageScheduler(0, []performance.Stage{
		{Duration: 150 * time.Millisecond, Target: 7},
	}, time.Hour, nil)

	require.NoError(t, s.Run(context.Background(), rt))
	assert.Equal(t, 7, s.LiveVUs())
	assert.Equal(t, 7, s.TargetVUs())

	s.Drain(rt, time.Second)
	assert.Equal(t, 0, s.ActiveVUs())
}

func TestStageScheduler_RampDownRetiresVUs(t *testing.T) {
	requester, _ := staticRequester(200, `{}`, 0)
	rt := newTestRuntime(t, requester, busyScenario())

	s := performance.NewStageScheduler(10, []performance.Stage{
		{Duration: 200 * time.Millisecond, Target: 0},
	}, 10*time.Millisecond, nil)

	require.NoError(t, s.Run(context.Background(), rt))
	assert.Equal(t, 0, s.LiveVUs())

	deadline := time.Now().Add(time.Second)
	for s.ActiveVUs() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, s.ActiveVUs(), "retired VUs must exit on their own")
	s.Drain(rt, time.Second)
}

func TestStageScheduler_Cancel(t *testing.T) {
	requester, _ := staticRequester(200, `{}`, 0)
	rt := newTestRuntime(t, requester, busyScenario())

	s := performance.NewStageScheduler(5, []performance.Stage{{Duration: time.Hour, Target: 5}}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := s.Run(ctx, rt)
	assert.ErrorIs(t, err, context.Canceled)

	s.Drain(rt, time.Second)
	assert.Equal(t, 0, s.ActiveVUs())
}

func TestStageScheduler_DrainWaitsForInFlightRequest(t *testing.T) {
	var started atomic.Bool
	var completed atomic.Bool
	requester := performance.RequesterFunc(func(ctx context.Context, req *performance.Request) *performance.Response {
		if started.CompareAndSwap(false, true) {
			time.Sleep(300 * time.Millisecond)
			completed.Store(ctx.Err() == nil)
		}
		return &performance.Response{Status: 200, Body: []byte(`{}`)}
	})
	rt := newTestRuntime(t, requester, busyScenario())

	s := performance.NewStageScheduler(1, []performance.Stage{{Duration: 50 * time.Millisecond, Target: 1}}, 10*time.Millisecond, nil)

	require.NoError(t, s.Run(context.Background(), rt))
	require.True(t, started.Load())

	// a grace period shorter than the request still waits for it
	s.Drain(rt, 10*time.Millisecond)
	assert.True(t, completed.Load(), "in-flight request must complete before drain returns")
	assert.Equal(t, 0, s.ActiveVUs())
}
