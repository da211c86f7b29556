package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// StageScheduler ramps the number of live virtual users through a list of
// stages.
//
// Targets are linearly interpolated within each stage, starting from the
// previous stage's target (or the start target for the first stage), and
// rounded half-up:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
//
// The scheduler goroutine is the only writer of the VU pool. Surplus VUs are
// retired cooperatively, newest first.
type StageScheduler struct {
	startTarget int
	stages      []Stage
	tick        time.Duration
	logger      *zap.Logger

	// VU tracking, owned by the Run goroutine
	vus    []*VirtualUser
	nextID int
	wg     sync.WaitGroup

	// State published for progress reporting
	startTime    atomic.Int64
	liveVUs      atomic.Int32
	targetVUs    atomic.Int32
	activeVUs    atomic.Int32
	currentStage atomic.Int32
}

// NewStageScheduler creates a scheduler. A tick <= 0 uses DefaultTick.
func NewStageScheduler(startTarget int, stages []Stage, tick time.Duration, logger *zap.Logger) *StageScheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	s := &StageScheduler{
		startTarget: startTarget,
		stages:      append([]Stage(nil), stages...),
		tick:        tick,
		logger:      nopIfNil(logger),
	}
	s.currentStage.Store(-1)
	return s
}

// TotalDuration returns the sum of every stage duration.
func (s *StageScheduler) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range s.stages {
		total += stage.Duration
	}
	return total
}

// CurrentTarget returns the target VU count at elapsed.
func (s *StageScheduler) CurrentTarget(elapsed time.Duration) int {
	if elapsed < 0 {
		return s.startTarget
	}

	var stageStart time.Duration
	prevTarget := s.startTarget

	for _, stage := range s.stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			// Calculate progress within this stage (0.0 to 1.0)
			progress := float64(elapsed-stageStart) / float64(stage.Duration)

			// Linear interpolation between previous and current target
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5) // Round half-up
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	// Past all stages - return last target
	return prevTarget
}

// StageAt returns the index of the stage containing elapsed and its phase.
// Past the last stage it returns the last index.
func (s *StageScheduler) StageAt(elapsed time.Duration) (int, metrics.Phase) {
	var stageStart time.Duration
	for i, stage := range s.stages {
		prevTarget := s.startTarget
		if i > 0 {
			prevTarget = s.stages[i-1].Target
		}

		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd || i == len(s.stages)-1 {
			switch {
			case stage.Target > prevTarget:
				return i, metrics.PhaseRampUp
			case stage.Target < prevTarget:
				return i, metrics.PhaseRampDown
			default:
				return i, metrics.PhaseSteady
			}
		}
		stageStart = stageEnd
	}
	return 0, metrics.PhaseIdle
}

// Run drives the VU pool until the last stage ends or ctx is cancelled.
// It does not wait for VUs to exit; call Drain for that.
//
// Returns:
//   - nil when every stage completed
//   - ctx.Err() when the run was cancelled
func (s *StageScheduler) Run(ctx context.Context, rt *Runtime) error {
	start := time.Now()
	s.startTime.Store(start.UnixNano())

	s.apply(ctx, rt, 0)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// The end timer sets the declared final target regardless of tick
	// alignment.
	end := time.NewTimer(s.TotalDuration())
	defer end.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-end.C:
			s.apply(ctx, rt, s.TotalDuration())
			s.logger.Info("all stages complete",
				zap.Int("target", int(s.targetVUs.Load())),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		case <-ticker.C:
			s.apply(ctx, rt, time.Since(start))
		}
	}
}

// apply recomputes the target for elapsed and resizes the pool.
func (s *StageScheduler) apply(ctx context.Context, rt *Runtime, elapsed time.Duration) {
	target := s.CurrentTarget(elapsed)
	s.targetVUs.Store(int32(target))

	idx, phase := s.StageAt(elapsed)
	if prev := s.currentStage.Swap(int32(idx)); prev != int32(idx) && idx < len(s.stages) {
		s.logger.Info("stage started",
			zap.Int("stage", idx),
			zap.String("name", s.stages[idx].Name),
			zap.Int("target", s.stages[idx].Target),
			zap.String("phase", string(phase)))
	}

	s.adjustVUs(ctx, rt, target)
	rt.Metrics.SetPhase(phase)
}

// adjustVUs adjusts the VU count to match the target.
func (s *StageScheduler) adjustVUs(ctx context.Context, rt *Runtime, target int) {
	current := len(s.vus)

	if target > current {
		// Spawn new VUs
		for i := current; i < target; i++ {
			s.nextID++
			vu := NewVirtualUser(s.nextID, rt)
			s.vus = append(s.vus, vu)
			s.wg.Add(1)
			go s.runVU(ctx, vu)
		}
	} else if target < current {
		// Stop excess VUs (from the end)
		for i := current - 1; i >= target; i-- {
			s.vus[i].RequestStop()
		}
		s.vus = s.vus[:target]
	}

	s.liveVUs.Store(int32(len(s.vus)))
	rt.Metrics.SetLiveVUs(len(s.vus))
}

// runVU runs a single VU until stopped.
func (s *StageScheduler) runVU(ctx context.Context, vu *VirtualUser) {
	defer s.wg.Done()

	s.activeVUs.Add(1)
	defer s.activeVUs.Add(-1)

	vu.Run(ctx)
}

// Drain asks every VU to stop and waits for all of them to exit. A warning
// is logged if they are still running after gracefulStop; draining keeps
// waiting regardless, so no in-flight request is abandoned.
func (s *StageScheduler) Drain(rt *Runtime, gracefulStop time.Duration) {
	for _, vu := range s.vus {
		vu.RequestStop()
	}
	s.vus = nil
	s.liveVUs.Store(0)
	rt.Metrics.SetLiveVUs(0)
	rt.Metrics.SetPhase(metrics.PhaseDraining)

	if gracefulStop <= 0 {
		gracefulStop = DefaultGracefulStop
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(gracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		s.logger.Warn("virtual users still running after graceful stop period",
			zap.Int("running", int(s.activeVUs.Load())),
			zap.Duration("gracefulStop", gracefulStop))
	}
	<-done
}

// LiveVUs returns the number of VUs in the pool, excluding retiring ones.
func (s *StageScheduler) LiveVUs() int {
	return int(s.liveVUs.Load())
}

// ActiveVUs returns the number of VU goroutines still running, including
// retiring ones.
func (s *StageScheduler) ActiveVUs() int {
	return int(s.activeVUs.Load())
}

// TargetVUs returns the most recently computed target.
func (s *StageScheduler) TargetVUs() int {
	return int(s.targetVUs.Load())
}

// CurrentStage returns the index of the current stage.
func (s *StageScheduler) CurrentStage() int {
	return int(s.currentStage.Load())
}

// Stages returns the number of stages.
func (s *StageScheduler) Stages() int {
	return len(s.stages)
}

// Elapsed returns the time since Run started, or 0 before.
func (s *StageScheduler) Elapsed() time.Duration {
	start := s.startTime.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Progress returns elapsed time as a fraction of the total duration.
func (s *StageScheduler) Progress() float64 {
	total := s.TotalDuration()
	if total <= 0 {
		return 1
	}
	p := float64(s.Elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}
