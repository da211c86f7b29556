package performance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client. It repeatedly draws a scenario and
// runs its steps until asked to stop.
//
// The stop request is only observed between iterations: an iteration in
// progress always runs to completion, with its remaining pauses skipped.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	rt  *Runtime
	rng *rand.Rand

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Stop signal
	stopCh chan struct{}

	// Done signal (closed when VU fully stops)
	doneCh chan struct{}

	// Iteration counter
	iteration atomic.Int64
}

// NewVirtualUser creates a virtual user with its own random source.
func NewVirtualUser(id int, rt *Runtime) *VirtualUser {
	seed := uint64(time.Now().UnixNano())
	return &VirtualUser{
		ID:     id,
		rt:     rt,
		rng:    rand.New(rand.NewPCG(seed, uint64(id))),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Stopping reports whether the VU has been asked to stop.
func (vu *VirtualUser) Stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// Run executes iterations until RequestStop is called or ctx is done.
// Both are checked only at the top of the loop.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
		scenario := vu.rt.Selector.Select(vu.rng)
		vu.RunIteration(ctx, scenario)
	}
}

// RunIteration executes one iteration of scenario and records it.
//
// Returns:
//   - nil if every step completed
//   - the step error if a step ended the iteration early
func (vu *VirtualUser) RunIteration(ctx context.Context, scenario *Scenario) (err error) {
	number := vu.iteration.Add(1)
	it := newIteration(ctx, vu, scenario, number)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scenario %s: %v", scenario.Name, r)
			vu.rt.Logger.Error("recovered panic in step",
				zap.Int("vu", vu.ID),
				zap.String("scenario", scenario.Name),
				zap.Any("panic", r))
		}
		if err != nil {
			vu.rt.Metrics.AddRate(vu.rt.Settings.ErrorMetric, true)
		}

		elapsed := time.Since(start)
		if vu.rt.Settings.ExcludePacing {
			elapsed -= it.Paused()
		}
		vu.rt.Metrics.RecordIteration(elapsed)
	}()

	for _, step := range scenario.Steps {
		if err := step.Run(it); err != nil {
			if !errors.Is(err, ErrAbortIteration) {
				err = fmt.Errorf("step %s: %w", step.Name, err)
			}
			vu.rt.Logger.Debug("iteration aborted",
				zap.Int("vu", vu.ID),
				zap.String("scenario", scenario.Name),
				zap.String("step", step.Name),
				zap.Error(err))
			return err
		}

		pause := step.Pause
		if step.Jitter > 0 {
			pause += time.Duration(vu.rng.Int64N(int64(step.Jitter)))
		}
		it.Sleep(pause)
	}
	return nil
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Done is closed once the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// markStopped marks the VU as fully stopped.
func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
		// Already closed
	default:
		close(vu.doneCh)
	}
}
