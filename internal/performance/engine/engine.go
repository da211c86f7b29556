// Package engine runs a test plan through its lifecycle and renders the
// verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/rate"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// ErrAborted is the cancellation cause set by Engine.Abort.
var ErrAborted = errors.New("run aborted")

// Options configures an Engine.
type Options struct {
	// Requester sends requests. Defaults to an HTTPRequester with
	// DefaultHTTPClientConfig and the plan timeout.
	Requester performance.Requester

	// Collector receives the run's metrics. Defaults to a new collector;
	// pass one to expose it (e.g. to Prometheus) before Run starts.
	Collector *metrics.Collector

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// BucketInterval is the time-series resolution. Defaults to 1s.
	BucketInterval time.Duration

	// OnStateChange is called synchronously on every lifecycle transition.
	OnStateChange func(State)
}

// Engine is the orchestrator of one run.
//
// It coordinates:
//   - Setup, exactly once before any virtual user
//   - The stage scheduler and its virtual users
//   - Draining and teardown, exactly once after the last virtual user
//   - Threshold evaluation over the frozen metrics
//
// Example usage:
//
//	eng, _ := engine.New(plan, engine.Options{Logger: logger})
//	summary, err := eng.Run(context.Background())
//	fmt.Println(summary.Verdict)
type Engine struct {
	plan      *performance.Plan
	settings  performance.Settings
	rules     []threshold.Rule
	opts      Options
	logger    *zap.Logger
	collector *metrics.Collector
	scheduler *performance.StageScheduler

	state   atomic.Int32
	mu      sync.Mutex
	started bool
	cancel  context.CancelCauseFunc
}

// New validates plan and parses its thresholds.
func New(plan *performance.Plan, opts Options) (*Engine, error) {
	if plan == nil {
		return nil, errors.New("plan is required")
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	settings := plan.Settings.WithDefaults()

	rules, err := threshold.ParseAll(plan.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if err := threshold.CheckKinds(rules, knownKinds(rules, settings.ErrorMetric)); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector()
	}
	if opts.Requester == nil {
		cfg := performance.DefaultHTTPClientConfig()
		opts.Requester = performance.NewHTTPRequester(cfg)
	}
	if opts.BucketInterval <= 0 {
		opts.BucketInterval = time.Second
	}

	return &Engine{
		plan:      plan,
		settings:  settings,
		rules:     rules,
		opts:      opts,
		logger:    opts.Logger,
		collector: opts.Collector,
		scheduler: performance.NewStageScheduler(plan.StartTarget, plan.Stages, settings.Tick, opts.Logger),
	}, nil
}

// knownKinds returns the kinds of every built-in metric, the error metric
// and their tagged sub-metrics referenced by rules.
func knownKinds(rules []threshold.Rule, errorMetric string) map[string]metrics.Kind {
	kinds := make(map[string]metrics.Kind, len(metrics.BuiltinKinds)+1)
	for name, kind := range metrics.BuiltinKinds {
		kinds[name] = kind
	}
	kinds[errorMetric] = metrics.KindRate

	for _, rule := range rules {
		parent, _, _ := metrics.SplitSubMetric(rule.Metric)
		if kind, ok := kinds[parent]; ok {
			kinds[rule.Metric] = kind
		}
	}
	return kinds
}

// Run executes the plan and returns its summary.
//
// A summary is returned whenever the run got past INIT. The error is a
// *RunError for setup and internal failures; a failed threshold is a FAIL
// verdict, not an error. Cancelling ctx aborts the run: virtual users
// drain, teardown runs, and the verdict is ABORTED.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, errors.New("engine has already run")
	}
	e.started = true
	runCtx, cancel := context.WithCancelCause(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel(nil)

	summary := &Summary{
		RunID:     uuid.NewString(),
		Name:      e.plan.Name,
		StartTime: time.Now(),
	}
	log := e.logger.With(zap.String("run", summary.RunID))

	// SETUP
	e.transition(StateSetup)
	setupData, err := e.runSetup(runCtx)
	if err != nil {
		log.Error("setup failed", zap.Error(err))
		runErr := &RunError{Kind: SetupFailure, Err: err}
		e.collector.Freeze()
		e.transition(StateEvaluated)
		e.finish(summary, VerdictAborted, SetupFailure, err.Error(), nil, 0)
		return summary, runErr
	}
	log.Info("setup complete", zap.Strings("keys", setupData.Keys()))

	selector, err := performance.NewSelector(e.plan.Scenarios)
	if err != nil {
		runErr := &RunError{Kind: InternalFailure, Err: err}
		e.collector.Freeze()
		e.transition(StateEvaluated)
		e.finish(summary, VerdictAborted, InternalFailure, err.Error(), nil, 0)
		return summary, runErr
	}

	rt := &performance.Runtime{
		Selector:  selector,
		Metrics:   e.collector,
		Requester: e.opts.Requester,
		Setup:     setupData,
		Settings:  e.settings,
		Limiter:   rate.New(e.settings.MaxRPS, 0),
		Logger:    e.logger,
	}

	// RAMPING
	e.transition(StateRamping)
	loadStart := time.Now()
	stopBuckets := e.emitBuckets()

	var internalErr error
	schedErr := e.runScheduler(runCtx, rt)
	var panicErr *schedulerPanic
	if errors.As(schedErr, &panicErr) {
		internalErr = schedErr
		log.Error("scheduler failed", zap.Error(schedErr))
	}

	aborted := runCtx.Err() != nil
	abortReason := ""
	if aborted {
		abortReason = context.Cause(runCtx).Error()
		log.Warn("run aborted", zap.String("reason", abortReason))
	}

	// DRAINING
	e.transition(StateDraining)
	e.scheduler.Drain(rt, e.settings.GracefulStop)
	elapsed := time.Since(loadStart)
	stopBuckets()

	// TEARDOWN
	e.transition(StateTeardown)
	if err := e.runTeardown(runCtx, setupData); err != nil {
		log.Error("teardown failed", zap.Error(err))
	}

	e.collector.Freeze()
	if internalErr == nil {
		internalErr = e.collectorMisuse()
	}

	// EVALUATED
	results := threshold.Evaluate(e.rules, e.collector, elapsed)
	e.transition(StateEvaluated)

	switch {
	case internalErr != nil:
		e.finish(summary, VerdictAborted, InternalFailure, internalErr.Error(), results, elapsed)
		return summary, &RunError{Kind: InternalFailure, Err: internalErr}
	case aborted:
		e.finish(summary, VerdictAborted, "", abortReason, results, elapsed)
	case threshold.AllPassed(results):
		e.finish(summary, VerdictPass, "", "", results, elapsed)
	default:
		e.finish(summary, VerdictFail, ThresholdFailure, "", results, elapsed)
	}

	log.Info("run finished",
		zap.String("verdict", string(summary.Verdict)),
		zap.Int64("iterations", summary.Iterations),
		zap.Int64("requests", summary.Requests),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// runSetup executes the plan's setup hook, converting panics to errors.
func (e *Engine) runSetup(ctx context.Context) (data *performance.SetupData, err error) {
	if e.plan.Setup == nil {
		return performance.EmptySetup(), nil
	}

	hook := performance.NewSetupHook(ctx, e.opts.Requester, e.settings, e.logger.Named("setup"))
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("panic in setup: %v", r)
		}
	}()

	if err := e.plan.Setup(hook); err != nil {
		return nil, err
	}
	return hook.Freeze(), nil
}

// runTeardown executes the plan's teardown hook. Teardown runs even after
// an abort; its requests are detached from run cancellation.
func (e *Engine) runTeardown(ctx context.Context, data *performance.SetupData) (err error) {
	if e.plan.Teardown == nil {
		return nil
	}

	hook := performance.NewTeardownHook(ctx, e.opts.Requester, e.settings, data, e.logger.Named("teardown"))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in teardown: %v", r)
		}
	}()
	return e.plan.Teardown(hook)
}

type schedulerPanic struct {
	value any
}

func (p *schedulerPanic) Error() string {
	return fmt.Sprintf("panic in scheduler: %v", p.value)
}

// runScheduler runs the stage scheduler, converting panics to errors.
func (e *Engine) runScheduler(ctx context.Context, rt *performance.Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &schedulerPanic{value: r}
		}
	}()
	return e.scheduler.Run(ctx, rt)
}

// emitBuckets closes a time-series bucket every interval until stopped.
func (e *Engine) emitBuckets() (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.opts.BucketInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				e.collector.EmitBucket()
				return
			case <-ticker.C:
				e.collector.EmitBucket()
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// collectorMisuse reports writes the collector rejected during the run.
func (e *Engine) collectorMisuse() error {
	if late := e.collector.LateWrites(); late > 0 {
		return fmt.Errorf("%d metric writes after the collector was frozen", late)
	}
	if n, last := e.collector.Misuses(); n > 0 {
		return fmt.Errorf("%d invalid metric writes (last: %s)", n, last)
	}
	return nil
}

func (e *Engine) transition(s State) {
	prev := State(e.state.Swap(int32(s)))
	e.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(s)
	}
}

// Abort cancels a running run with reason. Virtual users finish their
// current iteration, then teardown and evaluation run as usual.
func (e *Engine) Abort(reason string) {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel(fmt.Errorf("%w: %s", ErrAborted, reason))
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Metrics returns the run's collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.collector
}

// Rules returns the parsed thresholds.
func (e *Engine) Rules() []threshold.Rule {
	return append([]threshold.Rule(nil), e.rules...)
}

// Plan returns the plan being run.
func (e *Engine) Plan() *performance.Plan {
	return e.plan
}

// Progress is a point-in-time view of a running test.
type Progress struct {
	State         State
	Phase         metrics.Phase
	Stage         int
	Stages        int
	LiveVUs       int
	ActiveVUs     int
	TargetVUs     int
	Elapsed       time.Duration
	TotalDuration time.Duration
	Fraction      float64
	Latest        *metrics.TimeBucket
}

// Progress returns the current progress. It is safe to call from any
// goroutine while Run is in progress.
func (e *Engine) Progress() Progress {
	return Progress{
		State:         e.State(),
		Phase:         e.collector.Phase(),
		Stage:         e.scheduler.CurrentStage(),
		Stages:        e.scheduler.Stages(),
		LiveVUs:       e.scheduler.LiveVUs(),
		ActiveVUs:     e.scheduler.ActiveVUs(),
		TargetVUs:     e.scheduler.TargetVUs(),
		Elapsed:       e.scheduler.Elapsed(),
		TotalDuration: e.scheduler.TotalDuration(),
		Fraction:      e.scheduler.Progress(),
		Latest:        e.collector.LatestBucket(),
	}
}
