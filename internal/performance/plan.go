package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/rate"
)

// Defaults applied to zero-valued settings.
const (
	DefaultBaseURL      = "http://localhost:8080"
	DefaultTimeout      = 30 * time.Second
	DefaultTick         = time.Second
	DefaultGracefulStop = 30 * time.Second
	DefaultErrorMetric  = "errors"
)

// Stage is one segment of the concurrency ramp. The target is reached
// linearly from the previous stage's target over Duration.
type Stage struct {
	Name     string
	Duration time.Duration
	Target   int
}

// Settings holds run-wide options.
type Settings struct {
	// BaseURL is joined to relative request URLs.
	BaseURL string

	// Headers are sent with every request unless the request sets them.
	Headers map[string]string

	// Timeout is the default per-request timeout.
	Timeout time.Duration

	// Tick is the scheduling interval.
	Tick time.Duration

	// GracefulStop is how long draining may take before a warning is
	// logged. Draining always waits for every virtual user.
	GracefulStop time.Duration

	// MaxRPS caps the global request rate. Zero means unlimited.
	MaxRPS float64

	// ErrorMetric names the Rate that receives check and abort outcomes.
	ErrorMetric string

	// ExcludePacing leaves step pauses out of iteration_duration.
	ExcludePacing bool
}

// WithDefaults returns s with zero values replaced by defaults.
func (s Settings) WithDefaults() Settings {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Tick <= 0 {
		s.Tick = DefaultTick
	}
	if s.GracefulStop <= 0 {
		s.GracefulStop = DefaultGracefulStop
	}
	if s.ErrorMetric == "" {
		s.ErrorMetric = DefaultErrorMetric
	}
	return s
}

// SetupFunc runs once before any virtual user starts. Values stored with
// Hook.Set become the shared SetupData.
type SetupFunc func(h *Hook) error

// TeardownFunc runs once after the last virtual user exits.
type TeardownFunc func(h *Hook) error

// Plan is an executable test plan. It must not be modified once a run
// has started.
type Plan struct {
	Name string

	// StartTarget is the concurrency at t=0.
	StartTarget int
	Stages      []Stage

	// Thresholds maps metric names to threshold expressions.
	Thresholds map[string][]string

	Scenarios *Registry
	Setup     SetupFunc
	Teardown  TeardownFunc
	Settings  Settings
}

// TotalDuration returns the sum of every stage duration.
func (p *Plan) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Duration
	}
	return total
}

// Validate reports every structural problem with the plan.
func (p *Plan) Validate() error {
	var errs []error

	if len(p.Stages) == 0 {
		errs = append(errs, errors.New("at least one stage is required"))
	}
	if p.StartTarget < 0 {
		errs = append(errs, fmt.Errorf("start target must be >= 0, got %d", p.StartTarget))
	}
	for i, s := range p.Stages {
		if s.Duration < 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: duration must be >= 0, got %s", i, s.Duration))
		}
		if s.Target < 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: target must be >= 0, got %d", i, s.Target))
		}
	}
	if p.TotalDuration() <= 0 && len(p.Stages) > 0 {
		errs = append(errs, errors.New("total stage duration must be > 0"))
	}
	if p.Scenarios == nil || p.Scenarios.Len() == 0 {
		errs = append(errs, errors.New("at least one scenario is required"))
	}
	if p.Settings.MaxRPS < 0 {
		errs = append(errs, fmt.Errorf("maxRps must be >= 0, got %v", p.Settings.MaxRPS))
	}

	return errors.Join(errs...)
}

// Runtime is the explicit run context shared by the scheduler and every
// virtual user. It is built once per run and never mutated afterwards.
type Runtime struct {
	Selector  *Selector
	Metrics   *metrics.Collector
	Requester Requester
	Setup     *SetupData
	Settings  Settings
	Limiter   *rate.Limiter
	Logger    *zap.Logger
}

// Hook is handed to setup and teardown. Requests issued through a hook are
// not recorded in the run's metrics.
type Hook struct {
	ctx       context.Context
	requester Requester
	settings  Settings
	logger    *zap.Logger

	builder *SetupBuilder
	data    *SetupData
}

// NewSetupHook creates the hook passed to a plan's setup function.
func NewSetupHook(ctx context.Context, requester Requester, settings Settings, logger *zap.Logger) *Hook {
	return &Hook{ctx: ctx, requester: requester, settings: settings, logger: nopIfNil(logger), builder: NewSetupBuilder()}
}

// NewTeardownHook creates the hook passed to a plan's teardown function.
func NewTeardownHook(ctx context.Context, requester Requester, settings Settings, data *SetupData, logger *zap.Logger) *Hook {
	return &Hook{ctx: ctx, requester: requester, settings: settings, logger: nopIfNil(logger), data: data}
}

// Context returns the run context.
func (h *Hook) Context() context.Context { return h.ctx }

// Logger returns the run logger.
func (h *Hook) Logger() *zap.Logger { return h.logger }

// BaseURL returns the run's base URL.
func (h *Hook) BaseURL() string { return h.settings.BaseURL }

// Request sends req with the run's base URL, headers and timeout.
func (h *Hook) Request(req *Request) *Response {
	return send(h.ctx, h.requester, h.settings, req)
}

// Set stores a setup value. It is a no-op outside setup.
func (h *Hook) Set(key string, value any) {
	if h.builder == nil {
		h.logger.Warn("setup value written outside setup", zap.String("key", key))
		return
	}
	h.builder.Set(key, value)
}

// Append adds value to the setup list under key.
func (h *Hook) Append(key, value string) {
	if h.builder == nil {
		h.logger.Warn("setup value written outside setup", zap.String("key", key))
		return
	}
	h.builder.Append(key, value)
}

// Len returns the number of values collected under key so far.
func (h *Hook) Len(key string) int {
	if h.builder != nil {
		return h.builder.Len(key)
	}
	return h.data.Len(key)
}

// Data returns the frozen setup data during teardown, or nil during setup.
func (h *Hook) Data() *SetupData { return h.data }

// Freeze returns the setup data collected by the hook.
func (h *Hook) Freeze() *SetupData {
	if h.builder == nil {
		return h.data
	}
	return h.builder.Freeze()
}

// send applies settings to req and runs it on a context detached from run
// cancellation, bounded only by the request timeout.
func send(ctx context.Context, requester Requester, settings Settings, req *Request) *Response {
	out := *req
	out.URL = ResolveURL(settings.BaseURL, req.URL)
	if len(settings.Headers) > 0 {
		headers := make(map[string]string, len(settings.Headers)+len(req.Headers))
		for k, v := range settings.Headers {
			headers[k] = v
		}
		for k, v := range req.Headers {
			headers[k] = v
		}
		out.Headers = headers
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = settings.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	res := requester.Do(reqCtx, &out)
	if res == nil {
		res = &Response{Err: errors.New("requester returned no response")}
	}
	res.Request = req
	return res
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
