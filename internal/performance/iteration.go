package performance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// ErrAbortIteration ends the current iteration early. Steps return it
// (usually through Iteration.Abort) when the rest of the flow cannot run.
var ErrAbortIteration = errors.New("iteration aborted")

// Iteration is the state of one scenario execution by one virtual user.
// It is not safe for concurrent use: each iteration belongs to a single
// goroutine.
type Iteration struct {
	ctx      context.Context
	rt       *Runtime
	vu       *VirtualUser
	scenario *Scenario
	number   int64

	vars   map[string]any
	groups []string
	paused time.Duration
}

func newIteration(ctx context.Context, vu *VirtualUser, scenario *Scenario, number int64) *Iteration {
	return &Iteration{
		ctx:      ctx,
		rt:       vu.rt,
		vu:       vu,
		scenario: scenario,
		number:   number,
		vars:     make(map[string]any),
	}
}

// Context returns the run context. Requests do not use it directly: they
// run to completion even when the run is cancelled.
func (it *Iteration) Context() context.Context { return it.ctx }

// VU returns the id of the virtual user running the iteration.
func (it *Iteration) VU() int { return it.vu.ID }

// Number returns the 1-based iteration number within the virtual user.
func (it *Iteration) Number() int64 { return it.number }

// Scenario returns the scenario name.
func (it *Iteration) Scenario() string { return it.scenario.Name }

// Setup returns the shared setup data.
func (it *Iteration) Setup() *SetupData { return it.rt.Setup }

// Rand returns the virtual user's random source.
func (it *Iteration) Rand() *rand.Rand { return it.vu.rng }

// Logger returns a logger annotated with the virtual user and scenario.
func (it *Iteration) Logger() *zap.Logger {
	return it.rt.Logger.With(zap.Int("vu", it.vu.ID), zap.String("scenario", it.scenario.Name))
}

// Metrics returns the run collector for custom metrics.
func (it *Iteration) Metrics() *metrics.Collector { return it.rt.Metrics }

// Set stores a per-iteration variable.
func (it *Iteration) Set(key string, value any) { it.vars[key] = value }

// Var returns a per-iteration variable.
func (it *Iteration) Var(key string) (any, bool) {
	v, ok := it.vars[key]
	return v, ok
}

// GetString returns a per-iteration variable rendered as a string.
func (it *Iteration) GetString(key string) string {
	v, ok := it.vars[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Vars returns a copy of the per-iteration variables.
func (it *Iteration) Vars() map[string]any {
	out := make(map[string]any, len(it.vars))
	for k, v := range it.vars {
		out[k] = v
	}
	return out
}

// Request sends req and records it in the request metrics under req.Tag.
func (it *Iteration) Request(req *Request) *Response {
	if err := it.rt.Limiter.Wait(context.WithoutCancel(it.ctx)); err != nil {
		return &Response{Request: req, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	res := send(it.ctx, it.rt.Requester, it.rt.Settings, req)
	it.rt.Metrics.RecordRequest(metrics.RequestRecord{
		Tag:      req.Tag,
		Duration: res.Duration,
		Status:   res.Status,
		Bytes:    int64(len(res.Body)),
		Err:      res.Err,
	})
	return res
}

// Get sends a GET request.
func (it *Iteration) Get(tag, url string) *Response {
	return it.Request(NewRequest(tag, "GET", url))
}

// Post sends a POST request with a JSON body. An unencodable body is
// reported in Response.Err without sending anything.
func (it *Iteration) Post(tag, url string, body any) *Response {
	req, err := NewRequest(tag, "POST", url).WithJSON(body)
	if err != nil {
		return &Response{Request: req, Err: err}
	}
	return it.Request(req)
}

// Predicate evaluates a response. Returning an error counts as a failure
// and the error becomes the failure reason.
type Predicate func(res *Response) (bool, error)

// Check pairs a name with its predicate.
type Check struct {
	Name      string
	Predicate Predicate
}

// Check evaluates pred against res and records the outcome in the checks
// metric and the run's error metric. A panicking predicate fails the check.
func (it *Iteration) Check(res *Response, name string, pred Predicate) bool {
	passed, reason := evaluate(res, pred)
	it.rt.Metrics.RecordCheck(it.groupPath(), name, passed, reason)
	it.rt.Metrics.AddRate(it.rt.Settings.ErrorMetric, !passed)
	return passed
}

// CheckAll evaluates every check and reports whether all passed. Every
// check is evaluated even after a failure.
func (it *Iteration) CheckAll(res *Response, checks ...Check) bool {
	all := true
	for _, c := range checks {
		if !it.Check(res, c.Name, c.Predicate) {
			all = false
		}
	}
	return all
}

func evaluate(res *Response, pred Predicate) (passed bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	if pred == nil {
		return false, "no predicate"
	}
	ok, err := pred(res)
	if err != nil {
		return false, err.Error()
	}
	if !ok {
		return false, res.describe()
	}
	return true, ""
}

// Group runs body inside a named group. Checks recorded inside are tagged
// with the "::"-joined group path, and the group's wall time is recorded
// in group_duration.
func (it *Iteration) Group(name string, body func() error) error {
	it.groups = append(it.groups, name)
	path := it.groupPath()
	start := time.Now()

	defer func() {
		it.groups = it.groups[:len(it.groups)-1]
		it.rt.Metrics.RecordGroup(path, time.Since(start))
	}()

	return body()
}

func (it *Iteration) groupPath() string {
	if len(it.groups) == 0 {
		return ""
	}
	return "::" + strings.Join(it.groups, "::")
}

// Abort returns an error that ends the iteration. The reason is logged at
// debug level.
func (it *Iteration) Abort(reason string) error {
	return fmt.Errorf("%w: %s", ErrAbortIteration, reason)
}

// Sleep pauses the iteration. It returns immediately once the virtual
// user has been asked to stop or the run is cancelled.
func (it *Iteration) Sleep(d time.Duration) {
	if d <= 0 || it.vu.Stopping() {
		return
	}

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-it.vu.stopCh:
	case <-it.ctx.Done():
	}
	it.paused += time.Since(start)
}

// Paused returns the time spent in pauses so far.
func (it *Iteration) Paused() time.Duration { return it.paused }
