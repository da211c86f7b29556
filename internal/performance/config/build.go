package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// Build applies defaults, validates the configuration and converts it into
// an executable plan.
func Build(c *PlanConfig) (*performance.Plan, error) {
	ApplyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	settings := c.Settings.Settings()
	plan := &performance.Plan{
		Name:        c.Name,
		StartTarget: c.StartTarget,
		Thresholds:  c.Thresholds,
		Scenarios:   performance.NewRegistry(),
		Settings:    settings,
	}

	for _, stage := range c.Stages {
		plan.Stages = append(plan.Stages, performance.Stage{
			Name:     stage.Name,
			Duration: time.Duration(stage.Duration),
			Target:   stage.Target,
		})
	}

	for _, sc := range c.Scenarios {
		steps := make([]performance.Step, 0, len(sc.Steps))
		for _, cfg := range sc.Steps {
			r, err := newStepRunner(cfg, c.Variables, settings.BaseURL)
			if err != nil {
				return nil, err
			}
			steps = append(steps, r.scenarioStep())
		}
		if err := plan.Scenarios.Register(sc.Name, sc.Weight, steps...); err != nil {
			return nil, err
		}
	}

	if len(c.Setup) > 0 {
		runners, err := newStepRunners(c.Setup, c.Variables, settings.BaseURL)
		if err != nil {
			return nil, err
		}
		plan.Setup = setupFunc(runners)
	}
	if len(c.Teardown) > 0 {
		runners, err := newStepRunners(c.Teardown, c.Variables, settings.BaseURL)
		if err != nil {
			return nil, err
		}
		plan.Teardown = teardownFunc(runners)
	}

	return plan, nil
}

// stepRunner executes one configured step.
type stepRunner struct {
	cfg     StepConfig
	checks  []performance.Check
	vars    map[string]string
	baseURL string
}

func newStepRunner(cfg StepConfig, vars map[string]string, baseURL string) (*stepRunner, error) {
	checks, err := buildChecks(cfg.Checks)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", cfg.Name, err)
	}
	return &stepRunner{cfg: cfg, checks: checks, vars: vars, baseURL: baseURL}, nil
}

func newStepRunners(cfgs []StepConfig, vars map[string]string, baseURL string) ([]*stepRunner, error) {
	runners := make([]*stepRunner, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := newStepRunner(cfg, vars, baseURL)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}

// buildChecks converts check configurations into named predicates.
func buildChecks(cfgs []CheckConfig) ([]performance.Check, error) {
	checks := make([]performance.Check, 0, len(cfgs))
	for _, c := range cfgs {
		var pred performance.Predicate
		switch c.Type {
		case CheckStatus:
			pred = performance.StatusIs(c.Status...)
		case CheckJSONExists:
			pred = performance.JSONHas(c.Path)
		case CheckJSONNotEmpty:
			pred = performance.JSONNotEmpty(c.Path)
		case CheckJSONEquals:
			pred = performance.JSONEquals(c.Path, c.Value)
		case CheckBodyContains:
			pred = performance.BodyContains(c.Value)
		case CheckDurationBelow:
			limit, err := ParseDurationString(c.Value)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", c.Name, err)
			}
			pred = performance.DurationBelow(limit)
		case CheckSchema:
			schema, err := jsonschema.Compile(c.Schema)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", c.Name, err)
			}
			pred = performance.MatchesSchema(schema)
		default:
			return nil, fmt.Errorf("unknown check type: %s", c.Type)
		}
		checks = append(checks, performance.Check{Name: c.Name, Predicate: pred})
	}
	return checks, nil
}

// request renders the step's request with lookup.
func (r *stepRunner) request(lookup Lookup) (*performance.Request, error) {
	req := performance.NewRequest(r.cfg.Name, r.cfg.Method, Expand(r.cfg.Path, lookup))
	req.Timeout = time.Duration(r.cfg.Timeout)

	switch body := r.cfg.Body.(type) {
	case nil:
	case string:
		req.Body = []byte(Expand(body, lookup))
	default:
		if _, err := req.WithJSON(expandValue(body, lookup)); err != nil {
			return nil, err
		}
	}

	for k, v := range r.cfg.Headers {
		req.SetHeader(k, Expand(v, lookup))
	}
	return req, nil
}

// repetitions returns how many times the step runs this iteration.
func (r *stepRunner) repetitions(rng *rand.Rand) int {
	n := r.cfg.Repeat
	if n < 1 {
		n = 1
	}
	if r.cfg.RepeatMax > n && rng != nil {
		n += rng.IntN(r.cfg.RepeatMax - n + 1)
	}
	return n
}

// scenarioStep returns the step as run by virtual users.
func (r *stepRunner) scenarioStep() performance.Step {
	run := func(it *performance.Iteration) error {
		n := r.repetitions(it.Rand())
		for i := 1; i <= n; i++ {
			if i > 1 {
				it.Sleep(time.Duration(r.cfg.Pause))
			}
			if err := r.runOnce(it, i); err != nil {
				return err
			}
		}
		return nil
	}

	if r.cfg.Group != "" {
		inner := run
		run = func(it *performance.Iteration) error {
			return it.Group(r.cfg.Group, func() error { return inner(it) })
		}
	}

	return performance.Step{
		Name:   r.cfg.Name,
		Run:    run,
		Pause:  time.Duration(r.cfg.Pause),
		Jitter: time.Duration(r.cfg.Jitter),
	}
}

func (r *stepRunner) runOnce(it *performance.Iteration, repetition int) error {
	req, err := r.request(iterationLookup(it, r.vars, r.baseURL, repetition))
	if err != nil {
		return it.Abort(err.Error())
	}

	res := it.Request(req)
	passed := it.CheckAll(res, r.checks...)

	for _, ex := range r.cfg.Extract {
		v, err := extract(res, ex)
		if err != nil {
			it.Logger().Debug("extraction failed",
				zap.String("step", r.cfg.Name),
				zap.String("name", ex.Name),
				zap.Error(err))
			passed = false
			continue
		}
		it.Set(ex.Name, v)
	}

	if !passed && r.cfg.AbortOnFailure {
		return it.Abort(fmt.Sprintf("%s failed", r.cfg.Name))
	}
	return nil
}

// extract reads one configured value from res. All yields []string.
func extract(res *performance.Response, ex ExtractConfig) (interface{}, error) {
	if res.Err != nil {
		return nil, res.Err
	}

	if ex.From == "header" {
		v := res.Header(ex.Path)
		if v == "" {
			return nil, fmt.Errorf("header %s not present", ex.Path)
		}
		return v, nil
	}

	if ex.All {
		values, err := res.Strings(ex.Path)
		if err != nil {
			return nil, err
		}
		if ex.Limit > 0 && len(values) > ex.Limit {
			values = values[:ex.Limit]
		}
		return values, nil
	}

	v, err := res.String(ex.Path)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// evaluate runs checks outside an iteration and returns the failed names.
func (r *stepRunner) evaluate(res *performance.Response) []string {
	var failed []string
	for _, c := range r.checks {
		ok, err := c.Predicate(res)
		if err != nil || !ok {
			failed = append(failed, c.Name)
		}
	}
	return failed
}

// setupFunc runs setup steps in order. Each extracted value is appended
// to the setup list of the same name.
func setupFunc(runners []*stepRunner) performance.SetupFunc {
	return func(h *performance.Hook) error {
		for _, r := range runners {
			n := r.repetitions(nil)
			for i := 1; i <= n; i++ {
				req, err := r.request(hookLookup(h, r.vars, i))
				if err != nil {
					return fmt.Errorf("setup step %s: %w", r.cfg.Name, err)
				}

				res := h.Request(req)
				if failed := r.evaluate(res); len(failed) > 0 {
					h.Logger().Warn("setup step failed",
						zap.String("step", r.cfg.Name),
						zap.Int("index", i),
						zap.Strings("checks", failed),
						zap.Int("status", res.Status),
						zap.Error(res.Err))
					if r.cfg.AbortOnFailure {
						return fmt.Errorf("setup step %s: checks failed: %v", r.cfg.Name, failed)
					}
					continue
				}

				for _, ex := range r.cfg.Extract {
					v, err := extract(res, ex)
					if err != nil {
						h.Logger().Warn("setup extraction failed",
							zap.String("step", r.cfg.Name),
							zap.String("name", ex.Name),
							zap.Error(err))
						continue
					}
					switch t := v.(type) {
					case []string:
						for _, s := range t {
							h.Append(ex.Name, s)
						}
					case string:
						h.Append(ex.Name, t)
					}
				}
			}
		}

		for _, r := range runners {
			for _, ex := range r.cfg.Extract {
				if ex.Required && h.Len(ex.Name) == 0 {
					return fmt.Errorf("setup produced no values for %q", ex.Name)
				}
			}
		}
		return nil
	}
}

// teardownFunc runs teardown steps in order and reports every failure.
func teardownFunc(runners []*stepRunner) performance.TeardownFunc {
	return func(h *performance.Hook) error {
		var errs []error
		for _, r := range runners {
			n := r.repetitions(nil)
			for i := 1; i <= n; i++ {
				req, err := r.request(hookLookup(h, r.vars, i))
				if err != nil {
					errs = append(errs, fmt.Errorf("teardown step %s: %w", r.cfg.Name, err))
					continue
				}
				res := h.Request(req)
				if failed := r.evaluate(res); len(failed) > 0 {
					errs = append(errs, fmt.Errorf("teardown step %s: checks failed: %v", r.cfg.Name, failed))
				}
			}
		}
		return errors.Join(errs...)
	}
}
