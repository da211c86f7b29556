// Package performance implements the load engine core: scenarios, virtual
// users, the stage scheduler and the per-iteration request/check API.
package performance

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// StepFunc is the body of one step. Returning an error aborts the rest of
// the iteration; the failure is recorded in the run's error metric and never
// stops the virtual user.
type StepFunc func(it *Iteration) error

// Step is one unit of a scenario: usually a single tagged request followed
// by its checks.
type Step struct {
	Name string
	Run  StepFunc

	// Pause is applied after the step completes. Jitter adds a uniform
	// random amount in [0, Jitter) on top.
	Pause  time.Duration
	Jitter time.Duration
}

// Scenario is a named, weighted flow of steps.
type Scenario struct {
	Name   string
	Weight float64
	Steps  []Step
}

// Validate checks the scenario can be registered.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("scenario name is required")
	}
	if math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) || s.Weight <= 0 {
		return fmt.Errorf("scenario %q: weight must be a positive number, got %v", s.Name, s.Weight)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q: at least one step is required", s.Name)
	}
	for i, step := range s.Steps {
		if step.Run == nil {
			return fmt.Errorf("scenario %q: step %d (%s) has no body", s.Name, i, step.Name)
		}
		if step.Pause < 0 || step.Jitter < 0 {
			return fmt.Errorf("scenario %q: step %d (%s) has a negative pause", s.Name, i, step.Name)
		}
	}
	return nil
}

// Registry holds the scenarios of a plan in registration order.
type Registry struct {
	mu        sync.RWMutex
	scenarios []*Scenario
	byName    map[string]*Scenario
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Scenario)}
}

// Register adds a scenario built from its parts.
func (r *Registry) Register(name string, weight float64, steps ...Step) error {
	return r.Add(Scenario{Name: name, Weight: weight, Steps: steps})
}

// Add validates and adds s. Names must be unique.
func (r *Registry) Add(s Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("scenario %q is already registered", s.Name)
	}

	sc := &Scenario{Name: s.Name, Weight: s.Weight, Steps: append([]Step(nil), s.Steps...)}
	r.scenarios = append(r.scenarios, sc)
	r.byName[sc.Name] = sc
	return nil
}

// Get returns the scenario called name.
func (r *Registry) Get(name string) (*Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Scenarios returns the registered scenarios in registration order.
func (r *Registry) Scenarios() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Scenario(nil), r.scenarios...)
}

// Len returns the number of registered scenarios.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenarios)
}

// Selector draws scenarios in proportion to their weight.
//
// It is built once from a registry and is immutable afterwards, so every
// virtual user shares it and brings its own random source.
type Selector struct {
	scenarios  []*Scenario
	cumulative []float64
}

// NewSelector normalizes the registry's weights into a cumulative
// distribution.
func NewSelector(reg *Registry) (*Selector, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, errors.New("no scenarios registered")
	}

	scenarios := reg.Scenarios()
	total := 0.0
	for _, s := range scenarios {
		total += s.Weight
	}

	cumulative := make([]float64, len(scenarios))
	acc := 0.0
	for i, s := range scenarios {
		acc += s.Weight / total
		cumulative[i] = acc
	}
	// float drift must not leave a gap at the top of [0, 1)
	cumulative[len(cumulative)-1] = 1

	return &Selector{scenarios: scenarios, cumulative: cumulative}, nil
}

// Select draws one scenario using rng.
func (s *Selector) Select(rng *rand.Rand) *Scenario {
	return s.scenarios[PickWeighted(s.cumulative, rng.Float64())]
}

// Probability returns the selection probability of the named scenario.
func (s *Selector) Probability(name string) float64 {
	prev := 0.0
	for i, sc := range s.scenarios {
		if sc.Name == name {
			return s.cumulative[i] - prev
		}
		prev = s.cumulative[i]
	}
	return 0
}

// Scenarios returns the scenarios in selection order.
func (s *Selector) Scenarios() []*Scenario {
	return append([]*Scenario(nil), s.scenarios...)
}

// PickWeighted returns the index of the first cumulative value greater
// than u, for u in [0, 1). cumulative must be non-decreasing and end at 1.
func PickWeighted(cumulative []float64, u float64) int {
	i := sort.Search(len(cumulative), func(i int) bool {
		return cumulative[i] > u
	})
	if i >= len(cumulative) {
		return len(cumulative) - 1
	}
	return i
}
