package config

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/wesleyorama2/stampede/internal/performance/threshold"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Validate validates the entire plan configuration. Call ApplyDefaults
// first.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *PlanConfig) Validate() error {
	errs := &ValidationErrors{}

	// Stages
	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	if c.StartTarget < 0 {
		errs.Add("startTarget", "startTarget must be >= 0")
	}
	var total Duration
	for i, stage := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "duration must be >= 0")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target must be >= 0")
		}
		total += stage.Duration
	}
	if len(c.Stages) > 0 && total <= 0 {
		errs.Add("stages", "total stage duration must be greater than 0")
	}

	// Scenarios
	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	seen := make(map[string]bool)
	for i, sc := range c.Scenarios {
		validateScenario(fmt.Sprintf("scenarios[%d]", i), &sc, seen, errs)
	}

	for i, step := range c.Setup {
		validateStep(fmt.Sprintf("setup[%d]", i), &step, errs)
	}
	for i, step := range c.Teardown {
		validateStep(fmt.Sprintf("teardown[%d]", i), &step, errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(prefix string, sc *ScenarioConfig, seen map[string]bool, errs *ValidationErrors) {
	if sc.Name == "" {
		errs.Add(prefix+".name", "name is required")
	} else if seen[sc.Name] {
		errs.Add(prefix+".name", fmt.Sprintf("duplicate scenario name: %s", sc.Name))
	}
	seen[sc.Name] = true

	if sc.Weight <= 0 || math.IsNaN(sc.Weight) || math.IsInf(sc.Weight, 0) {
		errs.Add(prefix+".weight", "weight must be a positive number")
	}

	if len(sc.Steps) == 0 {
		errs.Add(prefix+".steps", "at least one step is required")
	}
	for i, step := range sc.Steps {
		validateStep(fmt.Sprintf("%s.steps[%d]", prefix, i), &step, errs)
	}
}

// validateStep validates a single step.
func validateStep(prefix string, step *StepConfig, errs *ValidationErrors) {
	if step.Path == "" {
		errs.Add(prefix+".path", "path is required")
	} else if strings.HasPrefix(step.Path, "http") && !strings.Contains(step.Path, "{{") {
		if _, err := url.Parse(step.Path); err != nil {
			errs.Add(prefix+".path", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if !validMethods[step.Method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", step.Method))
	}

	if step.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout must be >= 0")
	}
	if step.Pause < 0 {
		errs.Add(prefix+".pause", "pause must be >= 0")
	}
	if step.Jitter < 0 {
		errs.Add(prefix+".jitter", "jitter must be >= 0")
	}
	if step.Repeat < 1 {
		errs.Add(prefix+".repeat", "repeat must be >= 1")
	}
	if step.RepeatMax != 0 && step.RepeatMax < step.Repeat {
		errs.Add(prefix+".repeatMax", "repeatMax must be >= repeat")
	}

	for i, check := range step.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &check, errs)
	}
	for i, extract := range step.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &extract, errs)
	}
}

// validateCheck validates a check configuration.
func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	switch check.Type {
	case CheckStatus:
		if len(check.Status) == 0 && check.Value != "" {
			if _, err := parseStatusCodes(check.Value); err != nil {
				errs.Add(prefix+".value", err.Error())
				return
			}
		}
		if len(check.Status) == 0 {
			errs.Add(prefix+".status", "at least one status code is required")
		}
		for _, code := range check.Status {
			if code < 100 || code > 599 {
				errs.Add(prefix+".status", fmt.Sprintf("invalid status code: %d", code))
			}
		}
	case CheckJSONExists, CheckJSONNotEmpty, CheckJSONEquals:
		if check.Path == "" {
			errs.Add(prefix+".path", "path is required")
		}
	case CheckBodyContains:
		if check.Value == "" {
			errs.Add(prefix+".value", "value is required")
		}
	case CheckDurationBelow:
		if d, err := ParseDurationString(check.Value); err != nil || d <= 0 {
			errs.Add(prefix+".value", fmt.Sprintf("invalid duration: %q", check.Value))
		}
	case CheckSchema:
		if _, err := jsonschema.Compile(check.Schema); err != nil {
			errs.Add(prefix+".schema", err.Error())
		}
	case "":
		errs.Add(prefix+".type", "type is required")
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown check type: %s", check.Type))
	}
}

// validateExtract validates an extract configuration.
func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}
	if extract.Path == "" {
		errs.Add(prefix+".path", "path is required")
	}
	switch extract.From {
	case "", "body":
	case "header":
		if extract.All {
			errs.Add(prefix+".all", "all is only supported for body extraction")
		}
	default:
		errs.Add(prefix+".from", fmt.Sprintf("unknown source: %s", extract.From))
	}
	if extract.Limit < 0 {
		errs.Add(prefix+".limit", "limit must be >= 0")
	}
}

// validateThresholds parses every threshold expression.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	for metric, exprs := range thresholds {
		if metric == "" {
			errs.Add("thresholds", "metric name is required")
		}
		for _, expr := range exprs {
			if _, err := threshold.Parse(metric, expr); err != nil {
				errs.Add("thresholds."+metric, err.Error())
			}
		}
	}
}

// validateSettings validates run-wide settings.
func validateSettings(s *SettingsConfig, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid base URL: %s", s.BaseURL))
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must be >= 0")
	}
	if s.Tick < 0 {
		errs.Add("settings.tick", "tick must be >= 0")
	}
	if s.GracefulStop < 0 {
		errs.Add("settings.gracefulStop", "gracefulStop must be >= 0")
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRps", "maxRps must be >= 0")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "maxConnectionsPerHost must be >= 0")
	}
}
