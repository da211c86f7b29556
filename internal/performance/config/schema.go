// Package config provides declarative test plans for the performance engine.
//
// Plans are written in YAML or JSON and converted into an executable
// performance.Plan by Build.
package config

import (
	"time"
)

// PlanConfig is the root configuration structure for a test plan.
type PlanConfig struct {
	// Name is the plan name shown in summaries
	Name string `json:"name" yaml:"name"`

	// Description is an optional description of the plan
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Variables are plan-wide template values, referenced as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Settings contains run-wide options
	Settings SettingsConfig `json:"settings,omitempty" yaml:"settings,omitempty"`

	// StartTarget is the concurrency at the start of the first stage
	StartTarget int `json:"startTarget,omitempty" yaml:"startTarget,omitempty"`

	// Stages defines the concurrency ramp
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Thresholds maps metric names to pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Setup steps run once before any virtual user starts
	Setup []StepConfig `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Teardown steps run once after every virtual user has exited
	Teardown []StepConfig `json:"teardown,omitempty" yaml:"teardown,omitempty"`

	// Scenarios are the weighted flows virtual users choose from
	Scenarios []ScenarioConfig `json:"scenarios" yaml:"scenarios"`
}

// SettingsConfig contains run-wide settings.
type SettingsConfig struct {
	// BaseURL is prepended to relative step paths
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Tick is the scheduling interval
	Tick Duration `json:"tick,omitempty" yaml:"tick,omitempty"`

	// GracefulStop is how long draining may take before a warning
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxRPS caps the global request rate (0 = unlimited)
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	// ErrorMetric names the Rate fed by checks and aborts
	ErrorMetric string `json:"errorMetric,omitempty" yaml:"errorMetric,omitempty"`

	// IterationDurationIncludesPacing counts step pauses in
	// iteration_duration (default true)
	IterationDurationIncludesPacing *bool `json:"iterationDurationIncludesPacing,omitempty" yaml:"iterationDurationIncludesPacing,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// StageConfig defines one segment of the concurrency ramp.
type StageConfig struct {
	// Name is an optional label for logs
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of this stage
	Target int `json:"target" yaml:"target"`
}

// ScenarioConfig defines one weighted flow.
type ScenarioConfig struct {
	// Name identifies the scenario
	Name string `json:"name" yaml:"name"`

	// Weight is the relative selection weight (default 1)
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`

	// Steps run in order on every iteration
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig defines a single request and what to do with its response.
type StepConfig struct {
	// Name identifies the step; it is also the request tag
	Name string `json:"name" yaml:"name"`

	// Group places the step's checks under a named group
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// Method is the HTTP method (default GET)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Path is a URL or a path joined to the base URL
	Path string `json:"path" yaml:"path"`

	// Headers are additional request headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body; strings are sent as-is, anything else as JSON
	Body interface{} `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides the default request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Pause is the think time after the step
	Pause Duration `json:"pause,omitempty" yaml:"pause,omitempty"`

	// Jitter adds a random extra pause in [0, Jitter)
	Jitter Duration `json:"jitter,omitempty" yaml:"jitter,omitempty"`

	// Repeat is how many times the request is sent (default 1)
	Repeat int `json:"repeat,omitempty" yaml:"repeat,omitempty"`

	// RepeatMax, when above Repeat, draws the count uniformly from
	// [Repeat, RepeatMax] on each iteration
	RepeatMax int `json:"repeatMax,omitempty" yaml:"repeatMax,omitempty"`

	// Checks evaluated against each response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract pulls values out of each response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`

	// AbortOnFailure ends the iteration when a check or extraction fails
	AbortOnFailure bool `json:"abortOnFailure,omitempty" yaml:"abortOnFailure,omitempty"`
}

// CheckConfig defines a named assertion on a response.
type CheckConfig struct {
	// Name is reported in check results (derived from the check when empty)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of: status, json-exists, json-not-empty, json-equals,
	// body-contains, duration-below, schema
	Type string `json:"type" yaml:"type"`

	// Status lists the accepted status codes for status checks. A
	// comma-separated Value ("200,201") is accepted instead.
	Status []int `json:"status,omitempty" yaml:"status,omitempty"`

	// Path is the JSON path for json-* checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Value is the expected value, substring or duration limit
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Schema is an inline JSON Schema for schema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Check types.
const (
	CheckStatus        = "status"
	CheckJSONExists    = "json-exists"
	CheckJSONNotEmpty  = "json-not-empty"
	CheckJSONEquals    = "json-equals"
	CheckBodyContains  = "body-contains"
	CheckDurationBelow = "duration-below"
	CheckSchema        = "schema"
)

// ExtractConfig defines a value to capture from a response.
type ExtractConfig struct {
	// Name is the variable the value is stored under
	Name string `json:"name" yaml:"name"`

	// Path is a JSON path, or a header name when From is "header"
	Path string `json:"path" yaml:"path"`

	// From is "body" (default) or "header"
	From string `json:"from,omitempty" yaml:"from,omitempty"`

	// All captures every element of the array at Path
	All bool `json:"all,omitempty" yaml:"all,omitempty"`

	// Limit caps the number of elements captured with All (0 = no limit)
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Required fails setup when no value was captured
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
