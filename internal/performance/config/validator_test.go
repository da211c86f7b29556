package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() *PlanConfig {
	return &PlanConfig{
		Name:   "minimal",
		Stages: []StageConfig{{Duration: Duration(10 * time.Second), Target: 2}},
		Scenarios: []ScenarioConfig{{
			Name:  "health",
			Steps: []StepConfig{{Path: "/health"}},
		}},
	}
}

func TestValidate_MinimalValid(t *testing.T) {
	config := minimalConfig()
	ApplyDefaults(config)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PlanConfig)
		errMsg string
	}{
		{
			name:   "no stages",
			mutate: func(c *PlanConfig) { c.Stages = nil },
			errMsg: "at least one stage",
		},
		{
			name:   "zero total duration",
			mutate: func(c *PlanConfig) { c.Stages[0].Duration = 0 },
			errMsg: "total stage duration",
		},
		{
			name:   "negative target",
			mutate: func(c *PlanConfig) { c.Stages[0].Target = -1 },
			errMsg: "stages[0].target",
		},
		{
			name:   "negative start",
			mutate: func(c *PlanConfig) { c.StartTarget = -3 },
			errMsg: "starttarget",
		},
		{
			name:   "no scenarios",
			mutate: func(c *PlanConfig) { c.Scenarios = nil },
			errMsg: "at least one scenario",
		},
		{
			name: "duplicate scenario",
			mutate: func(c *PlanConfig) {
				c.Scenarios = append(c.Scenarios, c.Scenarios[0])
			},
			errMsg: "duplicate scenario name",
		},
		{
			name:   "negative weight",
			mutate: func(c *PlanConfig) { c.Scenarios[0].Weight = -1 },
			errMsg: "weight",
		},
		{
			name:   "missing path",
			mutate: func(c *PlanConfig) { c.Scenarios[0].Steps[0].Path = "" },
			errMsg: "path is required",
		},
		{
			name:   "bad method",
			mutate: func(c *PlanConfig) { c.Scenarios[0].Steps[0].Method = "FETCH" },
			errMsg: "invalid http method",
		},
		{
			name: "repeatMax below repeat",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Repeat = 3
				c.Scenarios[0].Steps[0].RepeatMax = 2
			},
			errMsg: "repeatmax",
		},
		{
			name: "unknown check",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Checks = []CheckConfig{{Name: "x", Type: "regex"}}
			},
			errMsg: "unknown check type",
		},
		{
			name: "status check without codes",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Checks = []CheckConfig{{Name: "x", Type: CheckStatus}}
			},
			errMsg: "status code",
		},
		{
			name: "bad schema",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Checks = []CheckConfig{{Name: "x", Type: CheckSchema, Schema: "{"}}
			},
			errMsg: "schema",
		},
		{
			name: "duration check without limit",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Checks = []CheckConfig{{Name: "x", Type: CheckDurationBelow}}
			},
			errMsg: "invalid duration",
		},
		{
			name: "extract from header with all",
			mutate: func(c *PlanConfig) {
				c.Scenarios[0].Steps[0].Extract = []ExtractConfig{{Name: "id", Path: "X-Id", From: "header", All: true}}
			},
			errMsg: "all is only supported",
		},
		{
			name: "bad threshold",
			mutate: func(c *PlanConfig) {
				c.Thresholds = map[string][]string{"http_req_duration": {"p95 under 500"}}
			},
			errMsg: "thresholds.http_req_duration",
		},
		{
			name:   "bad base URL",
			mutate: func(c *PlanConfig) { c.Settings.BaseURL = "localhost" },
			errMsg: "invalid base url",
		},
		{
			name:   "negative max rps",
			mutate: func(c *PlanConfig) { c.Settings.MaxRPS = -5 },
			errMsg: "maxrps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := minimalConfig()
			ApplyDefaults(config)
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			if !strings.Contains(strings.ToLower(err.Error()), tt.errMsg) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	config := &PlanConfig{}
	ApplyDefaults(config)

	err := config.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.Errors, 2)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestValidationErrors(t *testing.T) {
	errs := &ValidationErrors{}
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("field1", "message1")
	assert.Equal(t, "validation error on field 'field1': message1", errs.Error())

	errs.Add("", "message2")
	assert.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "2. validation error: message2")
}
