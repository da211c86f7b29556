package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storefrontYAML = `
name: "Storefront"
description: "Login and browse"
variables:
  password: "secret"
settings:
  baseUrl: "http://localhost:3000"
  timeout: 10s
  maxRps: 50
startTarget: 1
stages:
  - duration: 30s
    target: 10
  - duration: 1m
    target: 10
thresholds:
  http_req_duration:
    - "p(95)<500"
  errors:
    - "rate<0.05"
setup:
  - name: products
    path: /api/products?limit=10
    checks:
      - type: status
        status: [200]
    extract:
      - name: productIds
        path: content.#.id
        all: true
        limit: 10
        required: true
scenarios:
  - name: Login
    weight: 0.3
    steps:
      - name: Login
        method: post
        path: /api/users/login
        body:
          email: "user@example.com"
          password: "{{password}}"
        checks:
          - type: status
            value: "200,201"
          - type: json-exists
            path: token
        pause: 1s
  - name: Browse
    weight: 0.7
    steps:
      - path: /api/products/{{random.productIds}}
`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer seconds", input: "45", expected: 45 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid", input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(storefrontYAML), "plan.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Storefront", config.Name)
	assert.Equal(t, "http://localhost:3000", config.Settings.BaseURL)
	assert.Equal(t, Duration(10*time.Second), config.Settings.Timeout)
	assert.Equal(t, 50.0, config.Settings.MaxRPS)
	assert.Equal(t, 1, config.StartTarget)
	require.Len(t, config.Stages, 2)
	assert.Equal(t, Duration(time.Minute), config.Stages[1].Duration)
	assert.Equal(t, []string{"p(95)<500"}, config.Thresholds["http_req_duration"])

	require.Len(t, config.Scenarios, 2)
	login := config.Scenarios[0]
	assert.Equal(t, 0.3, login.Weight)
	require.Len(t, login.Steps, 1)
	assert.Equal(t, Duration(time.Second), login.Steps[0].Pause)
	assert.Equal(t, "200,201", login.Steps[0].Checks[0].Value)
	ApplyDefaults(config)
	assert.Equal(t, []int{200, 201}, config.Scenarios[0].Steps[0].Checks[0].Status)

	body, ok := login.Steps[0].Body.(map[string]interface{})
	require.True(t, ok, "body should decode as a map, got %T", login.Steps[0].Body)
	assert.Equal(t, "{{password}}", body["password"])

	require.Len(t, config.Setup, 1)
	assert.True(t, config.Setup[0].Extract[0].All)
	assert.Equal(t, 10, config.Setup[0].Extract[0].Limit)
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"name": "JSON Plan",
		"settings": {"baseUrl": "https://api.example.com", "gracefulStop": "5s"},
		"stages": [{"duration": "10s", "target": 3}],
		"scenarios": [{"name": "health", "steps": [{"path": "/health"}]}]
	}`

	config, err := ParseConfig([]byte(jsonConfig), "plan.json")
	require.NoError(t, err)

	assert.Equal(t, "JSON Plan", config.Name)
	assert.Equal(t, Duration(5*time.Second), config.Settings.GracefulStop)
	require.Len(t, config.Stages, 1)
	assert.Equal(t, Duration(10*time.Second), config.Stages[0].Duration)
	assert.Equal(t, "/health", config.Scenarios[0].Steps[0].Path)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`{"name": `), "plan.json")
	assert.Error(t, err)

	_, err = ParseConfig([]byte("stages:\n  - duration: forever\n"), "plan.yml")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(storefrontYAML), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Storefront", config.Name)
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/plan.yaml")
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	config := &PlanConfig{
		Stages: []StageConfig{{Duration: Duration(time.Second), Target: 1}},
		Scenarios: []ScenarioConfig{{
			Name: "browse",
			Steps: []StepConfig{{
				Path:   "/api/products",
				Method: "post",
				Checks: []CheckConfig{{Type: CheckStatus, Status: []int{200, 201}}},
			}},
		}},
	}

	ApplyDefaults(config)

	assert.Equal(t, "plan", config.Name)
	assert.Equal(t, "http://localhost:8080", config.Settings.BaseURL)
	assert.Equal(t, Duration(30*time.Second), config.Settings.Timeout)
	assert.Equal(t, "errors", config.Settings.ErrorMetric)

	sc := config.Scenarios[0]
	assert.Equal(t, 1.0, sc.Weight)
	assert.Equal(t, "browse_step_1", sc.Steps[0].Name)
	assert.Equal(t, "POST", sc.Steps[0].Method)
	assert.Equal(t, 1, sc.Steps[0].Repeat)
	assert.Equal(t, "status is 200 or 201", sc.Steps[0].Checks[0].Name)
}

func TestSettingsConversion(t *testing.T) {
	includesPacing := false
	s := SettingsConfig{
		BaseURL:                         "http://target",
		Timeout:                         Duration(5 * time.Second),
		MaxRPS:                          20,
		IterationDurationIncludesPacing: &includesPacing,
		InsecureSkipVerify:              true,
		MaxConnectionsPerHost:           8,
	}

	settings := s.Settings()
	assert.Equal(t, "http://target", settings.BaseURL)
	assert.Equal(t, 5*time.Second, settings.Timeout)
	assert.Equal(t, time.Second, settings.Tick)
	assert.Equal(t, 20.0, settings.MaxRPS)
	assert.True(t, settings.ExcludePacing)
	assert.Equal(t, "errors", settings.ErrorMetric)

	client := s.HTTPClientConfig()
	assert.True(t, client.InsecureSkipVerify)
	assert.Equal(t, 8, client.MaxConnsPerHost)
	assert.Equal(t, 100, client.MaxIdleConnsPerHost)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected Duration
		wantErr  bool
	}{
		{input: `"30s"`, expected: Duration(30 * time.Second)},
		{input: `"2m"`, expected: Duration(2 * time.Minute)},
		{input: `""`, expected: 0},
		{input: `null`, expected: 0},
		{input: `"bogus"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}
