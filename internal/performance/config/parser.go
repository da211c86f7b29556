package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// LoadConfig loads a plan from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed PlanConfig or an error if parsing fails.
func LoadConfig(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*PlanConfig, error) {
	var config PlanConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		// Try YAML by default
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills zero values in config.
func ApplyDefaults(config *PlanConfig) {
	if config.Name == "" {
		config.Name = "plan"
	}

	s := &config.Settings
	if s.BaseURL == "" {
		s.BaseURL = performance.DefaultBaseURL
	}
	if s.Timeout == 0 {
		s.Timeout = Duration(performance.DefaultTimeout)
	}
	if s.Tick == 0 {
		s.Tick = Duration(performance.DefaultTick)
	}
	if s.GracefulStop == 0 {
		s.GracefulStop = Duration(performance.DefaultGracefulStop)
	}
	if s.ErrorMetric == "" {
		s.ErrorMetric = performance.DefaultErrorMetric
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = 100
	}

	applyStepDefaults("setup", config.Setup)
	applyStepDefaults("teardown", config.Teardown)

	for i := range config.Scenarios {
		sc := &config.Scenarios[i]
		if sc.Weight == 0 {
			sc.Weight = 1
		}
		applyStepDefaults(sc.Name, sc.Steps)
	}
}

// applyStepDefaults names unnamed steps and checks and sets the method.
func applyStepDefaults(prefix string, steps []StepConfig) {
	for i := range steps {
		step := &steps[i]
		if step.Name == "" {
			step.Name = fmt.Sprintf("%s_step_%d", prefix, i+1)
		}
		if step.Method == "" {
			step.Method = "GET"
		}
		step.Method = strings.ToUpper(step.Method)
		if step.Repeat == 0 {
			step.Repeat = 1
		}
		for j := range step.Checks {
			check := &step.Checks[j]
			if check.Type == CheckStatus && len(check.Status) == 0 && check.Value != "" {
				if codes, err := parseStatusCodes(check.Value); err == nil {
					check.Status = codes
				}
			}
			if step.Checks[j].Name == "" {
				step.Checks[j].Name = describeCheck(&step.Checks[j])
			}
		}
	}
}

// parseStatusCodes parses a comma-separated status list such as "200,201".
func parseStatusCodes(s string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid status code: %q", part)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// describeCheck renders a default check name, e.g. "status is 200".
func describeCheck(c *CheckConfig) string {
	switch c.Type {
	case CheckStatus:
		codes := make([]string, len(c.Status))
		for i, code := range c.Status {
			codes[i] = strconv.Itoa(code)
		}
		return "status is " + strings.Join(codes, " or ")
	case CheckJSONExists:
		return "has " + c.Path
	case CheckJSONNotEmpty:
		return c.Path + " not empty"
	case CheckJSONEquals:
		return fmt.Sprintf("%s is %s", c.Path, c.Value)
	case CheckBodyContains:
		return "body contains " + c.Value
	case CheckDurationBelow:
		return "duration < " + c.Value
	case CheckSchema:
		return "matches schema"
	default:
		return c.Type
	}
}

// Settings converts the settings into engine settings.
func (s SettingsConfig) Settings() performance.Settings {
	return performance.Settings{
		BaseURL:       s.BaseURL,
		Headers:       s.Headers,
		Timeout:       s.Timeout.GetDuration(performance.DefaultTimeout),
		Tick:          s.Tick.GetDuration(performance.DefaultTick),
		GracefulStop:  s.GracefulStop.GetDuration(performance.DefaultGracefulStop),
		MaxRPS:        s.MaxRPS,
		ErrorMetric:   s.ErrorMetric,
		ExcludePacing: s.IterationDurationIncludesPacing != nil && !*s.IterationDurationIncludesPacing,
	}.WithDefaults()
}

// HTTPClientConfig returns the client configuration for these settings.
func (s SettingsConfig) HTTPClientConfig() performance.HTTPClientConfig {
	cfg := performance.DefaultHTTPClientConfig()
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	if s.MaxConnectionsPerHost > 0 {
		cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	}
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	return cfg
}
