package config_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
)

// shopServer serves a tiny product API and records requested paths.
type shopServer struct {
	mu    sync.Mutex
	paths []string
}

func (s *shopServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"email": body["email"]})
	})
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"id":"p1"},{"id":"p2"},{"id":"p3"}]}`))
	})
	mux.HandleFunc("/api/products/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		switch strings.TrimPrefix(r.URL.Path, "/api/products/") {
		case "p1", "p2":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func (s *shopServer) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func planYAML(baseURL string) string {
	return `
name: shop
settings:
  baseUrl: ` + baseURL + `
  tick: 20ms
  gracefulStop: 1s
stages:
  - duration: 300ms
    target: 3
thresholds:
  errors:
    - "rate<0.05"
setup:
  - name: register
    method: POST
    path: /api/users/register
    repeat: 2
    body:
      email: "user{{index}}@example.com"
    checks:
      - type: status
        status: [201]
    extract:
      - name: emails
        path: email
        required: true
  - name: products
    path: /api/products
    extract:
      - name: productIds
        path: content.#.id
        all: true
        limit: 2
        required: true
scenarios:
  - name: Browse
    steps:
      - name: Product
        group: Catalog
        path: /api/products/{{random.productIds}}
        checks:
          - type: status
            status: [200]
          - type: json-equals
            path: id
            value: ok
        pause: 10ms
`
}

func TestBuild_RunsAgainstServer(t *testing.T) {
	shop := &shopServer{}
	server := httptest.NewServer(shop.handler())
	defer server.Close()

	cfg, err := config.ParseConfig([]byte(planYAML(server.URL)), "shop.yaml")
	require.NoError(t, err)

	plan, err := config.Build(cfg)
	require.NoError(t, err)
	require.NotNil(t, plan.Setup)
	assert.Nil(t, plan.Teardown)

	eng, err := engine.New(plan, engine.Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.VerdictPass, summary.Verdict)
	assert.Positive(t, summary.Iterations)
	assert.Zero(t, summary.AssertionFailures)

	// Only the first two product ids were collected.
	paths := shop.requested()
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.Contains(t, []string{"/api/products/p1", "/api/products/p2"}, p)
	}

	var grouped bool
	for _, c := range summary.Checks {
		if c.Group == "::Catalog" {
			grouped = true
		}
	}
	assert.True(t, grouped, "checks should be recorded under the step group")
}

func TestBuild_RequiredSetupValueMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	cfg := &config.PlanConfig{
		Settings: config.SettingsConfig{BaseURL: server.URL},
		Stages:   []config.StageConfig{{Duration: config.Duration(100 * time.Millisecond), Target: 1}},
		Setup: []config.StepConfig{{
			Path:    "/api/products",
			Extract: []config.ExtractConfig{{Name: "productIds", Path: "content.#.id", All: true, Required: true}},
		}},
		Scenarios: []config.ScenarioConfig{{Name: "noop", Steps: []config.StepConfig{{Path: "/"}}}},
	}

	plan, err := config.Build(cfg)
	require.NoError(t, err)

	eng, err := engine.New(plan, engine.Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSetupFailure)
	assert.Equal(t, engine.VerdictAborted, summary.Verdict)
	assert.Equal(t, engine.SetupFailure, summary.FailureKind)
	assert.Zero(t, summary.Requests)
}

func TestBuild_InvalidConfig(t *testing.T) {
	_, err := config.Build(&config.PlanConfig{})
	require.Error(t, err)

	var verrs *config.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestExpand(t *testing.T) {
	lookup := func(name string) (string, bool) {
		switch name {
		case "user":
			return "alice", true
		case "random.ids":
			return "42", true
		}
		return "", false
	}

	tests := []struct {
		in, want string
	}{
		{"/users/{{user}}", "/users/alice"},
		{"/products/{{ random.ids }}", "/products/42"},
		{"{{missing}}/{{user}}", "{{missing}}/alice"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, config.Expand(tt.in, lookup), tt.in)
	}
}
