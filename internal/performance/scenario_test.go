package performance_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance"
)

func noopStep(name string) performance.Step {
	return performance.Step{Name: name, Run: func(*performance.Iteration) error { return nil }}
}

func TestRegistry_Register(t *testing.T) {
	reg := performance.NewRegistry()

	require.NoError(t, reg.Register("Login", 0.3, noopStep("login")))
	require.NoError(t, reg.Register("BrowseProducts", 0.4, noopStep("list"), noopStep("detail")))

	tests := []struct {
		name   string
		sc     string
		weight float64
		steps  []performance.Step
	}{
		{"zero weight", "a", 0, []performance.Step{noopStep("s")}},
		{"negative weight", "b", -1, []performance.Step{noopStep("s")}},
		{"NaN weight", "c", math.NaN(), []performance.Step{noopStep("s")}},
		{"infinite weight", "d", math.Inf(1), []performance.Step{noopStep("s")}},
		{"no steps", "e", 1, nil},
		{"nil step body", "f", 1, []performance.Step{{Name: "empty"}}},
		{"duplicate name", "Login", 1, []performance.Step{noopStep("s")}},
		{"empty name", "", 1, []performance.Step{noopStep("s")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, reg.Register(tt.sc, tt.weight, tt.steps...))
		})
	}

	assert.Equal(t, 2, reg.Len())
	names := []string{}
	for _, s := range reg.Scenarios() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Login", "BrowseProducts"}, names)

	s, ok := reg.Get("BrowseProducts")
	require.True(t, ok)
	assert.Len(t, s.Steps, 2)
}

func TestNewSelector_Empty(t *testing.T) {
	_, err := performance.NewSelector(performance.NewRegistry())
	assert.Error(t, err)

	_, err = performance.NewSelector(nil)
	assert.Error(t, err)
}

func TestSelector_Frequencies(t *testing.T) {
	reg := performance.NewRegistry()
	require.NoError(t, reg.Register("Login", 0.3, noopStep("s")))
	require.NoError(t, reg.Register("BrowseProducts", 0.4, noopStep("s")))
	require.NoError(t, reg.Register("PurchaseFlow", 0.3, noopStep("s")))

	sel, err := performance.NewSelector(reg)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(42, 7))
	const draws = 20000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		counts[sel.Select(rng).Name]++
	}

	want := map[string]float64{"Login": 0.3, "BrowseProducts": 0.4, "PurchaseFlow": 0.3}
	for name, p := range want {
		got := float64(counts[name]) / draws
		assert.InDelta(t, p, got, 0.02, "frequency of %s", name)
		assert.InDelta(t, p, sel.Probability(name), 1e-9)
	}
	assert.Equal(t, 0.0, sel.Probability("missing"))
}

func TestSelector_UnnormalizedWeights(t *testing.T) {
	reg := performance.NewRegistry()
	require.NoError(t, reg.Register("a", 1, noopStep("s")))
	require.NoError(t, reg.Register("b", 3, noopStep("s")))

	sel, err := performance.NewSelector(reg)
	require.NoError(t, err)

	assert.InDelta(t, 0.25, sel.Probability("a"), 1e-12)
	assert.InDelta(t, 0.75, sel.Probability("b"), 1e-12)
}

func TestPickWeighted(t *testing.T) {
	cumulative := []float64{0.3, 0.7, 1}

	tests := []struct {
		u    float64
		want int
	}{
		{0, 0},
		{0.2999, 0},
		{0.3, 1},
		{0.6999, 1},
		{0.7, 2},
		{0.9999999, 2},
		{1, 2},
	}

	for _, tt := range tests {
		if got := performance.PickWeighted(cumulative, tt.u); got != tt.want {
			t.Errorf("PickWeighted(%v) = %d, want %d", tt.u, got, tt.want)
		}
	}
}
