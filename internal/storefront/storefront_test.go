package storefront_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/mockstore"
	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/storefront"
)

func newMock(t *testing.T) (*mockstore.Server, *httptest.Server) {
	t.Helper()
	shop := mockstore.NewServer(mockstore.Options{})
	server := httptest.NewServer(shop)
	t.Cleanup(server.Close)
	return shop, server
}

// runtimeFor builds a runtime for a single scenario against baseURL.
func runtimeFor(t *testing.T, baseURL string, setup *performance.SetupData, scenario performance.Scenario) *performance.Runtime {
	t.Helper()

	reg := performance.NewRegistry()
	require.NoError(t, reg.Add(scenario))
	sel, err := performance.NewSelector(reg)
	require.NoError(t, err)

	return &performance.Runtime{
		Selector:  sel,
		Metrics:   metrics.NewCollector(),
		Requester: performance.NewHTTPRequester(performance.DefaultHTTPClientConfig()),
		Setup:     setup,
		Settings:  performance.Settings{BaseURL: baseURL, Timeout: 5 * time.Second}.WithDefaults(),
		Logger:    zap.NewNop(),
	}
}

func runOnce(t *testing.T, rt *performance.Runtime, scenario performance.Scenario) error {
	t.Helper()
	vu := performance.NewVirtualUser(1, rt)
	return vu.RunIteration(context.Background(), &scenario)
}

func counter(c *metrics.Collector, name string) float64 {
	m, ok := c.Lookup(name)
	if !ok {
		return 0
	}
	return m.Counter().Value()
}

func failedChecks(c *metrics.Collector) int64 {
	var fails int64
	for _, check := range c.CheckResults() {
		fails += check.Fails
	}
	return fails
}

func errorCounts(c *metrics.Collector) (trues, total int64) {
	m, ok := c.Lookup("errors")
	if !ok {
		return 0, 0
	}
	return m.Rate().Counts()
}

// seededSetup registers one user directly in the store and shares every
// product id.
func seededSetup(t *testing.T, shop *mockstore.Server) *performance.SetupData {
	t.Helper()
	_, _, err := shop.Store().Register("buyer@example.com", storefront.TestPassword, "Buyer", "User")
	require.NoError(t, err)

	b := performance.NewSetupBuilder()
	b.Append(storefront.KeyUserEmails, "buyer@example.com")
	b.Set(storefront.KeyPassword, storefront.TestPassword)
	for _, p := range shop.Store().Products() {
		b.Append(storefront.KeyProductIDs, p.ID)
	}
	return b.Freeze()
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"auth", "catalog", "full-flow", "orders", "storefront"}, storefront.Names())

	p, err := storefront.Lookup("catalog")
	require.NoError(t, err)
	assert.Equal(t, "catalog", p.Name)
	assert.NotEmpty(t, p.Description)

	_, err = storefront.Lookup("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

func TestPresets_BuildValidPlans(t *testing.T) {
	for _, p := range storefront.Presets() {
		t.Run(p.Name, func(t *testing.T) {
			plan, err := p.Build(storefront.Options{})
			require.NoError(t, err)
			require.NoError(t, plan.Validate())
			assert.Equal(t, p.Name, plan.Name)
			assert.NotEmpty(t, plan.Thresholds)

			_, err = engine.New(plan, engine.Options{})
			require.NoError(t, err)
		})
	}
}

func TestStorefront_Defaults(t *testing.T) {
	plan, err := storefront.Storefront(storefront.Options{})
	require.NoError(t, err)

	assert.Equal(t, 7*time.Minute, plan.TotalDuration())
	assert.Equal(t, 0, plan.Stages[len(plan.Stages)-1].Target)
	assert.Equal(t, []string{"p(95)<500"}, plan.Thresholds["http_req_duration"])
	require.NotNil(t, plan.Setup)
	require.NotNil(t, plan.Teardown)

	sel, err := performance.NewSelector(plan.Scenarios)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, sel.Probability("Login"), 1e-9)
	assert.InDelta(t, 0.4, sel.Probability("BrowseProducts"), 1e-9)
	assert.InDelta(t, 0.3, sel.Probability("PurchaseFlow"), 1e-9)
}

func TestStorefront_StageOverride(t *testing.T) {
	stages := []performance.Stage{{Duration: time.Second, Target: 2}}
	plan, err := storefront.Catalog(storefront.Options{Stages: stages})
	require.NoError(t, err)
	assert.Equal(t, stages, plan.Stages)
}

func TestSeedUsersAndProducts(t *testing.T) {
	shop, server := newMock(t)

	settings := performance.Settings{BaseURL: server.URL}.WithDefaults()
	requester := performance.NewHTTPRequester(performance.DefaultHTTPClientConfig())
	hook := performance.NewSetupHook(context.Background(), requester, settings, zap.NewNop())

	require.NoError(t, storefront.SeedUsersAndProducts(hook))
	data := hook.Freeze()

	assert.Len(t, data.Strings(storefront.KeyUserEmails), storefront.SetupUsers)
	assert.Len(t, data.Strings(storefront.KeyProductIDs), storefront.SetupProducts)
	assert.Equal(t, storefront.TestPassword, data.String(storefront.KeyPassword))

	users, _ := shop.Store().Stats()
	assert.Equal(t, storefront.SetupUsers, users)

	teardown := performance.NewTeardownHook(context.Background(), requester, settings, data, zap.NewNop())
	assert.NoError(t, storefront.ReportTestData(teardown))
}

func TestSeedUsersAndProducts_PlainArray(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	settings := performance.Settings{BaseURL: server.URL}.WithDefaults()
	hook := performance.NewSetupHook(context.Background(), performance.NewHTTPRequester(performance.DefaultHTTPClientConfig()), settings, nil)

	require.NoError(t, storefront.SeedUsersAndProducts(hook))
	assert.Equal(t, []string{"1", "2"}, hook.Freeze().Strings(storefront.KeyProductIDs))
}

func TestStorefront_NoUsersIsSetupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	plan, err := storefront.Storefront(storefront.Options{
		Settings: performance.Settings{BaseURL: server.URL},
		Stages:   []performance.Stage{{Duration: 100 * time.Millisecond, Target: 1}},
	})
	require.NoError(t, err)

	eng, err := engine.New(plan, engine.Options{})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSetupFailure)
	assert.ErrorIs(t, err, storefront.ErrNoUsers)
	assert.Equal(t, engine.VerdictAborted, summary.Verdict)
	assert.Equal(t, int64(0), summary.Requests)
}

func TestPurchaseScenario_ScriptedFlow(t *testing.T) {
	shop, server := newMock(t)
	opts := storefront.Options{NoPacing: true, MinCartItems: 2, MaxCartItems: 2}
	scenario := storefront.PurchaseScenario(opts)
	rt := runtimeFor(t, server.URL, seededSetup(t, shop), scenario)

	require.NoError(t, runOnce(t, rt, scenario))

	// Login, AddToCart x2, ViewCart, CreateOrder
	assert.Equal(t, 5.0, counter(rt.Metrics, metrics.HTTPReqs))
	assert.Equal(t, int64(0), failedChecks(rt.Metrics))

	trues, total := errorCounts(rt.Metrics)
	assert.Equal(t, int64(0), trues)
	assert.Equal(t, int64(4), total)

	_, orders := shop.Store().Stats()
	assert.Equal(t, 1, orders)
}

func TestPurchaseScenario_LoginFailureAborts(t *testing.T) {
	shop, server := newMock(t)
	b := performance.NewSetupBuilder()
	b.Append(storefront.KeyUserEmails, "ghost@example.com")
	b.Set(storefront.KeyPassword, "wrong")
	for _, p := range shop.Store().Products() {
		b.Append(storefront.KeyProductIDs, p.ID)
	}

	scenario := storefront.PurchaseScenario(storefront.Options{NoPacing: true})
	rt := runtimeFor(t, server.URL, b.Freeze(), scenario)

	err := runOnce(t, rt, scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, performance.ErrAbortIteration)

	assert.Equal(t, 1.0, counter(rt.Metrics, metrics.HTTPReqs))
	trues, total := errorCounts(rt.Metrics)
	assert.Equal(t, int64(1), trues)
	assert.Equal(t, int64(1), total)
}

func TestScenarios_PassAgainstMock(t *testing.T) {
	opts := storefront.Options{NoPacing: true}

	tests := []struct {
		name     string
		scenario performance.Scenario
		requests float64
	}{
		{name: "login", scenario: storefront.LoginScenario(opts), requests: 1},
		{name: "browse", scenario: storefront.BrowseScenario(opts), requests: 2},
		{name: "auth", scenario: storefront.AuthScenario(opts), requests: 4},
		{name: "catalog", scenario: storefront.CatalogScenario(opts), requests: 4},
		{name: "orders", scenario: storefront.OrdersScenario(opts), requests: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shop, server := newMock(t)
			rt := runtimeFor(t, server.URL, seededSetup(t, shop), tt.scenario)

			require.NoError(t, runOnce(t, rt, tt.scenario))
			assert.Equal(t, tt.requests, counter(rt.Metrics, metrics.HTTPReqs))
			assert.Equal(t, int64(0), failedChecks(rt.Metrics))

			trues, total := errorCounts(rt.Metrics)
			assert.Equal(t, int64(0), trues)
			assert.Positive(t, total)
		})
	}
}

func TestFullFlowScenario(t *testing.T) {
	shop, server := newMock(t)
	opts := storefront.Options{NoPacing: true, MinCartItems: 2, MaxCartItems: 2}
	scenario := storefront.FullFlowScenario(opts)
	rt := runtimeFor(t, server.URL, performance.EmptySetup(), scenario)

	require.NoError(t, runOnce(t, rt, scenario))

	// register, products, detail, products, add x2, cart, order, order detail, history
	assert.Equal(t, 10.0, counter(rt.Metrics, metrics.HTTPReqs))
	assert.Equal(t, int64(0), failedChecks(rt.Metrics))

	groups := map[string]bool{}
	for _, c := range rt.Metrics.CheckResults() {
		groups[c.Group] = true
	}
	for _, g := range []string{"::Authentication Flow", "::Product Browsing", "::Shopping Cart", "::Order Placement", "::Order History"} {
		assert.True(t, groups[g], "missing checks for group %s", g)
	}

	m, ok := rt.Metrics.Lookup(storefront.OrderDuration)
	require.True(t, ok)
	assert.Equal(t, metrics.KindTrend, m.Kind)

	_, orders := shop.Store().Stats()
	assert.Equal(t, 1, orders)
}

func TestStorefront_RunsAgainstMock(t *testing.T) {
	_, server := newMock(t)

	plan, err := storefront.Storefront(storefront.Options{
		Settings: performance.Settings{
			BaseURL:      server.URL,
			Tick:         20 * time.Millisecond,
			GracefulStop: time.Second,
		},
		Stages:   []performance.Stage{{Duration: 300 * time.Millisecond, Target: 1}},
		NoPacing: true,
	})
	require.NoError(t, err)

	eng, err := engine.New(plan, engine.Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictPass, summary.Verdict)
	assert.Positive(t, summary.Iterations)
	assert.Positive(t, summary.Requests)
	assert.Equal(t, int64(0), summary.AssertionFailures)
	assert.Equal(t, int64(0), summary.RequestFailures)
}
