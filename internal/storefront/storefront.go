package storefront

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// Setup data keys shared by the storefront scenarios.
const (
	KeyUserEmails = "userEmails"
	KeyPassword   = "userPassword"
	KeyProductIDs = "productIds"
)

// Storefront test data.
const (
	SetupUsers    = 5
	SetupProducts = 10
	TestPassword  = "Test123!"
)

// ErrNoUsers is returned by setup when no test user could be registered.
var ErrNoUsers = errors.New("no test users could be registered")

// StorefrontStages ramps to 50 and then 100 users with a plateau at each.
var StorefrontStages = []performance.Stage{
	{Name: "warm up", Duration: 30 * time.Second, Target: 10},
	{Name: "ramp to 50", Duration: time.Minute, Target: 50},
	{Name: "hold 50", Duration: 2 * time.Minute, Target: 50},
	{Name: "ramp to 100", Duration: time.Minute, Target: 100},
	{Name: "hold 100", Duration: 2 * time.Minute, Target: 100},
	{Name: "ramp down", Duration: 30 * time.Second, Target: 0},
}

// StorefrontThresholds are the pass criteria of the storefront plan.
func StorefrontThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration": {"p(95)<500"},
		"http_req_failed":   {"rate<0.05"},
		"errors":            {"rate<0.05"},
	}
}

// Storefront builds the main plan: shared users and products are seeded in
// setup, then Login (30%), BrowseProducts (40%) and PurchaseFlow (30%) run
// against them.
func Storefront(opts Options) (*performance.Plan, error) {
	plan, err := newPlan("storefront", opts, StorefrontStages, StorefrontThresholds(),
		LoginScenario(opts),
		BrowseScenario(opts),
		PurchaseScenario(opts),
	)
	if err != nil {
		return nil, err
	}
	plan.Setup = SeedUsersAndProducts
	plan.Teardown = ReportTestData
	return plan, nil
}

// SeedUsersAndProducts registers SetupUsers users and collects up to
// SetupProducts product ids. A run without any registered user cannot
// proceed.
func SeedUsersAndProducts(h *performance.Hook) error {
	log := h.Logger()
	stamp := time.Now().UnixMilli()

	for i := 1; i <= SetupUsers; i++ {
		email := fmt.Sprintf("loadtest%d_%d@example.com", i, stamp)
		req, err := performance.NewRequest("Setup-Register", "POST", "/api/users/register").WithJSON(map[string]string{
			"email":     email,
			"password":  TestPassword,
			"firstName": fmt.Sprintf("LoadTest%d", i),
			"lastName":  "User",
		})
		if err != nil {
			return err
		}

		res := h.Request(req)
		if res.Err != nil || (res.Status != 200 && res.Status != 201) {
			log.Warn("failed to register test user",
				zap.String("email", email),
				zap.Int("status", res.Status),
				zap.Error(res.Err))
			continue
		}
		h.Append(KeyUserEmails, email)
		log.Info("registered test user", zap.String("email", email))
	}

	if h.Len(KeyUserEmails) == 0 {
		return ErrNoUsers
	}
	h.Set(KeyPassword, TestPassword)

	res := h.Request(performance.NewRequest("Setup-Products", "GET", "/api/products"))
	if res.Status != 200 {
		log.Warn("could not load products", zap.Int("status", res.Status), zap.Error(res.Err))
		return nil
	}

	ids, err := productIDs(res)
	if err != nil {
		log.Warn("could not parse products", zap.Error(err))
		return nil
	}
	if len(ids) > SetupProducts {
		ids = ids[:SetupProducts]
	}
	for _, id := range ids {
		h.Append(KeyProductIDs, id)
	}
	log.Info("found products", zap.Int("count", len(ids)))
	return nil
}

// productIDs reads product ids from a paged ({"content": [...]}) or plain
// array listing.
func productIDs(res *performance.Response) ([]string, error) {
	if ids, err := res.Strings("content.#.id"); err == nil {
		return ids, nil
	}
	return res.Strings("#.id")
}

// ReportTestData logs how much shared data the run used.
func ReportTestData(h *performance.Hook) error {
	data := h.Data()
	h.Logger().Info("load test completed",
		zap.Int("users", data.Len(KeyUserEmails)),
		zap.Int("products", data.Len(KeyProductIDs)))
	return nil
}

// login posts the credentials of a random setup user under tag.
func login(it *performance.Iteration, tag string) *performance.Response {
	setup := it.Setup()
	return it.Post(tag, "/api/users/login", map[string]string{
		"email":    pick(it.Rand(), setup.Strings(KeyUserEmails)),
		"password": setup.String(KeyPassword),
	})
}

// LoginScenario logs a random setup user in.
func LoginScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "Login",
		Weight: 0.3,
		Steps: []performance.Step{{
			Name:  "Login",
			Pause: opts.pause(time.Second),
			Run: func(it *performance.Iteration) error {
				res := login(it, "Login")
				it.CheckAll(res,
					performance.Check{Name: "login status is 200", Predicate: performance.StatusIs(200)},
					performance.Check{Name: "login response has token", Predicate: performance.JSONHas("token")},
				)
				return nil
			},
		}},
	}
}

// BrowseScenario lists products and opens one of the setup products.
func BrowseScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "BrowseProducts",
		Weight: 0.4,
		Steps: []performance.Step{
			{
				Name: "GetProducts",
				Run: func(it *performance.Iteration) error {
					res := it.Get("GetProducts", "/api/products")
					it.Set("productsLoaded", it.Check(res, "get products status is 200", performance.StatusIs(200)))
					return nil
				},
			},
			{
				Name:  "GetProductDetails",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					ids := it.Setup().Strings(KeyProductIDs)
					if loaded, _ := it.Var("productsLoaded"); loaded != true || len(ids) == 0 {
						return nil
					}
					res := it.Get("GetProductDetails", "/api/products/"+pick(it.Rand(), ids))
					it.Check(res, "get product details status is 200", performance.StatusIs(200))
					return nil
				},
			},
		},
	}
}

// PurchaseScenario logs in, fills the cart with one to three products,
// views it and places an order. A failed login or an unreadable cart ends
// the iteration.
func PurchaseScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "PurchaseFlow",
		Weight: 0.3,
		Steps: []performance.Step{
			{
				Name: "Login",
				Run: func(it *performance.Iteration) error {
					res := login(it, "PurchaseFlow-Login")
					if res.Status != 200 {
						return it.Abort(fmt.Sprintf("login returned %d", res.Status))
					}
					token, err := res.String("token")
					if err != nil {
						return it.Abort(err.Error())
					}
					it.Set("token", token)
					return nil
				},
			},
			{
				Name: "AddToCart",
				Run: func(it *performance.Iteration) error {
					ids := it.Setup().Strings(KeyProductIDs)
					if len(ids) == 0 {
						return nil
					}

					n := opts.cartItems(it.Rand(), 1, 3)
					for i := 0; i < n; i++ {
						req, err := performance.NewRequest("PurchaseFlow-AddToCart", "POST", "/api/cart/items").
							WithBearer(it.GetString("token")).
							WithJSON(map[string]any{
								"productId": pick(it.Rand(), ids),
								"quantity":  it.Rand().IntN(3) + 1,
							})
						if err != nil {
							return err
						}
						res := it.Request(req)
						it.Check(res, "add to cart status is 200", performance.StatusIs(200, 201))
						it.Sleep(opts.pause(500 * time.Millisecond))
					}
					it.Set("cartItems", n)
					return nil
				},
			},
			{
				Name: "ViewCart",
				Run: func(it *performance.Iteration) error {
					if _, ok := it.Var("cartItems"); !ok {
						return nil
					}
					req := performance.NewRequest("PurchaseFlow-ViewCart", "GET", "/api/cart").WithBearer(it.GetString("token"))
					if !it.Check(it.Request(req), "view cart status is 200", performance.StatusIs(200)) {
						return it.Abort("cart could not be loaded")
					}
					return nil
				},
			},
			{
				Name:  "CreateOrder",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					if _, ok := it.Var("cartItems"); !ok {
						return nil
					}
					req, err := performance.NewRequest("PurchaseFlow-CreateOrder", "POST", "/api/orders").
						WithBearer(it.GetString("token")).
						WithJSON(map[string]any{})
					if err != nil {
						return err
					}
					if it.Check(it.Request(req), "create order status is 201 or 200", performance.StatusIs(201, 200)) {
						it.Logger().Debug("order created")
					}
					return nil
				},
			},
		},
	}
}
