package storefront

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// OrderDuration is the Trend holding the wall time of order placement, in
// milliseconds.
const OrderDuration = "order_duration"

// FullFlowStages warms up, peaks at 50 users and cools down.
var FullFlowStages = []performance.Stage{
	{Name: "warm up", Duration: time.Minute, Target: 10},
	{Name: "normal load", Duration: 2 * time.Minute, Target: 30},
	{Name: "peak load", Duration: time.Minute, Target: 50},
	{Name: "scale down", Duration: time.Minute, Target: 30},
	{Name: "cool down", Duration: 30 * time.Second, Target: 0},
}

// FullFlow builds the end-to-end plan. Each phase of the flow is a group
// so its checks and duration are reported separately.
func FullFlow(opts Options) (*performance.Plan, error) {
	thresholds := map[string][]string{
		"http_req_duration": {"p(95)<1000"},
		"errors":            {"rate<0.15"},
		OrderDuration:       {"p(95)<2000"},
	}
	return newPlan("full-flow", opts, FullFlowStages, thresholds, FullFlowScenario(opts))
}

// grouped wraps a step body in a group of the same name.
func grouped(name string, pause time.Duration, body func(it *performance.Iteration) error) performance.Step {
	return performance.Step{
		Name:  name,
		Pause: pause,
		Run: func(it *performance.Iteration) error {
			return it.Group(name, func() error { return body(it) })
		},
	}
}

// FullFlowScenario runs authentication, browsing, cart, order placement
// and order history as groups.
func FullFlowScenario(opts Options) performance.Scenario {
	register := registerStep("Authentication Flow", "FullFlow-Register", "user registered", 0)

	return performance.Scenario{
		Name:   "FullFlow",
		Weight: 1,
		Steps: []performance.Step{
			grouped("Authentication Flow", opts.pause(500*time.Millisecond), register.Run),
			grouped("Product Browsing", opts.pause(time.Second), browseGroup),
			grouped("Shopping Cart", opts.pause(time.Second), func(it *performance.Iteration) error {
				return cartGroup(it, opts)
			}),
			grouped("Order Placement", opts.pause(time.Second), func(it *performance.Iteration) error {
				return orderGroup(it, opts)
			}),
			grouped("Order History", opts.pause(2*time.Second), historyGroup),
		},
	}
}

func browseGroup(it *performance.Iteration) error {
	res := it.Request(authed(it, "FullFlow-GetProducts", "GET", "/api/products"))
	it.CheckAll(res,
		performance.Check{Name: "products loaded", Predicate: performance.StatusIs(200)},
		performance.Check{Name: "has products", Predicate: performance.JSONNotEmpty("content")},
	)
	if res.Status != 200 {
		it.Logger().Debug("products fetch failed", zap.Int("status", res.Status))
		return nil
	}

	product, ok := randomProduct(it, res)
	if !ok {
		return nil
	}
	detail := it.Request(authed(it, "FullFlow-GetProductDetails", "GET", "/api/products/"+product.Get("id").String()))
	it.Check(detail, "product detail loaded", performance.StatusIs(200))
	return nil
}

func cartGroup(it *performance.Iteration, opts Options) error {
	res := it.Request(authed(it, "FullFlow-GetProducts", "GET", "/api/products"))
	if res.Status != 200 {
		return nil
	}
	count, err := res.Len("content")
	if err != nil || count == 0 {
		return nil
	}

	n := opts.cartItems(it.Rand(), 2, 3)
	if n > count {
		n = count
	}
	for i := 0; i < n; i++ {
		product, _ := randomProduct(it, res)
		add := authedJSON(it, "FullFlow-AddToCart", "POST", "/api/cart/add", cartPayload(it, product))
		it.Check(add, "product added to cart", performance.StatusIs(200))
		it.Sleep(opts.pause(300 * time.Millisecond))
	}

	cart := it.Request(authed(it, "FullFlow-ViewCart", "GET", "/api/cart"))
	it.CheckAll(cart,
		performance.Check{Name: "cart retrieved", Predicate: performance.StatusIs(200)},
		performance.Check{Name: "cart has items", Predicate: performance.JSONNotEmpty("items")},
	)
	return nil
}

func orderGroup(it *performance.Iteration, opts Options) error {
	start := time.Now()
	res := authedJSON(it, "FullFlow-CreateOrder", "POST", "/api/orders", nil)
	it.Metrics().AddTrend(OrderDuration, float64(time.Since(start))/float64(time.Millisecond))

	it.CheckAll(res,
		performance.Check{Name: "order created", Predicate: performance.StatusIs(200, 201)},
		performance.Check{Name: "order has id", Predicate: performance.JSONHas("id")},
		performance.Check{Name: "order has status", Predicate: performance.JSONHas("status")},
	)
	if res.Status != 200 && res.Status != 201 {
		return nil
	}

	id, err := res.String("id")
	if err != nil {
		return nil
	}
	it.Sleep(opts.pause(500 * time.Millisecond))

	detail := it.Request(authed(it, "FullFlow-GetOrder", "GET", fmt.Sprintf("/api/orders/%s", id)))
	it.CheckAll(detail,
		performance.Check{Name: "order details retrieved", Predicate: performance.StatusIs(200)},
		performance.Check{Name: "order items present", Predicate: performance.JSONNotEmpty("items")},
	)
	return nil
}

func historyGroup(it *performance.Iteration) error {
	res := it.Request(authed(it, "FullFlow-OrderHistory", "GET", "/api/orders"))
	it.CheckAll(res,
		performance.Check{Name: "order history retrieved", Predicate: performance.StatusIs(200)},
		performance.Check{Name: "has orders", Predicate: performance.JSONNotEmpty("@this")},
	)
	return nil
}
