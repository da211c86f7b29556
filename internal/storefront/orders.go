package storefront

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// OrdersStages ramps to 50 users over 90s and back down.
var OrdersStages = []performance.Stage{
	{Duration: 30 * time.Second, Target: 20},
	{Duration: time.Minute, Target: 50},
	{Duration: 30 * time.Second, Target: 0},
}

// Orders builds the order plan: every iteration registers a user and
// places one order.
func Orders(opts Options) (*performance.Plan, error) {
	thresholds := map[string][]string{
		"http_req_duration": {"p(95)<500"},
		"errors":            {"rate<0.1"},
	}
	return newPlan("orders", opts, OrdersStages, thresholds, OrdersScenario(opts))
}

// registerStep registers a fresh user and stores its token. The iteration
// ends when registration fails.
func registerStep(name, tag, check string, pause time.Duration) performance.Step {
	return performance.Step{
		Name:  name,
		Pause: pause,
		Run: func(it *performance.Iteration) error {
			res := it.Post(tag, "/api/users/register", map[string]string{
				"email":     uniqueEmail("loadtest", it),
				"password":  authPassword,
				"firstName": "Load",
				"lastName":  "Test",
			})
			if !it.Check(res, check, performance.StatusIs(200)) {
				return it.Abort(fmt.Sprintf("registration failed: %d", res.Status))
			}
			token, err := res.String("token")
			if err != nil {
				return it.Abort(err.Error())
			}
			it.Set("token", token)
			if id, err := res.String("userId"); err == nil {
				it.Set("userId", id)
			}
			return nil
		},
	}
}

// randomProduct picks one product from the listing's content array.
func randomProduct(it *performance.Iteration, res *performance.Response) (gjson.Result, bool) {
	content, err := res.JSON("content")
	if err != nil || !content.IsArray() {
		return gjson.Result{}, false
	}
	items := content.Array()
	if len(items) == 0 {
		return gjson.Result{}, false
	}
	return items[it.Rand().IntN(len(items))], true
}

// cartPayload is the add-to-cart body for product.
func cartPayload(it *performance.Iteration, product gjson.Result) map[string]any {
	return map[string]any{
		"productId":   product.Get("id").Value(),
		"productName": product.Get("name").String(),
		"price":       product.Get("price").Float(),
		"quantity":    it.Rand().IntN(3) + 1,
	}
}

// authed builds a request carrying the iteration's bearer token.
func authed(it *performance.Iteration, tag, method, path string) *performance.Request {
	return performance.NewRequest(tag, method, path).WithBearer(it.GetString("token"))
}

// authedJSON is authed with a JSON body.
func authedJSON(it *performance.Iteration, tag, method, path string, body any) *performance.Response {
	req, err := authed(it, tag, method, path).WithJSON(body)
	if err != nil {
		return &performance.Response{Request: req, Err: err}
	}
	return it.Request(req)
}

// OrdersScenario registers, buys one product and reads the order history.
func OrdersScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "Orders",
		Weight: 1,
		Steps: []performance.Step{
			registerStep("Register", "Orders-Register", "registration successful", 0),
			{
				Name: "GetProducts",
				Run: func(it *performance.Iteration) error {
					res := it.Request(authed(it, "Orders-GetProducts", "GET", "/api/products"))
					if !it.Check(res, "products loaded", performance.StatusIs(200)) {
						return it.Abort(fmt.Sprintf("products fetch failed: %d", res.Status))
					}
					product, ok := randomProduct(it, res)
					if !ok {
						return it.Abort("no products available")
					}
					it.Set("product", product)
					return nil
				},
			},
			{
				Name: "AddToCart",
				Run: func(it *performance.Iteration) error {
					v, _ := it.Var("product")
					product, _ := v.(gjson.Result)
					res := authedJSON(it, "Orders-AddToCart", "POST", "/api/cart/add", cartPayload(it, product))
					it.Check(res, "product added to cart", performance.StatusIs(200))
					return nil
				},
			},
			{
				Name: "ViewCart",
				Run: func(it *performance.Iteration) error {
					res := it.Request(authed(it, "Orders-ViewCart", "GET", "/api/cart"))
					it.Check(res, "cart retrieved", performance.StatusIs(200))
					return nil
				},
			},
			{
				Name: "PlaceOrder",
				Run: func(it *performance.Iteration) error {
					res := authedJSON(it, "Orders-PlaceOrder", "POST", "/api/orders", nil)
					it.CheckAll(res,
						performance.Check{Name: "order placed", Predicate: performance.StatusIs(200, 201)},
						performance.Check{Name: "order has status", Predicate: performance.JSONHas("status")},
					)
					return nil
				},
			},
			{
				Name:  "OrderHistory",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					res := it.Request(authed(it, "Orders-OrderHistory", "GET", "/api/orders"))
					it.Check(res, "order history retrieved", performance.StatusIs(200))
					return nil
				},
			},
		},
	}
}
