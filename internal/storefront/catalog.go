package storefront

import (
	"net/url"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// CatalogStages ramps to 100 users and holds them for two minutes.
var CatalogStages = []performance.Stage{
	{Duration: 30 * time.Second, Target: 50},
	{Duration: 2 * time.Minute, Target: 100},
	{Duration: 30 * time.Second, Target: 0},
}

// SearchTerms are the product search queries.
var SearchTerms = []string{"Laptop", "Phone", "Headphone", "Watch", "Camera"}

// ProductCategories are the category filters.
var ProductCategories = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}

// Catalog builds the read-only catalog plan.
func Catalog(opts Options) (*performance.Plan, error) {
	thresholds := map[string][]string{
		"http_req_duration": {"p(95)<300"},
		"errors":            {"rate<0.05"},
	}
	return newPlan("catalog", opts, CatalogStages, thresholds, CatalogScenario(opts))
}

// CatalogScenario lists, searches, filters and opens products.
func CatalogScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "Catalog",
		Weight: 1,
		Steps: []performance.Step{
			{
				Name:  "GetProducts",
				Pause: opts.pause(500 * time.Millisecond),
				Run: func(it *performance.Iteration) error {
					res := it.Get("GetProducts", "/api/products")
					it.CheckAll(res,
						performance.Check{Name: "get all products status 200", Predicate: performance.StatusIs(200)},
						performance.Check{Name: "products returned", Predicate: performance.JSONNotEmpty("content")},
					)
					if res.Status == 200 {
						if ids, err := res.Strings("content.#.id"); err == nil {
							it.Set("productIds", ids)
						}
					}
					return nil
				},
			},
			{
				Name:  "SearchProducts",
				Pause: opts.pause(500 * time.Millisecond),
				Run: func(it *performance.Iteration) error {
					q := url.Values{"query": {pick(it.Rand(), SearchTerms)}}
					res := it.Get("SearchProducts", "/api/products/search?"+q.Encode())
					it.Check(res, "search status 200", performance.StatusIs(200))
					return nil
				},
			},
			{
				Name:  "ProductsByCategory",
				Pause: opts.pause(500 * time.Millisecond),
				Run: func(it *performance.Iteration) error {
					category := pick(it.Rand(), ProductCategories)
					res := it.Get("ProductsByCategory", "/api/products/category/"+url.PathEscape(category))
					it.Check(res, "category search status 200", performance.StatusIs(200))
					return nil
				},
			},
			{
				Name:  "ProductDetail",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					v, _ := it.Var("productIds")
					ids, _ := v.([]string)
					if len(ids) == 0 {
						return nil
					}
					res := it.Get("ProductDetail", "/api/products/"+pick(it.Rand(), ids))
					it.CheckAll(res,
						performance.Check{Name: "product detail status 200", Predicate: performance.StatusIs(200)},
						performance.Check{Name: "product has id", Predicate: performance.JSONHas("id")},
						performance.Check{Name: "product has name", Predicate: performance.JSONHas("name")},
						performance.Check{Name: "product has price", Predicate: performance.JSONHas("price")},
					)
					return nil
				},
			},
		},
	}
}
