// Package storefront contains the built-in load plans for the storefront API:
// the weighted main plan and the focused auth, catalog, orders and
// full-flow plans.
package storefront

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// Options tunes a preset without changing its flows.
type Options struct {
	// Settings are passed to the plan unchanged.
	Settings performance.Settings

	// Stages replaces the preset's stages when set.
	Stages []performance.Stage

	// NoPacing drops every think-time pause.
	NoPacing bool

	// MinCartItems and MaxCartItems bound how many products a purchase
	// adds to the cart. Zero uses the preset default.
	MinCartItems int
	MaxCartItems int
}

// pause returns d, or zero when pacing is disabled.
func (o Options) pause(d time.Duration) time.Duration {
	if o.NoPacing {
		return 0
	}
	return d
}

// cartItems draws the number of products to add, within [lo, hi].
func (o Options) cartItems(rng *rand.Rand, lo, hi int) int {
	if o.MinCartItems > 0 {
		lo = o.MinCartItems
	}
	if o.MaxCartItems > 0 {
		hi = o.MaxCartItems
	}
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

func (o Options) stages(defaults []performance.Stage) []performance.Stage {
	if len(o.Stages) > 0 {
		return append([]performance.Stage(nil), o.Stages...)
	}
	return defaults
}

// Preset is a named plan builder.
type Preset struct {
	Name        string
	Description string
	Build       func(opts Options) (*performance.Plan, error)
}

var presets = map[string]Preset{
	"storefront": {
		Name:        "storefront",
		Description: "weighted Login, BrowseProducts and PurchaseFlow traffic over shared test users",
		Build:       Storefront,
	},
	"auth": {
		Name:        "auth",
		Description: "register, login, profile and invalid login per iteration",
		Build:       Auth,
	},
	"catalog": {
		Name:        "catalog",
		Description: "product listing, search, category and detail reads",
		Build:       Catalog,
	},
	"orders": {
		Name:        "orders",
		Description: "register, add to cart, place order and read the order history",
		Build:       Orders,
	},
	"full-flow": {
		Name:        "full-flow",
		Description: "grouped end-to-end flow with an order_duration trend",
		Build:       FullFlow,
	},
}

// Lookup returns the preset called name.
func Lookup(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (available: %v)", name, Names())
	}
	return p, nil
}

// Names returns the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns every preset sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, name := range Names() {
		out = append(out, presets[name])
	}
	return out
}

// uniqueEmail builds an address that is unique per virtual user iteration.
func uniqueEmail(prefix string, it *performance.Iteration) string {
	return fmt.Sprintf("%s-%d-%d-%d@example.com", prefix, time.Now().UnixMilli(), it.VU(), it.Number())
}

// pick returns a random element of items, or "" when empty.
func pick(rng *rand.Rand, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[rng.IntN(len(items))]
}

// newPlan assembles a plan from registered scenarios.
func newPlan(name string, opts Options, stages []performance.Stage, thresholds map[string][]string, scenarios ...performance.Scenario) (*performance.Plan, error) {
	reg := performance.NewRegistry()
	for _, s := range scenarios {
		if err := reg.Add(s); err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
	}
	return &performance.Plan{
		Name:       name,
		Stages:     opts.stages(stages),
		Thresholds: thresholds,
		Scenarios:  reg,
		Settings:   opts.Settings,
	}, nil
}
