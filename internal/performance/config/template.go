package config

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/stampede/internal/performance"
)

var placeholder = regexp.MustCompile(`\{\{\s*([\w.:-]+)\s*\}\}`)

// Lookup resolves a template variable.
type Lookup func(name string) (string, bool)

// Expand replaces {{name}} placeholders using lookup. Unresolved
// placeholders are left as-is.
func Expand(s string, lookup Lookup) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// builtin resolves the variables available everywhere.
func builtin(name string, vars map[string]string, baseURL string) (string, bool) {
	switch name {
	case "uuid":
		return uuid.NewString(), true
	case "timestamp":
		return strconv.FormatInt(time.Now().UnixMilli(), 10), true
	case "baseUrl", "baseURL":
		return baseURL, true
	}
	v, ok := vars[name]
	return v, ok
}

// iterationLookup resolves variables inside a scenario step. Iteration
// variables shadow plan variables, which shadow setup values.
// "random.<key>" picks one element of a list.
func iterationLookup(it *performance.Iteration, vars map[string]string, baseURL string, repetition int) Lookup {
	return func(name string) (string, bool) {
		switch name {
		case "vu":
			return strconv.Itoa(it.VU()), true
		case "iter":
			return strconv.FormatInt(it.Number(), 10), true
		case "index":
			return strconv.Itoa(repetition), true
		case "scenario":
			return it.Scenario(), true
		}

		if key, ok := strings.CutPrefix(name, "random."); ok {
			values := it.Setup().Strings(key)
			if v, ok := it.Var(key); ok {
				if list, ok := v.([]string); ok {
					values = list
				}
			}
			if len(values) == 0 {
				return "", false
			}
			return values[it.Rand().IntN(len(values))], true
		}

		if _, ok := it.Var(name); ok {
			return it.GetString(name), true
		}
		if v, ok := builtin(name, vars, baseURL); ok {
			return v, true
		}
		if _, ok := it.Setup().Value(name); ok {
			return setupScalar(it.Setup(), name), true
		}
		return "", false
	}
}

// hookLookup resolves variables inside setup and teardown steps.
// "first.<key>" is the first collected value of a list.
func hookLookup(h *performance.Hook, vars map[string]string, repetition int) Lookup {
	return func(name string) (string, bool) {
		if name == "index" {
			return strconv.Itoa(repetition), true
		}
		if v, ok := builtin(name, vars, h.BaseURL()); ok {
			return v, true
		}
		if data := h.Data(); data != nil {
			if key, ok := strings.CutPrefix(name, "first."); ok && data.Len(key) > 0 {
				return data.Strings(key)[0], true
			}
			if _, ok := data.Value(name); ok {
				return setupScalar(data, name), true
			}
		}
		return "", false
	}
}

// setupScalar renders a setup value, joining lists with commas.
func setupScalar(data *performance.SetupData, key string) string {
	return strings.Join(data.Strings(key), ",")
}

// expandValue expands placeholders in every string inside v.
func expandValue(v interface{}, lookup Lookup) interface{} {
	switch t := v.(type) {
	case string:
		return Expand(t, lookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = expandValue(item, lookup)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = expandValue(item, lookup)
		}
		return out
	default:
		return v
	}
}
