package performance

import (
	"fmt"
	"sort"
	"strconv"
)

// SetupBuilder collects the values produced by a plan's setup hook.
// It is only used before load starts.
type SetupBuilder struct {
	values map[string]any
}

// NewSetupBuilder creates an empty builder.
func NewSetupBuilder() *SetupBuilder {
	return &SetupBuilder{values: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (b *SetupBuilder) Set(key string, value any) {
	b.values[key] = value
}

// Append adds value to the string list under key.
func (b *SetupBuilder) Append(key string, value string) {
	list, _ := b.values[key].([]string)
	b.values[key] = append(list, value)
}

// Len returns the number of elements stored under key: the list length
// for lists, 1 for scalars, 0 when absent.
func (b *SetupBuilder) Len(key string) int {
	return valueLen(b.values[key])
}

// Freeze copies the collected values into an immutable SetupData.
func (b *SetupBuilder) Freeze() *SetupData {
	values := make(map[string]any, len(b.values))
	for k, v := range b.values {
		values[k] = copyValue(v)
	}
	return &SetupData{values: values}
}

// SetupData is the read-only state shared by every virtual user.
//
// Accessors return copies of list values, so callers can never mutate the
// shared state.
type SetupData struct {
	values map[string]any
}

// EmptySetup returns setup data with no values.
func EmptySetup() *SetupData {
	return &SetupData{values: map[string]any{}}
}

// Value returns a copy of the value stored under key.
func (d *SetupData) Value(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return copyValue(v), ok
}

// String returns the value under key rendered as a string.
func (d *SetupData) String(key string) string {
	v, ok := d.Value(key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Strings returns the list under key. A scalar yields a single element.
func (d *SetupData) Strings(key string) []string {
	v, ok := d.Value(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = fmt.Sprint(item)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Int returns the value under key as an integer, or 0.
func (d *SetupData) Int(key string) int {
	v, ok := d.Value(key)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

// Len returns the number of elements under key.
func (d *SetupData) Len(key string) int {
	if d == nil {
		return 0
	}
	return valueLen(d.values[key])
}

// Keys returns every key in sorted order.
func (d *SetupData) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueLen(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case []string:
		return len(t)
	case []any:
		return len(t)
	default:
		return 1
	}
}

// copyValue deep-copies the container types setup values are built from
// (decoded JSON included), so readers never share memory with SetupData.
func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case map[string]string:
		m := make(map[string]string, len(t))
		for k, val := range t {
			m[k] = val
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = copyValue(val)
		}
		return m
	default:
		return v
	}
}
