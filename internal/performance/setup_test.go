package performance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/stampede/internal/performance"
)

func TestSetupData_Immutable(t *testing.T) {
	b := performance.NewSetupBuilder()
	b.Append("users", "loadtest0@example.com")
	b.Append("users", "loadtest1@example.com")
	b.Set("productIds", []string{"11", "12"})
	b.Set("count", 2)
	b.Set("label", "smoke")

	assert.Equal(t, 2, b.Len("users"))

	data := b.Freeze()

	// mutating the builder after freeze does not leak into the data
	b.Append("users", "late@example.com")
	b.Set("label", "changed")
	assert.Equal(t, 2, data.Len("users"))
	assert.Equal(t, "smoke", data.String("label"))

	// mutating returned slices does not leak back
	ids := data.Strings("productIds")
	ids[0] = "mutated"
	assert.Equal(t, []string{"11", "12"}, data.Strings("productIds"))

	assert.Equal(t, 2, data.Int("count"))
	assert.Equal(t, []string{"smoke"}, data.Strings("label"))
	assert.Equal(t, []string{"count", "label", "productIds", "users"}, data.Keys())

	_, ok := data.Value("missing")
	assert.False(t, ok)
	assert.Equal(t, "", data.String("missing"))
	assert.Equal(t, 0, data.Int("missing"))
}

func TestSetupData_Nil(t *testing.T) {
	var data *performance.SetupData
	assert.Equal(t, 0, data.Len("x"))
	assert.Nil(t, data.Keys())
	assert.Equal(t, "", data.String("x"))
}

func TestSetupData_NestedValuesAreCopied(t *testing.T) {
	b := performance.NewSetupBuilder()
	b.Set("admin", map[string]any{
		"email": "admin@example.com",
		"roles": []any{"admin", "buyer"},
		"cart":  map[string]any{"items": []any{map[string]any{"productId": "11"}}},
	})
	data := b.Freeze()

	v, ok := data.Value("admin")
	assert.True(t, ok)
	admin := v.(map[string]any)
	admin["email"] = "mutated@example.com"
	admin["roles"].([]any)[0] = "guest"
	item := admin["cart"].(map[string]any)["items"].([]any)[0].(map[string]any)
	item["productId"] = "99"

	fresh, _ := data.Value("admin")
	assert.Equal(t, map[string]any{
		"email": "admin@example.com",
		"roles": []any{"admin", "buyer"},
		"cart":  map[string]any{"items": []any{map[string]any{"productId": "11"}}},
	}, fresh)
}
