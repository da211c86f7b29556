package jsonpath

import (
	"reflect"
	"testing"
)

const productPage = `{
	"content": [
		{"id": 11, "name": "Blood Pressure Monitor", "category": "devices", "price": 49.99},
		{"id": 12, "name": "Thermometer", "category": "devices", "price": 9.5},
		{"id": 13, "name": "Vitamin D", "category": "supplements", "price": 12}
	],
	"totalElements": 3,
	"last": true,
	"sort": null
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		expected      string
		expectedError bool
	}{
		{"Simple property", "$.totalElements", "3", false},
		{"Boolean property", "$.last", "true", false},
		{"Array element", "$.content[1].name", "Thermometer", false},
		{"Bracket notation", "$['totalElements']", "3", false},
		{"gjson path", "content.0.id", "11", false},
		{"gjson modifier", "content.#", "3", false},
		{"Null value", "$.sort", "null", false},
		{"Non-existent property", "$.page", "", true},
		{"Array index out of bounds", "$.content[10]", "", true},
		{"Empty path", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Extract(productPage, tt.path)

			if tt.expectedError && err == nil {
				t.Errorf("Expected error, got nil")
			}
			if !tt.expectedError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if !tt.expectedError && result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}

	if _, err := Extract("", "$.name"); err == nil {
		t.Errorf("Expected error for empty JSON, got nil")
	}
}

func TestExtractAll(t *testing.T) {
	ids, err := ExtractAll([]byte(productPage), "content.#.id")
	if err != nil {
		t.Fatalf("ExtractAll() error = %v", err)
	}
	if want := []string{"11", "12", "13"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ExtractAll() = %v, want %v", ids, want)
	}

	ids, err = ExtractAll([]byte(productPage), "$.content[*].id")
	if err != nil {
		t.Fatalf("ExtractAll() with wildcard error = %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ExtractAll() with wildcard returned %d ids, want 3", len(ids))
	}

	single, err := ExtractAll([]byte(productPage), "$.totalElements")
	if err != nil {
		t.Fatalf("ExtractAll() scalar error = %v", err)
	}
	if want := []string{"3"}; !reflect.DeepEqual(single, want) {
		t.Errorf("ExtractAll() scalar = %v, want %v", single, want)
	}

	rootArray := `[{"id": 1}, {"id": 2}]`
	ids, err = ExtractAll([]byte(rootArray), "#.id")
	if err != nil {
		t.Fatalf("ExtractAll() root array error = %v", err)
	}
	if want := []string{"1", "2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ExtractAll() root array = %v, want %v", ids, want)
	}
}

func TestLookup_Errors(t *testing.T) {
	if _, err := Lookup(nil, "$.a"); err == nil {
		t.Error("Lookup(nil) should fail")
	}
	if _, err := Lookup([]byte(`{"a":1}`), ""); err == nil {
		t.Error("Lookup with empty path should fail")
	}
	if _, err := Lookup([]byte(`{"a":1}`), "$.b"); err == nil {
		t.Error("Lookup of missing path should fail")
	}
}

func TestToGjsonPath(t *testing.T) {
	tests := []struct {
		jsonPath  string
		gjsonPath string
	}{
		{"$.name", "name"},
		{"$['name']", "name"},
		{`$["name"]`, "name"},
		{"$.user.name", "user.name"},
		{"$.items[0]", "items.0"},
		{"$.items[0].name", "items.0.name"},
		{"$.items[*].id", "items.#.id"},
		{"$.deeply.nested[0].array[1].value", "deeply.nested.0.array.1.value"},
		{"$", "@this"},
		{"$[0]", "0"},
		{"$[0].name", "0.name"},
		{"content.#.id", "content.#.id"},
		{"token", "token"},
	}

	for _, tt := range tests {
		t.Run(tt.jsonPath, func(t *testing.T) {
			result := ToGjsonPath(tt.jsonPath)
			if result != tt.gjsonPath {
				t.Errorf("ToGjsonPath(%q) = %q, want %q", tt.jsonPath, result, tt.gjsonPath)
			}
		})
	}
}
