// Package jsonpath resolves JSONPath-style and gjson-style paths against
// JSON documents.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup resolves path in doc.
//
// Paths starting with "$" are treated as JSONPath ($.users[0].name) and
// converted; anything else is passed to gjson unchanged (users.0.name,
// content.#.id). A missing path is an error.
func Lookup(doc []byte, path string) (gjson.Result, error) {
	if len(doc) == 0 {
		return gjson.Result{}, fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty path")
	}

	res := gjson.GetBytes(doc, ToGjsonPath(path))
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return res, nil
}

// Extract returns the value at path rendered as a string. JSON null is
// rendered as "null".
func Extract(doc string, path string) (string, error) {
	res, err := Lookup([]byte(doc), path)
	if err != nil {
		return "", err
	}
	if res.Type == gjson.Null {
		return "null", nil
	}
	return res.String(), nil
}

// ExtractAll returns every element of the array at path as strings.
// A scalar at path yields a single element.
func ExtractAll(doc []byte, path string) ([]string, error) {
	res, err := Lookup(doc, path)
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return []string{res.String()}, nil
	}

	items := res.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out, nil
}

// ToGjsonPath converts a JSONPath expression to gjson syntax. Paths that do
// not start with "$" are returned unchanged.
func ToGjsonPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// ['name'] and ["name"] become plain segments
	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)

	// [n] and [*] become .n and .#
	path = strings.ReplaceAll(path, "[*]", ".#")
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
