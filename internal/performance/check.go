package performance

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// StatusIs passes when the response status is one of codes.
func StatusIs(codes ...int) Predicate {
	return func(res *Response) (bool, error) {
		if res.Err != nil {
			return false, res.Err
		}
		for _, c := range codes {
			if res.Status == c {
				return true, nil
			}
		}
		return false, nil
	}
}

// JSONHas passes when path exists in the JSON body.
func JSONHas(path string) Predicate {
	return func(res *Response) (bool, error) {
		if _, err := res.JSON(path); err != nil {
			return false, err
		}
		return true, nil
	}
}

// JSONNotEmpty passes when path exists and holds a non-empty value:
// a non-blank string, a non-empty array or object, or any number or bool.
func JSONNotEmpty(path string) Predicate {
	return func(res *Response) (bool, error) {
		v, err := res.JSON(path)
		if err != nil {
			return false, err
		}
		switch v.Type {
		case gjson.Null:
			return false, nil
		case gjson.String:
			return strings.TrimSpace(v.Str) != "", nil
		case gjson.JSON:
			if v.IsArray() {
				return len(v.Array()) > 0, nil
			}
			return len(v.Map()) > 0, nil
		default:
			return true, nil
		}
	}
}

// JSONEquals passes when the value at path renders as want.
func JSONEquals(path, want string) Predicate {
	return func(res *Response) (bool, error) {
		v, err := res.JSON(path)
		if err != nil {
			return false, err
		}
		got := v.String()
		if v.Type == gjson.Null {
			got = "null"
		}
		if got != want {
			return false, fmt.Errorf("%s is %q, want %q", path, got, want)
		}
		return true, nil
	}
}

// BodyContains passes when the body contains substr.
func BodyContains(substr string) Predicate {
	return func(res *Response) (bool, error) {
		if res.Err != nil {
			return false, res.Err
		}
		return bytes.Contains(res.Body, []byte(substr)), nil
	}
}

// DurationBelow passes when the request completed faster than limit.
func DurationBelow(limit time.Duration) Predicate {
	return func(res *Response) (bool, error) {
		if res.Err != nil {
			return false, res.Err
		}
		if res.Duration >= limit {
			return false, fmt.Errorf("took %s, limit %s", res.Duration, limit)
		}
		return true, nil
	}
}

// MatchesSchema passes when the body validates against schema.
func MatchesSchema(schema *jsonschema.Schema) Predicate {
	return func(res *Response) (bool, error) {
		if res.Err != nil {
			return false, res.Err
		}
		if err := schema.Validate(res.Body); err != nil {
			return false, err
		}
		return true, nil
	}
}

// All passes when every predicate passes.
func All(preds ...Predicate) Predicate {
	return func(res *Response) (bool, error) {
		for _, p := range preds {
			ok, err := p(res)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
