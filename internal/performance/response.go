package performance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/pkg/jsonpath"
)

// Request describes one tagged request issued by a step.
type Request struct {
	// Tag names the request in metrics (http_req_duration{name:Tag}).
	Tag string

	Method string

	// URL is either absolute or a path joined to the run's base URL.
	URL string

	Headers map[string]string
	Body    []byte

	// Timeout overrides the run's default request timeout.
	Timeout time.Duration
}

// NewRequest creates a request with no body.
func NewRequest(tag, method, url string) *Request {
	return &Request{Tag: tag, Method: method, URL: url, Headers: make(map[string]string)}
}

// WithJSON encodes v as the request body and sets the content type.
func (r *Request) WithJSON(v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("encode request body: %w", err)
	}
	r.Body = body
	r.SetHeader("Content-Type", "application/json")
	return r, nil
}

// WithBearer sets an Authorization bearer token.
func (r *Request) WithBearer(token string) *Request {
	r.SetHeader("Authorization", "Bearer "+token)
	return r
}

// SetHeader sets a header, allocating the header map if needed.
func (r *Request) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// Response is the outcome of a request.
//
// Err is set for transport failures and timeouts; Status is 0 in that case.
// Body accessors never panic: malformed bodies and missing paths are
// reported as a *ParseError, which checks fold into a failed outcome.
type Response struct {
	Request  *Request
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
	Err      error
}

// OK reports whether the request completed with a status below 400.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && r.Status > 0 && r.Status < 400
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// ParseError reports a body that could not be read as expected.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "response body: " + e.Reason
	}
	return fmt.Sprintf("response body at %s: %s", e.Path, e.Reason)
}

// JSON looks up path in the body. Both gjson paths ("content.0.id") and
// JSONPath expressions ("$.content[0].id") are accepted.
func (r *Response) JSON(path string) (gjson.Result, error) {
	if r == nil || len(r.Body) == 0 {
		return gjson.Result{}, &ParseError{Path: path, Reason: "empty body"}
	}
	if !gjson.ValidBytes(r.Body) {
		return gjson.Result{}, &ParseError{Path: path, Reason: "invalid JSON"}
	}
	res, err := jsonpath.Lookup(r.Body, path)
	if err != nil {
		return gjson.Result{}, &ParseError{Path: path, Reason: err.Error()}
	}
	return res, nil
}

// Has reports whether path exists in the body.
func (r *Response) Has(path string) bool {
	_, err := r.JSON(path)
	return err == nil
}

// String returns the value at path as a string.
func (r *Response) String(path string) (string, error) {
	res, err := r.JSON(path)
	if err != nil {
		return "", err
	}
	if res.Type == gjson.JSON {
		return "", &ParseError{Path: path, Reason: "not a scalar"}
	}
	return res.String(), nil
}

// Int returns the value at path as an integer.
func (r *Response) Int(path string) (int64, error) {
	res, err := r.JSON(path)
	if err != nil {
		return 0, err
	}
	if res.Type != gjson.Number {
		return 0, &ParseError{Path: path, Reason: "not a number"}
	}
	return res.Int(), nil
}

// Float returns the value at path as a float.
func (r *Response) Float(path string) (float64, error) {
	res, err := r.JSON(path)
	if err != nil {
		return 0, err
	}
	if res.Type != gjson.Number {
		return 0, &ParseError{Path: path, Reason: "not a number"}
	}
	return res.Float(), nil
}

// Bool returns the value at path as a boolean.
func (r *Response) Bool(path string) (bool, error) {
	res, err := r.JSON(path)
	if err != nil {
		return false, err
	}
	if res.Type != gjson.True && res.Type != gjson.False {
		return false, &ParseError{Path: path, Reason: "not a boolean"}
	}
	return res.Bool(), nil
}

// Strings returns the array at path as strings.
func (r *Response) Strings(path string) ([]string, error) {
	res, err := r.JSON(path)
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, &ParseError{Path: path, Reason: "not an array"}
	}
	items := res.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out, nil
}

// Len returns the length of the array at path. The root array is "@this".
func (r *Response) Len(path string) (int, error) {
	res, err := r.JSON(path)
	if err != nil {
		return 0, err
	}
	if !res.IsArray() {
		return 0, &ParseError{Path: path, Reason: "not an array"}
	}
	return len(res.Array()), nil
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return &ParseError{Reason: "empty body"}
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ParseError{Reason: err.Error()}
	}
	return nil
}

// Header returns the first value of a response header.
func (r *Response) Header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// describe renders a short description used in check failure reasons.
func (r *Response) describe() string {
	if r == nil {
		return "no response"
	}
	if r.Err != nil {
		return "request error: " + r.Err.Error()
	}
	body := strings.TrimSpace(string(r.Body))
	if len(body) > 120 {
		body = body[:120] + "..."
	}
	return fmt.Sprintf("status %d %s", r.Status, body)
}
