package performance

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Requester issues requests against the target system.
//
// Implementations must be safe for concurrent use and must never return a
// nil Response: transport failures are reported in Response.Err.
type Requester interface {
	Do(ctx context.Context, req *Request) *Response
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, req *Request) *Response

// Do calls f.
func (f RequesterFunc) Do(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests. Per-request timeouts come from the
	// request context; this is an outer bound.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// DisableCompression disables automatic decompression
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             2 * time.Minute,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// HTTPRequester is the Requester used for real runs. All virtual users
// share one client so connections are pooled.
type HTTPRequester struct {
	client *http.Client
}

// NewHTTPRequester creates a requester with the given client settings.
func NewHTTPRequester(cfg HTTPClientConfig) *HTTPRequester {
	return &HTTPRequester{client: createHTTPClient(cfg)}
}

// NewHTTPRequesterWithClient wraps an existing client.
func NewHTTPRequesterWithClient(client *http.Client) *HTTPRequester {
	return &HTTPRequester{client: client}
}

// createHTTPClient creates an HTTP client with the configured settings.
func createHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Do executes req. Duration covers sending the request and reading the
// full response body.
func (h *HTTPRequester) Do(ctx context.Context, req *Request) *Response {
	res := &Response{Request: req}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		res.Err = fmt.Errorf("failed to build request: %w", err)
		return res
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		res.Duration = time.Since(start)
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	res.Duration = time.Since(start)
	res.Status = resp.StatusCode
	res.Headers = resp.Header
	res.Body = payload
	if err != nil {
		res.Err = fmt.Errorf("failed to read response body: %w", err)
	}
	return res
}

// CloseIdleConnections releases pooled connections.
func (h *HTTPRequester) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}

// ResolveURL joins a relative path to base. Absolute URLs are returned
// unchanged.
func ResolveURL(base, target string) string {
	if target == "" {
		return base
	}
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}
	if base == "" {
		return target
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}
