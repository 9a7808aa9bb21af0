package client

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	apiKey     string
	jwt        string
	httpClient *http.Client
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(map[string]string),
	}
}

// WithAPIKey sends req.Header["X-API-Key"] on every request, matching the
// control plane's apimw.Auth API-key branch.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithJWT sends an `Authorization: Bearer <token>` header on every request.
func WithJWT(token string) Option {
	return func(o *options) { o.jwt = token }
}

// WithHTTPClient overrides the default http.Client, e.g. to set a custom
// transport or timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithHTTPTimeout sets the request timeout on the client's http.Client.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) { o.httpClient.Timeout = d }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers[key] = value }
}

func (o *options) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	} else if o.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+o.jwt)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
}
