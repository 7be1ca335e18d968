// Package request issues single HTTP requests on behalf of virtual users
// and reports their outcome.
package request

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/clock"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is sent when the template does not set one.
const DefaultUserAgent = "surge/1.0"

// Template describes the request each iteration issues. It is shared
// read-only by all VUs and must not be modified once a run has started.
type Template struct {
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}

// Validate checks that the template can be turned into a request.
func (t Template) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", t.URL)
	}

	switch strings.ToUpper(t.Method) {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
	default:
		return fmt.Errorf("invalid HTTP method: %s", t.Method)
	}
	return nil
}

// Outcome is the result of one executed request.
type Outcome struct {
	// StatusCode is zero when no response was received.
	StatusCode int `json:"statusCode,omitempty"`

	// Duration from send until the full body was read.
	Duration time.Duration `json:"duration"`

	BytesReceived int64 `json:"bytesReceived"`

	// Err is set on network failure, timeout or refused connection.
	Err error `json:"-"`
}

// HasStatus reports whether a response status was received.
func (o Outcome) HasStatus() bool {
	return o.StatusCode != 0
}

// Failed reports whether the request errored or returned a 4xx/5xx status.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.StatusCode >= 400
}

// ClientConfig configures the pooled HTTP client.
type ClientConfig struct {
	// Timeout for a whole request including reading the body.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool

	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

// DefaultClientConfig returns sensible defaults for load testing.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             DefaultTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           DefaultUserAgent,
	}
}

// Executor runs requests through a shared, pooled client.
type Executor struct {
	client    *http.Client
	clock     clock.Clock
	timeout   time.Duration
	userAgent string
}

// NewExecutor builds an Executor. A non-positive timeout is replaced by
// DefaultTimeout so no request can block forever.
func NewExecutor(cfg ClientConfig, clk clock.Clock) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if clk == nil {
		clk = clock.Real()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   false,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Executor{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		clock:     clk,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
	}
}

// Timeout returns the per-request timeout in effect.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute issues one request built from tpl. Failures are reported in the
// returned Outcome rather than as an error; the caller decides whether they
// count as failed checks.
func (e *Executor) Execute(ctx context.Context, tpl Template) Outcome {
	req, err := e.build(ctx, tpl)
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to build request: %w", err)}
	}

	start := e.clock.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return Outcome{Duration: e.clock.Since(start), Err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	out := Outcome{
		StatusCode:    resp.StatusCode,
		Duration:      e.clock.Since(start),
		BytesReceived: n,
	}
	if err != nil {
		out.Err = fmt.Errorf("failed to read response body: %w", err)
	}
	return out
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (e *Executor) CloseIdleConnections() {
	e.client.CloseIdleConnections()
}

func (e *Executor) build(ctx context.Context, tpl Template) (*http.Request, error) {
	method := strings.ToUpper(tpl.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if tpl.Body != "" {
		body = strings.NewReader(tpl.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, tpl.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", e.userAgent)
	for key, value := range tpl.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}
