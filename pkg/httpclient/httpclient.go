// Package httpclient provides a shared, pooled HTTP client factory.
// All outbound HTTP traffic (MCP targets, reasoning endpoint, guardrail
// API) goes through clients built here so connection reuse works across
// the whole process.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mcpscan/mcpscan/pkg/duration"
)

// Config holds HTTP client configuration options.
type Config struct {
	// Timeout is the total request timeout (default: 30s).
	Timeout time.Duration

	// MaxIdleConns is the maximum number of idle connections across all
	// hosts (default: 100).
	MaxIdleConns int

	// MaxConnsPerHost is the maximum connections per host (default: 10).
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections stay pooled (default: 90s).
	IdleConnTimeout time.Duration

	// DialTimeout is the timeout for establishing connections (default: 10s).
	DialTimeout time.Duration

	// FollowRedirects controls redirect handling. The scanner never
	// follows redirects: a redirecting MCP endpoint is surfaced as-is.
	FollowRedirects bool
}

// DefaultConfig returns defaults tuned for scanning many small JSON-RPC
// exchanges against a handful of hosts.
func DefaultConfig() Config {
	return Config{
		Timeout:         duration.HTTPCall,
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
		DialTimeout:     10 * time.Second,
	}
}

var (
	defaultClient *http.Client
	defaultOnce   sync.Once
)

// Default returns a shared, pre-configured HTTP client, safe for
// concurrent use. Packages should prefer Default() over creating their
// own clients unless they need a non-default timeout.
func Default() *http.Client {
	defaultOnce.Do(func() {
		defaultClient = New(DefaultConfig())
	})
	return defaultClient
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) *http.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = duration.HTTPCall
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}
