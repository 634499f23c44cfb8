// Package mcpclient implements a minimal MCP JSON-RPC 2.0 client over
// two transports: HTTP(S) POST and a stdio-spawned subprocess. Both are
// normalized behind the Transport interface so the discoverer never
// cares which one it is driving.
//
// Every decode failure becomes a typed error (ErrUnreachable,
// ErrMalformed, RemoteError); the client never panics on hostile or
// truncated payloads.
package mcpclient

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

// request is the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is the JSON-RPC 2.0 response. Exactly one of Result or Err
// is set on a valid response; extra fields in Result are preserved
// opaquely as raw JSON.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsontext.Value  `json:"id,omitempty"`
	Result  jsontext.Value  `json:"result,omitempty"`
	Err     *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    jsontext.Value `json:"data,omitempty"`
}

// Transport delivers one serialized JSON-RPC request and returns the
// raw response bytes.
type Transport interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// Client issues MCP JSON-RPC calls over a Transport with a per-call
// timeout.
type Client struct {
	transport Transport
	timeout   time.Duration
	nextID    atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout (scanner.http_timeout).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Client over the given transport.
func New(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, timeout: duration.HTTPCall}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

// Call issues a single JSON-RPC request and returns the raw result
// payload. Transport failures map to ErrUnreachable, JSON-RPC error
// envelopes to *RemoteError, and undecodable payloads to ErrMalformed.
func (c *Client) Call(ctx context.Context, method string, params any) (jsontext.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := request{
		JSONRPC: defaults.JSONRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	payload, err := jsonutil.Marshal(req)
	if err != nil {
		return nil, malformed(err)
	}

	raw, err := c.transport.RoundTrip(ctx, payload)
	if err != nil {
		return nil, unreachable(err)
	}

	var env envelope
	if err := jsonutil.Unmarshal(raw, &env); err != nil {
		return nil, malformed(err)
	}
	if env.Err != nil {
		return nil, &RemoteError{Code: env.Err.Code, Message: env.Err.Message, Data: env.Err.Data}
	}
	if len(env.Result) == 0 {
		return nil, malformed(errMissingResult)
	}
	return env.Result, nil
}

// Initialize performs the MCP initialize handshake and returns the
// server's declared identity. Servers that reject initialize are
// tolerated: discovery falls back to direct list calls.
func (c *Client) Initialize(ctx context.Context) (capability.ServerInfo, error) {
	params := map[string]any{
		"protocolVersion": defaults.MCPProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
		},
		"clientInfo": map[string]any{
			"name":    defaults.ToolName,
			"version": defaults.Version,
		},
	}
	raw, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return capability.ServerInfo{}, err
	}

	var result struct {
		ServerInfo struct {
			Name        string `json:"name"`
			Version     string `json:"version"`
			Description string `json:"description"`
		} `json:"serverInfo"`
		Capabilities map[string]jsontext.Value `json:"capabilities"`
	}
	if err := jsonutil.Unmarshal(raw, &result); err != nil {
		return capability.ServerInfo{}, malformed(err)
	}

	info := capability.ServerInfo{
		Name:        result.ServerInfo.Name,
		Version:     result.ServerInfo.Version,
		Description: result.ServerInfo.Description,
	}
	for name := range result.Capabilities {
		info.Capabilities = append(info.Capabilities, name)
	}
	sort.Strings(info.Capabilities)
	return info, nil
}

var errMissingResult = errors.New("envelope carries neither result nor error")
