package mcpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := NewHTTPTransport(srv.URL)
	require.NoError(t, err)
	return New(tr)
}

func TestCallReturnsResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, jsonutil.UnmarshalRead(r.Body, &req))
		assert.Equal(t, "2.0", req["jsonrpc"])
		assert.Equal(t, "tools/list", req["method"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
	})

	raw, err := c.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(raw))
}

func TestCallMapsErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	})

	_, err := c.Call(context.Background(), "prompts/list", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemote))

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, -32601, remote.Code)
	assert.Equal(t, "method not found", remote.Message)
}

func TestCallMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!doctype html><html>not json</html>`))
	})

	_, err := c.Call(context.Background(), "tools/list", nil)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestCallMissingResultIsMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1}`))
	})

	_, err := c.Call(context.Background(), "tools/list", nil)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestCallUnreachable(t *testing.T) {
	tr, err := NewHTTPTransport("http://127.0.0.1:1")
	require.NoError(t, err)
	c := New(tr)

	_, err = c.Call(context.Background(), "tools/list", nil)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestCallHTTPStatusIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Call(context.Background(), "tools/list", nil)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestCallUnwrapsSSEFraming(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"ok\":true}}\n\n"))
	})

	raw, err := c.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestInitializeParsesServerInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, jsonutil.UnmarshalRead(r.Body, &req))
		assert.Equal(t, "initialize", req["method"])
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{
			"protocolVersion":"2024-11-05",
			"capabilities":{"tools":{},"prompts":{}},
			"serverInfo":{"name":"filesystem","version":"1.4.2"}}}`))
	})

	info, err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "filesystem", info.Name)
	assert.Equal(t, "1.4.2", info.Version)
	assert.Equal(t, []string{"prompts", "tools"}, info.Capabilities)
}

func TestNewHTTPTransportRejectsBadEndpoints(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "ftp://host/mcp", "http://"} {
		_, err := NewHTTPTransport(endpoint)
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestRequestIDsIncrement(t *testing.T) {
	var ids []float64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, jsonutil.UnmarshalRead(r.Body, &req))
		ids = append(ids, req["id"].(float64))
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})

	for range 3 {
		_, err := c.Call(context.Background(), "ping", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{1, 2, 3}, ids)
}
