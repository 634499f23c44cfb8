package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/httpclient"
)

// HTTPTransport posts JSON-RPC envelopes to an MCP endpoint. It accepts
// both plain JSON responses and single-event SSE responses, which
// streamable HTTP servers emit for request/response exchanges.
type HTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	// maxBody caps response reads so a hostile server cannot exhaust
	// memory. Zero means the default 8 MiB.
	maxBody int64
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHeaders adds headers (e.g. Authorization) to every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(t *HTTPTransport) {
		for k, v := range h {
			t.headers[k] = v
		}
	}
}

// WithHTTPClient overrides the pooled default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

const defaultMaxBody = 8 << 20

// NewHTTPTransport validates the endpoint URL and builds a transport.
// A syntactically invalid URL is the one genuinely fatal input error:
// it fails here, before any network call.
func NewHTTPTransport(endpoint string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mcpclient: invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mcpclient: invalid endpoint %q: missing host", endpoint)
	}

	t := &HTTPTransport{
		endpoint: endpoint,
		headers:  make(map[string]string),
		client:   httpclient.Default(),
		maxBody:  defaultMaxBody,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// RoundTrip delivers one request and returns the raw response body,
// unwrapped from SSE framing when present.
func (t *HTTPTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
	req.Header.Set("Accept", defaults.AcceptMCP)
	req.Header.Set("User-Agent", defaults.UserAgent())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return extractSSEData(body)
	}
	return body, nil
}

// Close is a no-op: the pooled HTTP client is shared process-wide.
func (t *HTTPTransport) Close() error { return nil }

// extractSSEData pulls the first data payload out of an SSE stream.
// Multi-line data fields are concatenated per the SSE spec.
func extractSSEData(body []byte) ([]byte, error) {
	var data bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64<<10), defaultMaxBody)
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(rest, " "))
			continue
		}
		// Blank line ends the first event; stop if we have data.
		if line == "" && data.Len() > 0 {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, fmt.Errorf("event stream carried no data")
	}
	return data.Bytes(), nil
}
