// Package guardrail is the client for the external Javelin-style guard
// service that renders allow/deny verdicts on live tool calls.
//
// The guard API is loosely specified in the wild, so ParseVerdict
// accepts every response shape observed: a categories map, {"safe"},
// {"allowed"}, {"result"}, a bare boolean, and plain-text keywords.
// A response in none of those shapes parses as allowed; transport and
// HTTP failures are returned as errors so the gateway's fail-open or
// fail-closed policy decides.
package guardrail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/httpclient"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

// Verdict is the guard's decision on one tool call.
type Verdict struct {
	Allowed    bool
	Reason     string
	Confidence float64
}

// Config controls the guard connection.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns the stock guard settings.
func DefaultConfig() Config {
	return Config{
		BaseURL: defaults.GuardrailBaseURL,
		Timeout: duration.GuardrailCall,
	}
}

// Client calls the guard service.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.httpc = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Client) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.GuardrailBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = duration.GuardrailCall
	}
	g := &Client{cfg: cfg, httpc: httpclient.Default(), logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check submits the formatted tool-call text to the guard's predict
// endpoint and parses its verdict. Any transport or HTTP failure is an
// error; the caller's availability policy decides what that means.
func (g *Client) Check(ctx context.Context, text string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := jsonutil.Marshal(map[string]string{"text": text})
	if err != nil {
		return Verdict{}, err
	}

	endpoint := strings.TrimSuffix(g.cfg.BaseURL, "/") + "/v1/internal/guard/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
	req.Header.Set("X-Javelin-Apikey", g.cfg.APIKey)
	req.Header.Set("User-Agent", defaults.UserAgent())

	resp, err := g.httpc.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("guardrail: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("guardrail: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("guardrail: status %d", resp.StatusCode)
	}

	v := ParseVerdict(raw)
	if v.Allowed {
		g.logger.Debug("guardrail approved request", "reason", v.Reason)
	} else {
		g.logger.Warn("guardrail blocked request", "reason", v.Reason)
	}
	return v, nil
}

// Health probes the guard's health endpoint.
func (g *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, duration.GuardrailHealth)
	defer cancel()

	endpoint := strings.TrimSuffix(g.cfg.BaseURL, "/") + "/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Javelin-Apikey", g.cfg.APIKey)

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("guardrail: health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("guardrail: health status %d", resp.StatusCode)
	}
	return nil
}

// ParseVerdict decodes any of the guard's known response shapes.
func ParseVerdict(raw []byte) Verdict {
	var doc any
	if err := jsonutil.Unmarshal(raw, &doc); err == nil {
		switch v := doc.(type) {
		case bool:
			conf := 0.1
			if v {
				conf = 0.9
			}
			return Verdict{Allowed: v, Reason: "boolean guard response", Confidence: conf}
		case map[string]any:
			if verdict, ok := parseObject(v); ok {
				return verdict
			}
		}
	}
	return parseText(string(raw))
}

func parseObject(obj map[string]any) (Verdict, bool) {
	// Categories map: any flagged category is a threat.
	if categories, ok := obj["categories"].(map[string]any); ok {
		var threats []string
		for category, value := range categories {
			if categoryFlagged(value) {
				threats = append(threats, category)
			}
		}
		verdict := Verdict{
			Allowed:    len(threats) == 0,
			Reason:     "no threats detected",
			Confidence: maxScore(obj, threats),
		}
		if len(threats) > 0 {
			verdict.Reason = "threats detected: " + strings.Join(threats, ", ")
		}
		return verdict, true
	}

	if safe, ok := obj["safe"].(bool); ok {
		return Verdict{Allowed: safe, Reason: stringField(obj, "reason"), Confidence: floatField(obj, "confidence")}, true
	}
	if allowed, ok := obj["allowed"].(bool); ok {
		return Verdict{Allowed: allowed, Reason: stringField(obj, "reason"), Confidence: floatField(obj, "confidence")}, true
	}
	if result, ok := obj["result"].(string); ok {
		lower := strings.ToLower(result)
		allowed := strings.Contains(lower, "safe") || strings.Contains(lower, "allow")
		if strings.Contains(lower, "unsafe") {
			allowed = false
		}
		return Verdict{Allowed: allowed, Reason: "guard result: " + result, Confidence: floatField(obj, "confidence")}, true
	}
	return Verdict{}, false
}

// parseText keyword-matches free-text responses. Block keywords win:
// "unsafe" contains "safe" and must still deny.
func parseText(text string) Verdict {
	lower := strings.ToLower(text)
	blocked := strings.Contains(lower, "unsafe") ||
		strings.Contains(lower, "block") ||
		strings.Contains(lower, "deny") ||
		strings.Contains(lower, "reject")
	if blocked {
		return Verdict{Allowed: false, Reason: "guard text response: " + text, Confidence: 0.7}
	}

	allowed := strings.Contains(lower, "safe") ||
		strings.Contains(lower, "allow") ||
		strings.Contains(lower, "ok") ||
		strings.Contains(lower, "approved")
	if allowed {
		return Verdict{Allowed: true, Reason: "guard text response: " + text, Confidence: 0.7}
	}

	// Unknown shape: the guard answered but said nothing recognizable.
	return Verdict{Allowed: true, Reason: "unrecognized guard response"}
}

func categoryFlagged(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func maxScore(obj map[string]any, threats []string) float64 {
	scores, ok := obj["category_scores"].(map[string]any)
	if !ok {
		return 0
	}
	var top float64
	for _, category := range threats {
		if s, ok := scores[category].(float64); ok && s > top {
			top = s
		}
	}
	return top
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func floatField(obj map[string]any, key string) float64 {
	f, _ := obj[key].(float64)
	return f
}

// FormatToolCall renders a JSON-RPC tools/call request as the flat text
// the guard scores. Unrecognized payloads fall back to raw JSON.
func FormatToolCall(request map[string]any) string {
	params, ok := request["params"].(map[string]any)
	if !ok {
		return fallbackText(request)
	}
	name, ok := params["name"].(string)
	if !ok {
		return fallbackText(request)
	}
	args, _ := jsonutil.Marshal(params["arguments"])
	return fmt.Sprintf("call tool %s with arguments %s", name, string(args))
}

func fallbackText(request map[string]any) string {
	raw, err := jsonutil.Marshal(request)
	if err != nil {
		return "perform action"
	}
	return "perform action: " + string(raw)
}
