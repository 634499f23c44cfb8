// Package gateway makes allow/deny decisions on live tools/call
// traffic. The decision path, in order: validation cache, short-circuit
// on known CRITICAL/HIGH scan findings for the tool, then a live
// guardrail call. Guardrail failures resolve via the configured
// fail-open or fail-closed policy, never by crashing the request path.
//
// Concurrent identical requests coalesce: at most one guardrail call is
// in flight per fingerprint, and every waiter receives that call's
// result.
package gateway

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/finding"
	"github.com/mcpscan/mcpscan/pkg/guardrail"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

// Decision sources.
const (
	SourceCache     = "cache"
	SourceFindings  = "findings"
	SourceGuardrail = "guardrail"
	SourcePolicy    = "policy"
)

// Decision is the gateway's verdict on one request.
type Decision struct {
	Allow       bool      `json:"allow"`
	Reason      string    `json:"reason"`
	Fingerprint string    `json:"fingerprint"`
	RequestID   string    `json:"request_id"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	// Cached reports whether this decision was served from the cache
	// rather than freshly evaluated.
	Cached bool `json:"cached"`
}

// Config controls the decision path.
type Config struct {
	// FailOpen allows requests when the guardrail is unreachable or
	// times out; fail-closed denies them.
	FailOpen bool
	// CacheEnabled toggles decision caching (PROXY_CACHE_VALIDATIONS).
	CacheEnabled bool
	CacheTTL     time.Duration
	CacheMax     int
	// RequestTimeout bounds one validation end to end, independent of
	// any scan timeout: the gateway sits in a live request path.
	RequestTimeout time.Duration
}

// DefaultConfig returns the stock gateway policy: fail-open with a
// five-minute decision cache.
func DefaultConfig() Config {
	return Config{
		FailOpen:       true,
		CacheEnabled:   true,
		CacheTTL:       duration.CacheTTL,
		CacheMax:       defaults.CacheMaxEntries,
		RequestTimeout: duration.GuardrailCall,
	}
}

// checker is the guardrail surface the validator depends on.
type checker interface {
	Check(ctx context.Context, text string) (guardrail.Verdict, error)
}

// Validator runs the decision state machine.
type Validator struct {
	cfg    Config
	guard  checker
	cache  *decisionCache
	flight singleflight.Group

	mu    sync.RWMutex
	worst map[string]finding.Severity

	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock overrides time for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator over a guardrail client.
func New(cfg Config, guard checker, opts ...Option) *Validator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = duration.CacheTTL
	}
	if cfg.CacheMax <= 0 {
		cfg.CacheMax = defaults.CacheMaxEntries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = duration.GuardrailCall
	}
	v := &Validator{
		cfg:    cfg,
		guard:  guard,
		worst:  make(map[string]finding.Severity),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.cache = newDecisionCache(cfg.CacheTTL, cfg.CacheMax, v.now)
	return v
}

// UseScan installs a scan result: the worst severity per tool feeds the
// short-circuit check. Later calls replace earlier ones wholesale, so a
// rescan resets stale knowledge.
func (v *Validator) UseScan(result aggregate.Result) {
	worst := make(map[string]finding.Severity)
	for _, f := range result.Findings {
		if f.Component.Kind != finding.KindTool {
			continue
		}
		if cur, ok := worst[f.Component.Name]; !ok || f.Severity.Score() > cur.Score() {
			worst[f.Component.Name] = f.Severity
		}
	}
	v.mu.Lock()
	v.worst = worst
	v.mu.Unlock()
}

// Fingerprint derives the cache key for a tools/call request: a SHA-256
// over the tool identity and the canonicalized arguments, so two
// requests differing only in JSON key order share one fingerprint.
func Fingerprint(toolName string, arguments any) (string, error) {
	canonical, err := jsonutil.MarshalCanonical(arguments)
	if err != nil {
		return "", fmt.Errorf("gateway: canonicalize arguments: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(canonical)
	return fmt.Sprintf("req_%x", h.Sum(nil)), nil
}

// Validate decides one tools/call request. The request must already be
// decoded JSON-RPC; malformed payloads deny with a reason rather than
// erroring, since a gateway must always answer.
func (v *Validator) Validate(ctx context.Context, request map[string]any) Decision {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.RequestTimeout)
	defer cancel()

	requestID := uuid.NewString()

	toolName, arguments, ok := extractToolCall(request)
	if !ok {
		return v.finish(Decision{
			Allow:     false,
			Reason:    "request is not a well-formed tools/call",
			RequestID: requestID,
			Source:    SourcePolicy,
			CreatedAt: v.now(),
		})
	}

	fingerprint, err := Fingerprint(toolName, arguments)
	if err != nil {
		return v.finish(Decision{
			Allow:     false,
			Reason:    "arguments are not canonicalizable",
			RequestID: requestID,
			Source:    SourcePolicy,
			CreatedAt: v.now(),
		})
	}

	if v.cfg.CacheEnabled {
		if d, ok := v.cache.get(fingerprint); ok {
			if v.metrics != nil {
				v.metrics.CacheHits.Inc()
			}
			d.RequestID = requestID
			d.Cached = true
			return v.finish(d)
		}
		if v.metrics != nil {
			v.metrics.CacheMisses.Inc()
		}
	}

	// Coalesce: one evaluation per fingerprint, shared by all waiters.
	result, err, _ := v.flight.Do(fingerprint, func() (any, error) {
		return v.evaluate(ctx, toolName, arguments, fingerprint), nil
	})
	if err != nil {
		// Unreachable: evaluate never returns an error.
		return v.finish(v.policyDecision(fingerprint, err))
	}

	d := result.(Decision)
	d.RequestID = requestID
	return v.finish(d)
}

// evaluate is the cache-miss path: findings short-circuit, then the
// live guardrail call.
func (v *Validator) evaluate(ctx context.Context, toolName string, arguments any, fingerprint string) Decision {
	v.mu.RLock()
	severity, known := v.worst[toolName]
	v.mu.RUnlock()
	if known && severity.AtLeast(finding.High) {
		// Short-circuit denials cache like any other decision; a
		// rescan that clears the finding takes effect after the TTL.
		d := Decision{
			Allow:       false,
			Reason:      fmt.Sprintf("tool %s has a %s finding from the last scan", toolName, severity),
			Fingerprint: fingerprint,
			Source:      SourceFindings,
			CreatedAt:   v.now(),
		}
		v.store(d)
		return d
	}

	text := guardrail.FormatToolCall(map[string]any{
		"params": map[string]any{"name": toolName, "arguments": arguments},
	})

	started := v.now()
	verdict, err := v.guard.Check(ctx, text)
	if v.metrics != nil {
		v.metrics.GuardrailTime.Observe(v.now().Sub(started).Seconds())
	}
	if err != nil {
		v.logger.Warn("guardrail unavailable, applying availability policy",
			"fail_open", v.cfg.FailOpen, "error", err)
		if v.metrics != nil {
			v.metrics.GuardrailErrors.Inc()
		}
		// Policy decisions are deliberately not cached: the guard may
		// recover on the next request.
		return v.policyDecision(fingerprint, err)
	}

	d := Decision{
		Allow:       verdict.Allowed,
		Reason:      verdict.Reason,
		Fingerprint: fingerprint,
		Source:      SourceGuardrail,
		CreatedAt:   v.now(),
	}
	v.store(d)
	return d
}

func (v *Validator) policyDecision(fingerprint string, err error) Decision {
	reason := "guardrail unavailable, denied by fail-closed policy"
	if v.cfg.FailOpen {
		reason = "guardrail unavailable, allowed by fail-open policy"
	}
	return Decision{
		Allow:       v.cfg.FailOpen,
		Reason:      reason,
		Fingerprint: fingerprint,
		Source:      SourcePolicy,
		CreatedAt:   v.now(),
	}
}

func (v *Validator) store(d Decision) {
	if v.cfg.CacheEnabled {
		v.cache.put(d.Fingerprint, d)
	}
}

func (v *Validator) finish(d Decision) Decision {
	if v.metrics != nil {
		outcome := "deny"
		if d.Allow {
			outcome = "allow"
		}
		source := d.Source
		if d.Cached {
			source = SourceCache
		}
		v.metrics.Decisions.WithLabelValues(outcome, source).Inc()
	}
	v.logger.Debug("validation decision",
		"allow", d.Allow, "source", d.Source, "cached", d.Cached,
		"fingerprint", d.Fingerprint, "request_id", d.RequestID)
	return d
}

// CacheSize reports the live decision-cache entry count.
func (v *Validator) CacheSize() int { return v.cache.len() }

// extractToolCall pulls the tool identity and arguments out of a
// decoded tools/call request.
func extractToolCall(request map[string]any) (string, any, bool) {
	if method, _ := request["method"].(string); method != "tools/call" {
		return "", nil, false
	}
	params, ok := request["params"].(map[string]any)
	if !ok {
		return "", nil, false
	}
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return "", nil, false
	}
	return name, params["arguments"], true
}
