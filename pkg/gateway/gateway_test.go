package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/finding"
	"github.com/mcpscan/mcpscan/pkg/guardrail"
)

// fakeGuard is a scriptable guardrail.
type fakeGuard struct {
	verdict guardrail.Verdict
	err     error
	delay   time.Duration
	calls   atomic.Int64
}

func (g *fakeGuard) Check(ctx context.Context, _ string) (guardrail.Verdict, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return guardrail.Verdict{}, ctx.Err()
		}
	}
	return g.verdict, g.err
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func toolCall(name string, args map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	}
}

func TestGuardrailAllowAndDeny(t *testing.T) {
	allow := &fakeGuard{verdict: guardrail.Verdict{Allowed: true, Reason: "clean"}}
	v := New(DefaultConfig(), allow)
	d := v.Validate(context.Background(), toolCall("read_file", map[string]any{"path": "a.txt"}))
	assert.True(t, d.Allow)
	assert.Equal(t, SourceGuardrail, d.Source)
	assert.NotEmpty(t, d.RequestID)
	assert.NotEmpty(t, d.Fingerprint)

	deny := &fakeGuard{verdict: guardrail.Verdict{Allowed: false, Reason: "injection"}}
	v = New(DefaultConfig(), deny)
	d = v.Validate(context.Background(), toolCall("read_file", map[string]any{"path": "a.txt"}))
	assert.False(t, d.Allow)
	assert.Equal(t, "injection", d.Reason)
}

func TestFailOpenAndFailClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 50 * time.Millisecond

	slow := &fakeGuard{delay: time.Second, verdict: guardrail.Verdict{Allowed: true}}
	cfg.FailOpen = true
	d := New(cfg, slow).Validate(context.Background(), toolCall("t", nil))
	assert.True(t, d.Allow)
	assert.Equal(t, SourcePolicy, d.Source)

	slow = &fakeGuard{delay: time.Second, verdict: guardrail.Verdict{Allowed: true}}
	cfg.FailOpen = false
	d = New(cfg, slow).Validate(context.Background(), toolCall("t", nil))
	assert.False(t, d.Allow)
	assert.Equal(t, SourcePolicy, d.Source)
}

func TestPolicyDecisionsAreNotCached(t *testing.T) {
	guard := &fakeGuard{err: errors.New("connection refused")}
	v := New(DefaultConfig(), guard)

	v.Validate(context.Background(), toolCall("t", nil))
	v.Validate(context.Background(), toolCall("t", nil))

	// Both requests hit the guard: a recovered guard must be retried.
	assert.Equal(t, int64(2), guard.calls.Load())
	assert.Equal(t, 0, v.CacheSize())
}

func TestCacheTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.CacheTTL = 300 * time.Second
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true, Reason: "clean"}}
	v := New(cfg, guard, WithClock(clock.now))

	req := toolCall("read_file", map[string]any{"path": "a.txt"})

	first := v.Validate(context.Background(), req)
	assert.False(t, first.Cached)
	require.Equal(t, int64(1), guard.calls.Load())

	// Before T+TTL: served from cache, unchanged.
	clock.advance(299 * time.Second)
	second := v.Validate(context.Background(), req)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int64(1), guard.calls.Load())

	// After T+TTL: re-evaluated with a fresh guard call.
	clock.advance(2 * time.Second)
	third := v.Validate(context.Background(), req)
	assert.False(t, third.Cached)
	assert.Equal(t, int64(2), guard.calls.Load())
}

func TestCacheDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheEnabled = false
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true}}
	v := New(cfg, guard)

	req := toolCall("t", nil)
	v.Validate(context.Background(), req)
	v.Validate(context.Background(), req)
	assert.Equal(t, int64(2), guard.calls.Load())
}

func TestConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	guard := &fakeGuard{delay: 50 * time.Millisecond, verdict: guardrail.Verdict{Allowed: true}}
	cfg := DefaultConfig()
	cfg.CacheEnabled = false // force every request onto the flight path
	v := New(cfg, guard)

	req := toolCall("read_file", map[string]any{"path": "a.txt"})
	const n = 16
	var wg sync.WaitGroup
	decisions := make([]Decision, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions[i] = v.Validate(context.Background(), req)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), guard.calls.Load())
	for _, d := range decisions {
		assert.True(t, d.Allow)
	}
}

func TestShortCircuitOnHighFinding(t *testing.T) {
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true}}
	v := New(DefaultConfig(), guard)
	v.UseScan(aggregate.Result{Findings: []finding.Finding{{
		Severity:  finding.High,
		Category:  finding.PathTraversal,
		Component: finding.Component{Kind: finding.KindTool, Name: "create_or_update_file"},
	}}})

	d := v.Validate(context.Background(), toolCall("create_or_update_file", map[string]any{"path": "../../etc/passwd"}))
	assert.False(t, d.Allow)
	assert.Equal(t, SourceFindings, d.Source)
	assert.Contains(t, d.Reason, "create_or_update_file")

	// The guardrail was never consulted, and the denial is cached.
	assert.Equal(t, int64(0), guard.calls.Load())
	assert.Equal(t, 1, v.CacheSize())
}

func TestMediumFindingDoesNotShortCircuit(t *testing.T) {
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true}}
	v := New(DefaultConfig(), guard)
	v.UseScan(aggregate.Result{Findings: []finding.Finding{{
		Severity:  finding.Medium,
		Category:  finding.PIILeakage,
		Component: finding.Component{Kind: finding.KindTool, Name: "list_users"},
	}}})

	d := v.Validate(context.Background(), toolCall("list_users", nil))
	assert.True(t, d.Allow)
	assert.Equal(t, int64(1), guard.calls.Load())
}

func TestFingerprintKeyOrderIndependent(t *testing.T) {
	a, err := Fingerprint("tool", map[string]any{"x": 1, "y": "z", "nested": map[string]any{"b": 2, "a": 1}})
	require.NoError(t, err)
	b, err := Fingerprint("tool", map[string]any{"nested": map[string]any{"a": 1, "b": 2}, "y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^req_[0-9a-f]{64}$`, a)

	c, err := Fingerprint("tool", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Fingerprint("other", map[string]any{"x": 1, "y": "z", "nested": map[string]any{"a": 1, "b": 2}})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestMalformedRequestDenied(t *testing.T) {
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true}}
	v := New(DefaultConfig(), guard)

	cases := []map[string]any{
		{"method": "tools/list"},
		{"method": "tools/call"},
		{"method": "tools/call", "params": map[string]any{"arguments": map[string]any{}}},
	}
	for _, req := range cases {
		d := v.Validate(context.Background(), req)
		assert.False(t, d.Allow)
		assert.Equal(t, SourcePolicy, d.Source)
	}
	assert.Equal(t, int64(0), guard.calls.Load())
}

func TestMetricsCountDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	guard := &fakeGuard{verdict: guardrail.Verdict{Allowed: true}}
	v := New(DefaultConfig(), guard, WithMetrics(m))

	req := toolCall("t", nil)
	v.Validate(context.Background(), req) // miss + guardrail allow
	v.Validate(context.Background(), req) // cache hit

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("allow", SourceGuardrail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("allow", SourceCache)))
}

func TestCacheEviction(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newDecisionCache(time.Minute, 2, clock.now)

	c.put("a", Decision{Fingerprint: "a"})
	clock.advance(time.Second)
	c.put("b", Decision{Fingerprint: "b"})
	clock.advance(time.Second)
	c.put("c", Decision{Fingerprint: "c"})

	assert.Equal(t, 2, c.len())
	_, ok := c.get("a") // oldest evicted
	assert.False(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
