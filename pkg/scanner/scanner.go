// Package scanner orchestrates the assessment pipeline: discovery,
// the three analyzers running concurrently over the manifest, and
// aggregation into the final result. Batch scans fan out over a
// bounded worker pool with full per-target isolation.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/crossorigin"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/discovery"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/finding"
	"github.com/mcpscan/mcpscan/pkg/mcpclient"
	"github.com/mcpscan/mcpscan/pkg/retry"
	"github.com/mcpscan/mcpscan/pkg/rules"
	"github.com/mcpscan/mcpscan/pkg/semantic"
	"github.com/mcpscan/mcpscan/pkg/telemetry"
	"github.com/mcpscan/mcpscan/pkg/workerpool"
)

// Config holds the engine's scan-time settings.
type Config struct {
	HTTPTimeout time.Duration
	ScanTimeout time.Duration
	Parallel    int
	Retry       retry.Config
	// AuthHeaders are forwarded to HTTP targets (e.g. Authorization).
	AuthHeaders map[string]string
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: duration.HTTPCall,
		ScanTimeout: duration.ScanTimeout,
		Parallel:    defaults.ParallelScans,
		Retry:       retry.Fixed(defaults.RetryStandard, defaults.RetryDelayMillis*time.Millisecond),
	}
}

// clientFactory builds a protocol client for one target. Swappable so
// tests can inject fakes without a network.
type clientFactory func(target string) (*mcpclient.Client, error)

// Engine runs scans. Safe for concurrent use: the rule set is
// read-only and all per-scan state is local to Scan.
type Engine struct {
	cfg         Config
	patterns    *rules.Analyzer
	patternsSet bool
	cross       *crossorigin.Analyzer
	sem         *semantic.Analyzer
	aggregator  *aggregate.Aggregator
	newClient   clientFactory
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPatterns installs the pattern analyzer; nil disables pattern
// scanning entirely.
func WithPatterns(a *rules.Analyzer) Option {
	return func(e *Engine) {
		e.patterns = a
		e.patternsSet = true
	}
}

// WithSemantic installs the semantic analyzer.
func WithSemantic(a *semantic.Analyzer) Option {
	return func(e *Engine) { e.sem = a }
}

// WithAggregator overrides the default aggregator.
func WithAggregator(a *aggregate.Aggregator) Option {
	return func(e *Engine) { e.aggregator = a }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClientFactory overrides protocol client construction.
func WithClientFactory(f clientFactory) Option {
	return func(e *Engine) { e.newClient = f }
}

// New creates an Engine. Unless WithPatterns overrides it, the built-in
// rule set is compiled here; a malformed built-in rule is a fatal
// construction error.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Parallel <= 0 {
		cfg.Parallel = defaults.ParallelScans
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = duration.ScanTimeout
	}

	e := &Engine{
		cfg:        cfg,
		cross:      crossorigin.New(),
		aggregator: aggregate.New(aggregate.Config{}),
		logger:     slog.Default(),
		tracer:     telemetry.Tracer("scanner"),
	}

	for _, opt := range opts {
		opt(e)
	}

	if !e.patternsSet {
		builtin, err := rules.Builtin()
		if err != nil {
			return nil, err
		}
		set, err := rules.NewRuleSet(rules.NewRegexMatcher(), builtin)
		if err != nil {
			return nil, err
		}
		e.patterns = rules.NewAnalyzer(set, rules.WithAnalyzerLogger(e.logger))
	}

	if e.newClient == nil {
		e.newClient = e.defaultClient
	}
	return e, nil
}

// defaultClient picks the transport from the target string: "stdio:"
// prefixed targets spawn a subprocess, everything else is HTTP(S).
func (e *Engine) defaultClient(target string) (*mcpclient.Client, error) {
	if cmdline, ok := strings.CutPrefix(target, "stdio:"); ok {
		fields := strings.Fields(cmdline)
		if len(fields) == 0 {
			return nil, fmt.Errorf("scanner: empty stdio command")
		}
		tr, err := mcpclient.NewStdioTransport(fields[0], fields[1:]...)
		if err != nil {
			return nil, err
		}
		return mcpclient.New(tr, mcpclient.WithTimeout(e.cfg.HTTPTimeout)), nil
	}

	tr, err := mcpclient.NewHTTPTransport(target, mcpclient.WithHeaders(e.cfg.AuthHeaders))
	if err != nil {
		return nil, err
	}
	return mcpclient.New(tr, mcpclient.WithTimeout(e.cfg.HTTPTimeout)), nil
}

// Scan assesses one target. The only fatal input error is a target
// that cannot produce a client (e.g. a syntactically invalid URL);
// everything downstream degrades into the result instead of failing.
func (e *Engine) Scan(ctx context.Context, target string) (aggregate.Result, error) {
	ctx, span := e.tracer.Start(ctx, "scan",
		trace.WithAttributes(attribute.String("scan.target", target)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScanTimeout)
	defer cancel()

	client, err := e.newClient(target)
	if err != nil {
		return aggregate.Result{}, err
	}
	defer client.Close()

	started := time.Now()
	var timingsMu sync.Mutex
	var timings []aggregate.StageTiming
	stage := func(name string, began time.Time) {
		timingsMu.Lock()
		defer timingsMu.Unlock()
		timings = append(timings, aggregate.StageTiming{Stage: name, Elapsed: time.Since(began)})
	}

	discoverStart := time.Now()
	dctx, dspan := e.tracer.Start(ctx, "scan.discover")
	manifest, derr := discovery.New(client,
		discovery.WithRetry(e.cfg.Retry),
		discovery.WithTimeout(e.cfg.ScanTimeout),
		discovery.WithLogger(e.logger),
	).Discover(dctx, target)
	dspan.End()
	stage("discover", discoverStart)

	if derr != nil {
		// Unreachable target: return the degraded result with its
		// stage annotations rather than an opaque failure.
		result := e.aggregator.Aggregate(manifest)
		result.Timings = timings
		return result, nil
	}

	var patternFindings, crossFindings, semFindings []finding.Finding
	var semErrs []error

	var g errgroup.Group
	if e.patterns != nil {
		g.Go(func() error {
			began := time.Now()
			actx, aspan := e.tracer.Start(ctx, "scan.patterns")
			patternFindings = e.patterns.Analyze(actx, manifest)
			aspan.End()
			stage("patterns", began)
			return nil
		})
	}
	g.Go(func() error {
		began := time.Now()
		actx, aspan := e.tracer.Start(ctx, "scan.cross_origin")
		crossFindings = e.cross.Analyze(actx, manifest)
		aspan.End()
		stage("cross_origin", began)
		return nil
	})
	if e.sem != nil && e.sem.Enabled() {
		g.Go(func() error {
			began := time.Now()
			actx, aspan := e.tracer.Start(ctx, "scan.semantic")
			semFindings, semErrs = e.sem.Analyze(actx, manifest)
			aspan.End()
			stage("semantic", began)
			return nil
		})
	}
	_ = g.Wait()

	_, aggSpan := e.tracer.Start(ctx, "scan.aggregate")
	result := e.aggregator.Aggregate(manifest, patternFindings, crossFindings, semFindings)
	aggSpan.End()

	result.Timings = timings
	for _, serr := range semErrs {
		result.Errors = append(result.Errors, serr.Error())
	}
	if e.sem != nil && !e.sem.Enabled() {
		result.Errors = append(result.Errors, "semantic analysis skipped: no reasoning API key configured")
	}

	e.logger.Info("scan complete", "target", target,
		"components", manifest.ComponentCount(),
		"findings", len(result.Findings),
		"posture", result.Posture,
		"elapsed", time.Since(started))
	return result, nil
}

// TargetResult is one target's outcome in a batch scan.
type TargetResult struct {
	Target string
	Result aggregate.Result
	Err    error
}

// ScanAll scans every target with bounded parallelism. Targets are
// fully isolated: one target's failure or timeout never affects
// another's result, and output order matches input order.
func (e *Engine) ScanAll(ctx context.Context, targets []string) []TargetResult {
	pool := workerpool.New(e.cfg.Parallel)
	defer pool.Close()

	return workerpool.Map(pool, targets, func(target string) TargetResult {
		result, err := e.Scan(ctx, target)
		return TargetResult{Target: target, Result: result, Err: err}
	})
}

// Report runs Scan and serializes the outcome into the wire form.
func (e *Engine) Report(ctx context.Context, target string) (aggregate.Report, error) {
	started := time.Now()
	result, err := e.Scan(ctx, target)
	if err != nil {
		return aggregate.Report{}, err
	}
	return aggregate.BuildReport(result, time.Since(started).Seconds(), time.Now()), nil
}
