// Package discovery builds a capability manifest for one MCP target by
// driving the protocol handshake and the three list calls. Stage
// failures degrade to partial manifests instead of failing the scan:
// a server that rejects prompts/list still gets its tools analyzed.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/sync/errgroup"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
	"github.com/mcpscan/mcpscan/pkg/mcpclient"
	"github.com/mcpscan/mcpscan/pkg/retry"
)

// caller is the slice of the MCP client discovery depends on; the full
// client satisfies it, tests stub it.
type caller interface {
	Call(ctx context.Context, method string, params any) (jsontext.Value, error)
	Initialize(ctx context.Context) (capability.ServerInfo, error)
}

// Discoverer runs the capability enumeration for one target.
type Discoverer struct {
	client  caller
	retry   retry.Config
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithRetry overrides the per-stage retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(d *Discoverer) { d.retry = cfg }
}

// WithTimeout bounds the whole discovery phase.
func WithTimeout(t time.Duration) Option {
	return func(d *Discoverer) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Discoverer) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Discoverer over an MCP client.
func New(client caller, opts ...Option) *Discoverer {
	d := &Discoverer{
		client:  client,
		retry:   retry.DefaultConfig(),
		timeout: duration.DiscoveryTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover enumerates the target's capabilities. The handshake runs
// first, then the three list calls run concurrently. Each stage is
// retried per policy, and a stage that still fails is recorded on the
// manifest without aborting the others.
//
// Remote JSON-RPC errors (e.g. "method not found" from a server with
// no prompts) are not retried: the server answered, it just does not
// implement the method.
func (d *Discoverer) Discover(ctx context.Context, target string) (*capability.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m := &capability.Manifest{Target: target}

	info, err := d.initialize(ctx)
	if err != nil {
		// Some servers skip the handshake entirely; proceed to the
		// list calls with an anonymous identity.
		d.logger.Warn("initialize failed, continuing without server info",
			"target", target, "error", err)
		m.Errors = append(m.Errors, stageErr(capability.StageServerInfo, err))
	} else {
		m.Server = info
	}

	var g errgroup.Group
	var stageErrs [3]*capability.StageError

	g.Go(func() error {
		tools, err := d.listTools(ctx)
		if err != nil {
			stageErrs[0] = ptr(stageErr(capability.StageTools, err))
			return nil
		}
		m.Tools = tools
		return nil
	})
	g.Go(func() error {
		resources, err := d.listResources(ctx)
		if err != nil {
			stageErrs[1] = ptr(stageErr(capability.StageResources, err))
			return nil
		}
		m.Resources = resources
		return nil
	})
	g.Go(func() error {
		prompts, err := d.listPrompts(ctx)
		if err != nil {
			stageErrs[2] = ptr(stageErr(capability.StagePrompts, err))
			return nil
		}
		m.Prompts = prompts
		return nil
	})
	_ = g.Wait()

	for _, se := range stageErrs {
		if se != nil {
			d.logger.Warn("discovery stage failed", "target", target,
				"stage", se.Stage, "error", se.Err)
			m.Errors = append(m.Errors, *se)
		}
	}

	// A target where every stage failed, handshake included, is
	// unreachable rather than partially discovered.
	if m.ComponentCount() == 0 && len(m.Errors) == 4 {
		return m, errors.Join(mcpclient.ErrUnreachable,
			errors.New("discovery: all stages failed"))
	}

	d.logger.Info("discovery complete", "target", target,
		"tools", len(m.Tools), "resources", len(m.Resources),
		"prompts", len(m.Prompts), "stage_errors", len(m.Errors))
	return m, nil
}

func (d *Discoverer) initialize(ctx context.Context) (capability.ServerInfo, error) {
	var info capability.ServerInfo
	err := d.withRetry(ctx, func() error {
		var err error
		info, err = d.client.Initialize(ctx)
		return err
	})
	return info, err
}

func (d *Discoverer) listTools(ctx context.Context) ([]capability.Tool, error) {
	var out []capability.Tool
	err := d.withRetry(ctx, func() error {
		raw, err := d.client.Call(ctx, "tools/list", nil)
		if err != nil {
			return err
		}
		var result struct {
			Tools []jsontext.Value `json:"tools"`
		}
		if err := jsonutil.Unmarshal(raw, &result); err != nil {
			return err
		}
		out = out[:0]
		for _, item := range result.Tools {
			var t capability.Tool
			if err := jsonutil.Unmarshal(item, &t); err != nil {
				return err
			}
			t.Raw = item
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

func (d *Discoverer) listResources(ctx context.Context) ([]capability.Resource, error) {
	var out []capability.Resource
	err := d.withRetry(ctx, func() error {
		raw, err := d.client.Call(ctx, "resources/list", nil)
		if err != nil {
			return err
		}
		var result struct {
			Resources []jsontext.Value `json:"resources"`
		}
		if err := jsonutil.Unmarshal(raw, &result); err != nil {
			return err
		}
		out = out[:0]
		for _, item := range result.Resources {
			var r capability.Resource
			if err := jsonutil.Unmarshal(item, &r); err != nil {
				return err
			}
			r.Raw = item
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (d *Discoverer) listPrompts(ctx context.Context) ([]capability.Prompt, error) {
	var out []capability.Prompt
	err := d.withRetry(ctx, func() error {
		raw, err := d.client.Call(ctx, "prompts/list", nil)
		if err != nil {
			return err
		}
		var result struct {
			Prompts []jsontext.Value `json:"prompts"`
		}
		if err := jsonutil.Unmarshal(raw, &result); err != nil {
			return err
		}
		out = out[:0]
		for _, item := range result.Prompts {
			var p capability.Prompt
			if err := jsonutil.Unmarshal(item, &p); err != nil {
				return err
			}
			p.Raw = item
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// withRetry applies the stage retry policy, short-circuiting on remote
// and malformed errors since re-asking will not change the answer.
func (d *Discoverer) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, d.retry, func() error {
		err := fn()
		if errors.Is(err, mcpclient.ErrRemote) || errors.Is(err, mcpclient.ErrMalformed) {
			return retry.Stop(err)
		}
		return err
	})
}

func stageErr(stage capability.Stage, err error) capability.StageError {
	return capability.StageError{Stage: stage, Err: err.Error()}
}

func ptr[T any](v T) *T { return &v }
