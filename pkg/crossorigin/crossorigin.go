// Package crossorigin detects trust-boundary violations inside one
// manifest: components whose metadata points at domains other than the
// manifest's dominant domain, and components mixing plaintext and TLS
// variants of the same domain.
package crossorigin

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

// urlPattern finds URL-shaped substrings in free text. Scheme-less
// bare domains are deliberately not matched: "config.yaml" is not a
// network reference.
var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>\\)\]]+`)

// componentRefs is one component's extracted network references.
type componentRefs struct {
	component finding.Component
	// schemes maps normalized domain to the set of schemes seen.
	schemes map[string]map[string]bool
}

// DomainCluster is the manifest-level clustering result: every
// component grouped by normalized domain, the dominant baseline, and
// the components that cross it.
type DomainCluster struct {
	// Members maps each normalized domain to the components that
	// reference it, in discovery order.
	Members map[string][]finding.Component
	// Baseline is the majority domain; ties break lexicographically so
	// repeated scans of the same manifest pick the same baseline.
	Baseline string
	// Outliers are components referencing at least one non-baseline
	// domain.
	Outliers []finding.Component
}

// Analyzer extracts and clusters domain references.
type Analyzer struct {
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cluster extracts every domain reference from the manifest and builds
// its DomainCluster. A manifest with no references yields a cluster
// with an empty baseline.
func (a *Analyzer) Cluster(m *capability.Manifest) *DomainCluster {
	refs := extract(m)

	cluster := &DomainCluster{Members: make(map[string][]finding.Component)}
	for _, cr := range refs {
		for domain := range cr.schemes {
			cluster.Members[domain] = append(cluster.Members[domain], cr.component)
		}
	}
	if len(cluster.Members) == 0 {
		return cluster
	}

	domains := make([]string, 0, len(cluster.Members))
	for d := range cluster.Members {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	baseline := domains[0]
	for _, d := range domains[1:] {
		if len(cluster.Members[d]) > len(cluster.Members[baseline]) {
			baseline = d
		}
	}
	cluster.Baseline = baseline

	for _, cr := range refs {
		for domain := range cr.schemes {
			if domain != baseline {
				cluster.Outliers = append(cluster.Outliers, cr.component)
				break
			}
		}
	}
	return cluster
}

// Analyze flags outlier components at HIGH and mixed-scheme components
// at MEDIUM. A manifest with zero or one distinct domain produces no
// escalation findings: absence of URLs is not a finding.
func (a *Analyzer) Analyze(ctx context.Context, m *capability.Manifest) []finding.Finding {
	if ctx.Err() != nil {
		return nil
	}
	refs := extract(m)
	cluster := a.Cluster(m)

	var out []finding.Finding
	if len(cluster.Members) > 1 {
		for _, cr := range refs {
			foreign := foreignDomains(cr, cluster.Baseline)
			if len(foreign) == 0 {
				continue
			}
			out = append(out, finding.Finding{
				Severity:  finding.High,
				Category:  finding.CrossOriginEscalation,
				Component: cr.component,
				Description: fmt.Sprintf("references %s outside the manifest baseline domain %s",
					strings.Join(foreign, ", "), cluster.Baseline),
				Recommendation: "Serve all capabilities from a single trusted domain or split the server",
				Source:         finding.Source{Analyzer: "cross_origin"},
			})
		}
	}

	// Mixed-scheme hygiene findings are not escalations: http:// and
	// https:// normalize to one domain, and a single-domain manifest
	// must never carry a cross_origin_escalation finding. The distinct
	// category also keeps dedup from collapsing a hygiene finding into
	// an escalation on the same component.
	for _, cr := range refs {
		for _, domain := range sortedDomains(cr) {
			schemes := cr.schemes[domain]
			if schemes["http"] && schemes["https"] {
				out = append(out, finding.Finding{
					Severity:  finding.Medium,
					Category:  finding.Other,
					Component: cr.component,
					Description: fmt.Sprintf("references both http:// and https:// variants of %s",
						domain),
					Recommendation: "Use https:// consistently",
					Source:         finding.Source{Analyzer: "cross_origin"},
				})
			}
		}
	}

	a.logger.Debug("cross-origin analysis complete",
		"domains", len(cluster.Members), "baseline", cluster.Baseline,
		"outliers", len(cluster.Outliers), "findings", len(out))
	return out
}

// extract walks every string field of every component in discovery
// order and collects normalized domain references.
func extract(m *capability.Manifest) []componentRefs {
	var out []componentRefs

	add := func(comp finding.Component, texts ...string) {
		cr := componentRefs{component: comp, schemes: make(map[string]map[string]bool)}
		for _, text := range texts {
			for _, raw := range urlPattern.FindAllString(text, -1) {
				scheme, domain, ok := normalize(raw)
				if !ok {
					continue
				}
				if cr.schemes[domain] == nil {
					cr.schemes[domain] = make(map[string]bool)
				}
				cr.schemes[domain][scheme] = true
			}
		}
		if len(cr.schemes) > 0 {
			out = append(out, cr)
		}
	}

	for _, t := range m.Tools {
		add(finding.Component{Kind: finding.KindTool, Name: t.Name},
			t.Description, string(t.InputSchema))
	}
	for _, r := range m.Resources {
		add(finding.Component{Kind: finding.KindResource, Name: r.Name},
			r.URI, r.Description)
	}
	for _, p := range m.Prompts {
		texts := []string{p.Description}
		for _, arg := range p.Arguments {
			texts = append(texts, arg.Description)
		}
		add(finding.Component{Kind: finding.KindPrompt, Name: p.Name}, texts...)
	}
	return out
}

// normalize strips scheme, port, trailing punctuation and lowercases
// the host. Returns ok=false for unparseable candidates.
func normalize(raw string) (scheme, domain string, ok bool) {
	raw = strings.TrimRight(raw, ".,;:!?")
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", false
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Hostname()), true
}

func foreignDomains(cr componentRefs, baseline string) []string {
	var out []string
	for _, d := range sortedDomains(cr) {
		if d != baseline {
			out = append(out, d)
		}
	}
	return out
}

func sortedDomains(cr componentRefs) []string {
	out := make([]string, 0, len(cr.schemes))
	for d := range cr.schemes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
