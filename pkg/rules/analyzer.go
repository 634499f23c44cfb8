package rules

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

// Analyzer evaluates a compiled RuleSet against a manifest. Safe for
// concurrent use: the rule set is read-only and the analyzer holds no
// per-scan state.
type Analyzer struct {
	set      *RuleSet
	disabled map[finding.Category]bool
	logger   *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithCategorySwitches applies per-category on/off switches; categories
// absent from the map stay enabled.
func WithCategorySwitches(checks map[finding.Category]bool) AnalyzerOption {
	return func(a *Analyzer) {
		for cat, on := range checks {
			if !on {
				a.disabled[cat] = true
			}
		}
	}
}

// WithAnalyzerLogger attaches a structured logger.
func WithAnalyzerLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer wraps a compiled rule set.
func NewAnalyzer(set *RuleSet, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		set:      set,
		disabled: make(map[finding.Category]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs per-component rules over every tool, resource and prompt
// in discovery order, then the post-scan rules once over the aggregated
// text. The context is checked between components so a scan deadline
// cuts matching short.
func (a *Analyzer) Analyze(ctx context.Context, m *capability.Manifest) []finding.Finding {
	var out []finding.Finding
	var aggregate strings.Builder

	scan := func(comp finding.Component, text string) {
		aggregate.WriteString(text)
		aggregate.WriteByte('\n')
		for _, match := range a.set.EvalPre(text) {
			if f, ok := a.toFinding(match.Rule, comp); ok {
				out = append(out, f)
			}
		}
	}

	for _, t := range m.Tools {
		if ctx.Err() != nil {
			return out
		}
		scan(finding.Component{Kind: finding.KindTool, Name: t.Name}, t.MatchText())
	}
	for _, r := range m.Resources {
		if ctx.Err() != nil {
			return out
		}
		scan(finding.Component{Kind: finding.KindResource, Name: r.Name}, r.MatchText())
	}
	for _, p := range m.Prompts {
		if ctx.Err() != nil {
			return out
		}
		scan(finding.Component{Kind: finding.KindPrompt, Name: p.Name}, p.MatchText())
	}

	serverName := m.Server.Name
	if serverName == "" {
		serverName = m.Target
	}
	for _, match := range a.set.EvalPost(aggregate.String()) {
		if f, ok := a.toFinding(match.Rule, finding.Component{Kind: finding.KindServer, Name: serverName}); ok {
			out = append(out, f)
		}
	}

	a.logger.Debug("pattern analysis complete",
		"components", m.ComponentCount(), "findings", len(out))
	return out
}

func (a *Analyzer) toFinding(r Rule, comp finding.Component) (finding.Finding, bool) {
	if a.disabled[r.Category] {
		return finding.Finding{}, false
	}
	return finding.Finding{
		Severity:       r.Severity,
		Category:       r.Category,
		Component:      comp,
		Description:    r.Description,
		Recommendation: r.Recommendation,
		Source:         finding.Source{Analyzer: "patterns", Rule: r.ID},
	}, true
}
