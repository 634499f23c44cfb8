// Package rules implements the pattern-matching analyzer: YAML rule
// files compiled once at engine startup into an immutable RuleSet and
// evaluated against each capability's matchable text.
//
// The concrete matching engine sits behind the Matcher interface so it
// can be swapped without touching the pipeline; the default is a
// regex-set matcher.
package rules

import (
	"fmt"

	"github.com/mcpscan/mcpscan/pkg/finding"
)

// Phase controls when a rule runs.
type Phase string

const (
	// PhasePre rules evaluate each component's text individually.
	PhasePre Phase = "pre"
	// PhasePost rules evaluate the concatenated text of the whole
	// manifest once, after per-component matching, for correlations
	// no single component exhibits.
	PhasePost Phase = "post"
)

// MatchMode controls how a rule's patterns combine.
type MatchMode string

const (
	// MatchAny fires when at least one pattern matches (default).
	MatchAny MatchMode = "any"
	// MatchAll fires only when every pattern matches.
	MatchAll MatchMode = "all"
)

// Rule is one detection rule as loaded from YAML. Severity and category
// live here, not in the matcher: the matcher only decides whether the
// rule fires.
type Rule struct {
	ID             string           `yaml:"id"`
	Category       finding.Category `yaml:"category"`
	Severity       finding.Severity `yaml:"severity"`
	Phase          Phase            `yaml:"phase"`
	Match          MatchMode        `yaml:"match"`
	Description    string           `yaml:"description"`
	Recommendation string           `yaml:"recommendation"`
	Patterns       []string         `yaml:"patterns"`

	// Exclude patterns veto a match; a schema that constrains a path
	// argument with "pattern" or "enum" should not trip the traversal
	// rule.
	Exclude []string `yaml:"exclude"`
}

// normalize fills phase/match defaults and validates metadata. Pattern
// syntax is checked later, at compile time.
func (r *Rule) normalize() error {
	if r.ID == "" {
		return fmt.Errorf("rules: rule with empty id")
	}
	if r.Phase == "" {
		r.Phase = PhasePre
	}
	if r.Phase != PhasePre && r.Phase != PhasePost {
		return fmt.Errorf("rules: rule %q: unknown phase %q", r.ID, r.Phase)
	}
	if r.Match == "" {
		r.Match = MatchAny
	}
	if r.Match != MatchAny && r.Match != MatchAll {
		return fmt.Errorf("rules: rule %q: unknown match mode %q", r.ID, r.Match)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("rules: rule %q: invalid severity %q", r.ID, r.Severity)
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("rules: rule %q: invalid category %q", r.ID, r.Category)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rules: rule %q: no patterns", r.ID)
	}
	return nil
}

// RuleSet is the compiled, process-wide rule collection. Loaded once at
// engine initialization, read-only afterwards, safe for concurrent use.
type RuleSet struct {
	matcher Matcher
	pre     CompiledSet
	post    CompiledSet
	nPre    int
	nPost   int
}

// NewRuleSet validates and compiles rules with the given matcher. Any
// malformed rule is a fatal error: a broken rule file must not silently
// disable scanning.
func NewRuleSet(m Matcher, rules []Rule) (*RuleSet, error) {
	var pre, post []Rule
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := rules[i]
		if err := r.normalize(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rules: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Phase == PhasePost {
			post = append(post, r)
		} else {
			pre = append(pre, r)
		}
	}

	compiledPre, err := m.Compile(pre)
	if err != nil {
		return nil, err
	}
	compiledPost, err := m.Compile(post)
	if err != nil {
		return nil, err
	}
	return &RuleSet{
		matcher: m,
		pre:     compiledPre,
		post:    compiledPost,
		nPre:    len(pre),
		nPost:   len(post),
	}, nil
}

// Len returns the total number of compiled rules.
func (s *RuleSet) Len() int { return s.nPre + s.nPost }

// EvalPre runs the per-component rules against one component's text.
func (s *RuleSet) EvalPre(text string) []Match {
	return s.matcher.Eval(text, s.pre)
}

// EvalPost runs the manifest-level rules against the aggregate text.
func (s *RuleSet) EvalPost(text string) []Match {
	return s.matcher.Eval(text, s.post)
}
