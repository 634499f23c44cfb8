package rules

import (
	"fmt"
	"regexp"
)

// Match is one rule that fired on a text.
type Match struct {
	Rule Rule
}

// CompiledSet is an opaque handle produced by a Matcher's Compile and
// consumed by its Eval.
type CompiledSet any

// Matcher compiles rule patterns and evaluates text against them. The
// pipeline only sees this interface, so the engine can be replaced
// (e.g. by a YARA binding) without touching the analyzers.
type Matcher interface {
	Compile(rules []Rule) (CompiledSet, error)
	Eval(text string, set CompiledSet) []Match
}

type compiledRule struct {
	rule     Rule
	patterns []*regexp.Regexp
	exclude  []*regexp.Regexp
}

type regexSet struct {
	rules []compiledRule
}

// RegexMatcher is the default matching engine built on the standard
// regexp package. Its linear-time guarantee means hostile capability
// text cannot blow up matching the way a backtracking engine would.
type RegexMatcher struct{}

// NewRegexMatcher returns the default Matcher.
func NewRegexMatcher() *RegexMatcher { return &RegexMatcher{} }

// Compile compiles every pattern and exclude of every rule. A single
// bad expression fails the whole compile, named by rule.
func (RegexMatcher) Compile(rules []Rule) (CompiledSet, error) {
	set := &regexSet{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr := compiledRule{rule: r}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rules: rule %q: pattern %q: %w", r.ID, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		for _, p := range r.Exclude {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rules: rule %q: exclude %q: %w", r.ID, p, err)
			}
			cr.exclude = append(cr.exclude, re)
		}
		set.rules = append(set.rules, cr)
	}
	return set, nil
}

// Eval returns every rule that fires on text, in rule order. All
// matching rules fire; there is no early exit, because distinct rules
// signal distinct categories on the same text.
func (RegexMatcher) Eval(text string, set CompiledSet) []Match {
	rs, ok := set.(*regexSet)
	if !ok {
		return nil
	}
	var out []Match
	for _, cr := range rs.rules {
		if cr.fires(text) {
			out = append(out, Match{Rule: cr.rule})
		}
	}
	return out
}

func (cr compiledRule) fires(text string) bool {
	matched := cr.rule.Match == MatchAll
	for _, re := range cr.patterns {
		hit := re.MatchString(text)
		if cr.rule.Match == MatchAll {
			if !hit {
				return false
			}
		} else if hit {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, re := range cr.exclude {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}
