// Package finding provides the shared security finding model used by
// every analyzer: severities, vulnerability categories, component
// references, and deterministic ordering.
//
// Analyzers construct Findings referencing manifest components by kind
// and identity key — never by pointer — so a manifest can be serialized
// or discarded independently of its findings.
package finding

import "sort"

// Category classifies the kind of vulnerability a finding reports.
type Category string

const (
	ToolPoisoning         Category = "tool_poisoning"
	SecretsLeakage        Category = "secrets_leakage"
	SQLInjection          Category = "sql_injection"
	CommandInjection      Category = "command_injection"
	PathTraversal         Category = "path_traversal"
	AuthBypass            Category = "auth_bypass"
	CrossOriginEscalation Category = "cross_origin_escalation"
	PromptInjection       Category = "prompt_injection"
	PIILeakage            Category = "pii_leakage"
	Jailbreak             Category = "jailbreak"
	Other                 Category = "other"
)

// Categories lists every known category, used for per-category config
// switches and validation.
func Categories() []Category {
	return []Category{
		ToolPoisoning, SecretsLeakage, SQLInjection, CommandInjection,
		PathTraversal, AuthBypass, CrossOriginEscalation,
		PromptInjection, PIILeakage, Jailbreak, Other,
	}
}

// IsValid reports whether c is a recognized category.
func (c Category) IsValid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// ComponentKind identifies which section of a manifest a component
// belongs to.
type ComponentKind string

const (
	KindTool     ComponentKind = "tool"
	KindResource ComponentKind = "resource"
	KindPrompt   ComponentKind = "prompt"
	// KindServer marks manifest-level findings from post-scan rules.
	KindServer ComponentKind = "server"
)

// Component references a manifest entry by kind and identity key.
type Component struct {
	Kind ComponentKind `json:"kind"`
	Name string        `json:"name"`
}

// Source identifies which analyzer (and rule, where applicable)
// produced a finding.
type Source struct {
	Analyzer string `json:"analyzer"`
	Rule     string `json:"rule,omitempty"`
}

// Finding is a single detected security issue. Immutable once
// constructed.
type Finding struct {
	Severity       Severity  `json:"severity"`
	Category       Category  `json:"category"`
	Component      Component `json:"component"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation,omitempty"`
	Source         Source    `json:"source"`

	// Seq is the discovery sequence number assigned by the aggregator,
	// used as the stable tie-break when sorting by severity.
	Seq int `json:"-"`
}

// Key returns the deduplication key: findings sharing a component and
// category collapse to the highest-severity instance.
func (f Finding) Key() DedupKey {
	return DedupKey{Component: f.Component, Category: f.Category}
}

// DedupKey is the (component, category) identity used by deduplication.
type DedupKey struct {
	Component Component
	Category  Category
}

// SortStable orders findings by descending severity with discovery
// sequence as the tie-break. The order is deterministic regardless of
// which analyzer finished first.
func SortStable(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity.Score() != fs[j].Severity.Score() {
			return fs[i].Severity.Score() > fs[j].Severity.Score()
		}
		return fs[i].Seq < fs[j].Seq
	})
}
