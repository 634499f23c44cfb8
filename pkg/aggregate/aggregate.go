// Package aggregate merges analyzer outputs into the final ordered
// result: deduplication, severity floor, deterministic ordering, and
// the overall security posture.
package aggregate

import (
	"time"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

// Posture is the one-word overall assessment of a server.
type Posture string

const (
	PostureSecure  Posture = "secure"
	PostureCaution Posture = "caution"
	PostureAtRisk  Posture = "at_risk"
)

// PostureThresholds maps worst-severity floors to postures. A finding
// at or above AtRisk makes the posture at_risk; at or above Caution,
// caution.
type PostureThresholds struct {
	AtRisk  finding.Severity
	Caution finding.Severity
}

// DefaultThresholds returns the stock mapping: any critical finding
// means at risk, any high means caution.
func DefaultThresholds() PostureThresholds {
	return PostureThresholds{AtRisk: finding.Critical, Caution: finding.High}
}

// Config controls aggregation.
type Config struct {
	// MinSeverity drops findings below the floor. Empty means no floor.
	MinSeverity finding.Severity
	// Thresholds drive the posture mapping; zero fields fall back to
	// DefaultThresholds.
	Thresholds PostureThresholds
}

// Summary carries the scan counters.
type Summary struct {
	Tools      int                      `json:"tools"`
	Resources  int                      `json:"resources"`
	Prompts    int                      `json:"prompts"`
	Findings   int                      `json:"findings"`
	BySeverity map[finding.Severity]int `json:"by_severity,omitempty"`
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage   string        `json:"stage"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result is the aggregated scan outcome. Produced once, never mutated
// afterwards.
type Result struct {
	Manifest *capability.Manifest `json:"manifest"`
	Findings []finding.Finding    `json:"findings"`
	Summary  Summary              `json:"summary"`
	Posture  Posture              `json:"posture"`
	Timings  []StageTiming        `json:"timings,omitempty"`
	// Errors are analyzer-level failures (e.g. failed semantic batches)
	// beyond the manifest's own stage errors.
	Errors []string `json:"errors,omitempty"`
}

// Aggregator merges findings.
type Aggregator struct {
	cfg Config
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.Thresholds.AtRisk == "" {
		cfg.Thresholds.AtRisk = DefaultThresholds().AtRisk
	}
	if cfg.Thresholds.Caution == "" {
		cfg.Thresholds.Caution = DefaultThresholds().Caution
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate merges the analyzer finding groups. Groups must be passed
// in a fixed order (patterns, cross-origin, semantic) so the result is
// independent of which analyzer finished first.
//
// Findings sharing (component, category) collapse to the single
// highest-severity instance. Ordering is severity-descending with the
// component's discovery position as the tie-break.
func (a *Aggregator) Aggregate(m *capability.Manifest, groups ...[]finding.Finding) Result {
	rank := componentRanks(m)

	var merged []finding.Finding
	index := make(map[finding.DedupKey]int)
	for _, group := range groups {
		for _, f := range group {
			f.Seq = rank[f.Component]
			key := f.Key()
			if i, ok := index[key]; ok {
				if f.Severity.Score() > merged[i].Severity.Score() {
					merged[i] = f
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, f)
		}
	}

	if a.cfg.MinSeverity != "" {
		kept := merged[:0]
		for _, f := range merged {
			if f.Severity.AtLeast(a.cfg.MinSeverity) {
				kept = append(kept, f)
			}
		}
		merged = kept
	}

	finding.SortStable(merged)

	summary := Summary{
		Tools:     len(m.Tools),
		Resources: len(m.Resources),
		Prompts:   len(m.Prompts),
		Findings:  len(merged),
	}
	if len(merged) > 0 {
		summary.BySeverity = make(map[finding.Severity]int)
		for _, f := range merged {
			summary.BySeverity[f.Severity]++
		}
	}

	return Result{
		Manifest: m,
		Findings: merged,
		Summary:  summary,
		Posture:  a.posture(merged),
	}
}

// posture maps the worst finding onto the configured thresholds.
func (a *Aggregator) posture(fs []finding.Finding) Posture {
	p := PostureSecure
	for _, f := range fs {
		switch {
		case f.Severity.AtLeast(a.cfg.Thresholds.AtRisk):
			return PostureAtRisk
		case f.Severity.AtLeast(a.cfg.Thresholds.Caution):
			p = PostureCaution
		}
	}
	return p
}

// componentRanks maps each component to its discovery position.
// Manifest-level findings sort after every component.
func componentRanks(m *capability.Manifest) map[finding.Component]int {
	ranks := make(map[finding.Component]int, m.ComponentCount())
	for i, c := range m.Components() {
		ranks[c] = i
	}
	n := m.ComponentCount()
	serverName := m.Server.Name
	if serverName == "" {
		serverName = m.Target
	}
	ranks[finding.Component{Kind: finding.KindServer, Name: serverName}] = n
	return ranks
}
