package aggregate

import (
	"time"

	"github.com/mcpscan/mcpscan/pkg/capability"
)

// Report is the serialized scan output consumed by renderers and the
// gateway cache. The field layout is the stable external contract;
// renderers must not need anything beyond it.
type Report struct {
	URL          string                `json:"url"`
	Status       string                `json:"status"`
	ResponseTime float64               `json:"response_time"`
	Timestamp    time.Time             `json:"timestamp"`
	ServerInfo   capability.ServerInfo `json:"server_info"`
	ScanResults  ScanResults           `json:"scan_results"`
	Issues       []SecurityIssue       `json:"security_issues"`
	RuleMatches  []RuleMatch           `json:"yara_results"`
}

// ScanResults groups the discovered capabilities by kind.
type ScanResults struct {
	Tools     []capability.Tool     `json:"tools"`
	Resources []capability.Resource `json:"resources"`
	Prompts   []capability.Prompt   `json:"prompts"`
}

// SecurityIssue is one finding in wire form.
type SecurityIssue struct {
	Tool        string `json:"tool"`
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
}

// RuleMatch is one pattern-rule hit in wire form.
type RuleMatch struct {
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Matched     string `json:"matched"`
}

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// BuildReport converts an aggregated Result into the wire form.
// elapsed is the whole-scan wall time in seconds.
func BuildReport(r Result, elapsed float64, now time.Time) Report {
	status := StatusSuccess
	switch {
	case r.Manifest.ComponentCount() == 0 && len(r.Manifest.Errors) > 0:
		status = StatusFailed
	case len(r.Manifest.Errors) > 0 || len(r.Errors) > 0:
		status = StatusPartial
	}

	rep := Report{
		URL:          r.Manifest.Target,
		Status:       status,
		ResponseTime: elapsed,
		Timestamp:    now.UTC(),
		ServerInfo:   r.Manifest.Server,
		ScanResults: ScanResults{
			Tools:     r.Manifest.Tools,
			Resources: r.Manifest.Resources,
			Prompts:   r.Manifest.Prompts,
		},
		Issues:      []SecurityIssue{},
		RuleMatches: []RuleMatch{},
	}

	for _, f := range r.Findings {
		rep.Issues = append(rep.Issues, SecurityIssue{
			Tool:        f.Component.Name,
			Severity:    string(f.Severity),
			Type:        string(f.Category),
			Description: f.Description,
			Details:     f.Recommendation,
		})
		if f.Source.Analyzer == "patterns" && f.Source.Rule != "" {
			rep.RuleMatches = append(rep.RuleMatches, RuleMatch{
				Rule:        f.Source.Rule,
				Severity:    string(f.Severity),
				Description: f.Description,
				Matched:     f.Component.Name,
			})
		}
	}
	return rep
}
