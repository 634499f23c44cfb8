package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpscan/mcpscan/pkg/capability"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

func testManifest() *capability.Manifest {
	return &capability.Manifest{
		Target: "http://localhost:3000/mcp",
		Server: capability.ServerInfo{Name: "files"},
		Tools: []capability.Tool{
			{Name: "read_file"},
			{Name: "write_file"},
		},
		Resources: []capability.Resource{{Name: "etc", URI: "file:///etc"}},
	}
}

func tool(name string) finding.Component {
	return finding.Component{Kind: finding.KindTool, Name: name}
}

func TestDedupKeepsHighestSeverity(t *testing.T) {
	m := testManifest()
	patterns := []finding.Finding{
		{Severity: finding.Medium, Category: finding.ToolPoisoning, Component: tool("read_file"), Source: finding.Source{Analyzer: "patterns", Rule: "r1"}},
	}
	semantic := []finding.Finding{
		{Severity: finding.Critical, Category: finding.ToolPoisoning, Component: tool("read_file"), Source: finding.Source{Analyzer: "semantic"}},
	}

	r := New(Config{}).Aggregate(m, patterns, nil, semantic)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, finding.Critical, r.Findings[0].Severity)
	assert.Equal(t, "semantic", r.Findings[0].Source.Analyzer)
}

func TestDistinctCategoriesSurvive(t *testing.T) {
	m := testManifest()
	group := []finding.Finding{
		{Severity: finding.High, Category: finding.PathTraversal, Component: tool("read_file")},
		{Severity: finding.High, Category: finding.CommandInjection, Component: tool("read_file")},
	}

	r := New(Config{}).Aggregate(m, group)
	assert.Len(t, r.Findings, 2)
}

func TestOrderingSeverityDescThenDiscoveryOrder(t *testing.T) {
	m := testManifest()
	// Deliberately delivered out of order across groups.
	cross := []finding.Finding{
		{Severity: finding.High, Category: finding.CrossOriginEscalation, Component: tool("write_file")},
	}
	patterns := []finding.Finding{
		{Severity: finding.Low, Category: finding.Other, Component: tool("read_file")},
		{Severity: finding.High, Category: finding.PathTraversal, Component: tool("read_file")},
		{Severity: finding.Critical, Category: finding.ToolPoisoning, Component: tool("write_file")},
	}

	r := New(Config{}).Aggregate(m, patterns, cross)
	require.Len(t, r.Findings, 4)
	assert.Equal(t, finding.Critical, r.Findings[0].Severity)
	// Two highs: read_file was discovered before write_file.
	assert.Equal(t, "read_file", r.Findings[1].Component.Name)
	assert.Equal(t, "write_file", r.Findings[2].Component.Name)
	assert.Equal(t, finding.Low, r.Findings[3].Severity)
}

func TestAggregationIsOrderIndependentOfCompletion(t *testing.T) {
	m := testManifest()
	a := []finding.Finding{{Severity: finding.High, Category: finding.PathTraversal, Component: tool("read_file")}}
	b := []finding.Finding{{Severity: finding.High, Category: finding.AuthBypass, Component: tool("write_file")}}

	agg := New(Config{})
	r1 := agg.Aggregate(m, a, b)
	r2 := agg.Aggregate(m, a, b)
	assert.Equal(t, r1.Findings, r2.Findings)
}

func TestMinSeverityFloor(t *testing.T) {
	m := testManifest()
	group := []finding.Finding{
		{Severity: finding.Low, Category: finding.Other, Component: tool("read_file")},
		{Severity: finding.Medium, Category: finding.PIILeakage, Component: tool("read_file")},
		{Severity: finding.Critical, Category: finding.ToolPoisoning, Component: tool("write_file")},
	}

	r := New(Config{MinSeverity: finding.Medium}).Aggregate(m, group)
	require.Len(t, r.Findings, 2)
	for _, f := range r.Findings {
		assert.True(t, f.Severity.AtLeast(finding.Medium))
	}
}

func TestPosture(t *testing.T) {
	m := testManifest()
	agg := New(Config{})

	assert.Equal(t, PostureSecure, agg.Aggregate(m, nil).Posture)

	caution := []finding.Finding{{Severity: finding.High, Category: finding.AuthBypass, Component: tool("read_file")}}
	assert.Equal(t, PostureCaution, agg.Aggregate(m, caution).Posture)

	atRisk := append(caution, finding.Finding{Severity: finding.Critical, Category: finding.ToolPoisoning, Component: tool("write_file")})
	assert.Equal(t, PostureAtRisk, agg.Aggregate(m, atRisk).Posture)
}

func TestPostureThresholdsConfigurable(t *testing.T) {
	m := testManifest()
	medium := []finding.Finding{{Severity: finding.Medium, Category: finding.PIILeakage, Component: tool("read_file")}}
	high := []finding.Finding{{Severity: finding.High, Category: finding.AuthBypass, Component: tool("read_file")}}

	strict := New(Config{Thresholds: PostureThresholds{
		AtRisk:  finding.High,
		Caution: finding.Medium,
	}})
	assert.Equal(t, PostureCaution, strict.Aggregate(m, medium).Posture)
	assert.Equal(t, PostureAtRisk, strict.Aggregate(m, high).Posture)

	// Stock thresholds leave the same findings one rung lower.
	stock := New(Config{})
	assert.Equal(t, PostureSecure, stock.Aggregate(m, medium).Posture)
	assert.Equal(t, PostureCaution, stock.Aggregate(m, high).Posture)
}

func TestSummaryCounts(t *testing.T) {
	m := testManifest()
	group := []finding.Finding{
		{Severity: finding.High, Category: finding.PathTraversal, Component: tool("read_file")},
		{Severity: finding.High, Category: finding.AuthBypass, Component: tool("write_file")},
		{Severity: finding.Low, Category: finding.Other, Component: tool("read_file")},
	}

	r := New(Config{}).Aggregate(m, group)
	assert.Equal(t, 2, r.Summary.Tools)
	assert.Equal(t, 1, r.Summary.Resources)
	assert.Equal(t, 0, r.Summary.Prompts)
	assert.Equal(t, 3, r.Summary.Findings)
	assert.Equal(t, map[finding.Severity]int{finding.High: 2, finding.Low: 1}, r.Summary.BySeverity)
}

func TestBuildReportWireShape(t *testing.T) {
	m := testManifest()
	group := []finding.Finding{
		{
			Severity:       finding.High,
			Category:       finding.PathTraversal,
			Component:      tool("read_file"),
			Description:    "unrestricted path",
			Recommendation: "constrain paths",
			Source:         finding.Source{Analyzer: "patterns", Rule: "path-traversal-unrestricted-path"},
		},
		{
			Severity:    finding.Medium,
			Category:    finding.PIILeakage,
			Component:   tool("write_file"),
			Description: "bulk export",
			Source:      finding.Source{Analyzer: "semantic"},
		},
	}
	r := New(Config{}).Aggregate(m, group)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rep := BuildReport(r, 1.25, now)

	assert.Equal(t, "http://localhost:3000/mcp", rep.URL)
	assert.Equal(t, StatusSuccess, rep.Status)
	assert.Equal(t, 1.25, rep.ResponseTime)
	assert.Equal(t, now, rep.Timestamp)
	assert.Equal(t, "files", rep.ServerInfo.Name)
	assert.Len(t, rep.ScanResults.Tools, 2)

	require.Len(t, rep.Issues, 2)
	assert.Equal(t, SecurityIssue{
		Tool:        "read_file",
		Severity:    "high",
		Type:        "path_traversal",
		Description: "unrestricted path",
		Details:     "constrain paths",
	}, rep.Issues[0])

	// Only pattern-rule findings surface as rule matches.
	require.Len(t, rep.RuleMatches, 1)
	assert.Equal(t, "path-traversal-unrestricted-path", rep.RuleMatches[0].Rule)
}

func TestBuildReportStatusPartialAndFailed(t *testing.T) {
	m := testManifest()
	m.Errors = []capability.StageError{{Stage: capability.StagePrompts, Err: "method not found"}}
	r := New(Config{}).Aggregate(m)
	assert.Equal(t, StatusPartial, BuildReport(r, 0.1, time.Now()).Status)

	empty := &capability.Manifest{
		Target: "http://down.example/mcp",
		Errors: []capability.StageError{{Stage: capability.StageTools, Err: "unreachable"}},
	}
	r = New(Config{}).Aggregate(empty)
	assert.Equal(t, StatusFailed, BuildReport(r, 0.1, time.Now()).Status)
}
