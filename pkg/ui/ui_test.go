package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

func TestSeverityBreakdown(t *testing.T) {
	assert.Equal(t, "none", severityBreakdown(aggregate.Summary{}))

	s := aggregate.Summary{
		Findings: 5,
		BySeverity: map[finding.Severity]int{
			finding.Critical: 1,
			finding.High:     2,
			finding.Medium:   2,
		},
	}
	assert.Equal(t, "5 total (1 critical, 2 high, 2 medium)", severityBreakdown(s))
}

func TestSeverityStyleFallsBackToMuted(t *testing.T) {
	assert.Equal(t, MutedStyle, SeverityStyle(finding.Severity("bogus")))
	assert.NotEqual(t, MutedStyle, SeverityStyle(finding.Critical))
}

func TestPostureLineCoversAllPostures(t *testing.T) {
	for _, p := range []aggregate.Posture{
		aggregate.PostureSecure, aggregate.PostureCaution, aggregate.PostureAtRisk,
	} {
		assert.NotEmpty(t, postureLine(p))
	}
}

func TestSilentModeToggle(t *testing.T) {
	SetSilent(true)
	assert.True(t, IsSilent())
	SetSilent(false)
	assert.False(t, IsSilent())
}
