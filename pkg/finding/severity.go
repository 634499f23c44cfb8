package finding

import "strings"

// Severity represents the severity level of a security finding.
// Values are lowercase strings so they serialize cleanly and compare
// case-insensitively after ParseSeverity.
type Severity string

const (
	// Critical represents immediate compromise potential (command
	// injection, auth bypass).
	Critical Severity = "critical"

	// High represents significant impact requiring prompt attention
	// (path traversal, cross-origin escalation).
	High Severity = "high"

	// Medium represents moderate impact (mixed-scheme usage, weak
	// schema constraints).
	Medium Severity = "medium"

	// Low represents limited impact (informational leaks, hygiene).
	Low Severity = "low"
)

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case Critical, High, Medium, Low:
		return true
	}
	return false
}

// Score returns a numeric score for sorting and comparison.
// Critical=4, High=3, Medium=2, Low=1, unknown=0.
func (s Severity) Score() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// String returns the severity as a string.
func (s Severity) String() string { return string(s) }

// AtLeast reports whether s is at least as severe as floor. An invalid
// floor never filters anything out.
func (s Severity) AtLeast(floor Severity) bool {
	if !floor.IsValid() {
		return true
	}
	return s.Score() >= floor.Score()
}

// ParseSeverity maps a string to a Severity, tolerating case variation.
// Unrecognized input maps to Low rather than failing: a rule author's
// typo should weaken a finding, not drop it.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.IsValid() {
		return s
	}
	return Low
}
