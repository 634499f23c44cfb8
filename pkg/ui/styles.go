// Package ui renders CLI output: banner, section headers, and the
// human-readable scan report. All styling goes through lipgloss so
// color degrades cleanly on dumb terminals and pipes.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mcpscan/mcpscan/pkg/finding"
)

// Color palette.
var (
	Primary   = lipgloss.Color("#7D56F4")
	Secondary = lipgloss.Color("#00D4AA")

	// Severity colors, matching common scanner conventions.
	CriticalColor = lipgloss.Color("#FF0000")
	HighColor     = lipgloss.Color("#FF6B6B")
	MediumColor   = lipgloss.Color("#FFD93D")
	LowColor      = lipgloss.Color("#6BCB77")

	SuccessColor = lipgloss.Color("#00D26A")
	WarningColor = lipgloss.Color("#FFB800")
	ErrorColor   = lipgloss.Color("#FF3838")
	MutedColor   = lipgloss.Color("#6B7280")
)

// Pre-configured styles.
var (
	BannerStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	VersionStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	SectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true).
			MarginTop(1)

	ConfigLabelStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				Width(16)

	ConfigValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	severityStyles = map[finding.Severity]lipgloss.Style{
		finding.Critical: lipgloss.NewStyle().Foreground(CriticalColor).Bold(true),
		finding.High:     lipgloss.NewStyle().Foreground(HighColor).Bold(true),
		finding.Medium:   lipgloss.NewStyle().Foreground(MediumColor),
		finding.Low:      lipgloss.NewStyle().Foreground(LowColor),
	}
)

// SeverityStyle returns the display style for a severity.
func SeverityStyle(s finding.Severity) lipgloss.Style {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return MutedStyle
}
