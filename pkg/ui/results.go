package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

// postureLine maps a posture to its rendered badge.
func postureLine(p aggregate.Posture) string {
	switch p {
	case aggregate.PostureAtRisk:
		return ErrorStyle.Render(Icon("⛔", "[!!]") + " AT RISK")
	case aggregate.PostureCaution:
		return WarningStyle.Render(Icon("⚠", "[!]") + " CAUTION")
	default:
		return SuccessStyle.Render(Icon("✔", "[+]") + " SECURE")
	}
}

// PrintScanReport renders one target's scan result to stdout.
func PrintScanReport(r aggregate.Result) {
	target := ""
	server := ""
	if r.Manifest != nil {
		target = r.Manifest.Target
		if r.Manifest.Server.Name != "" {
			server = fmt.Sprintf("%s %s", r.Manifest.Server.Name, r.Manifest.Server.Version)
		}
	}

	fmt.Println(SectionStyle.Render("Scan Report"))
	fmt.Printf("  %s %s\n", ConfigLabelStyle.Render("Target"), ConfigValueStyle.Render(target))
	if server != "" {
		fmt.Printf("  %s %s\n", ConfigLabelStyle.Render("Server"), ConfigValueStyle.Render(server))
	}
	fmt.Printf("  %s %s\n", ConfigLabelStyle.Render("Posture"), postureLine(r.Posture))
	fmt.Printf("  %s %s\n", ConfigLabelStyle.Render("Capabilities"),
		ConfigValueStyle.Render(fmt.Sprintf("%d tools, %d resources, %d prompts",
			r.Summary.Tools, r.Summary.Resources, r.Summary.Prompts)))
	fmt.Printf("  %s %s\n", ConfigLabelStyle.Render("Findings"),
		ConfigValueStyle.Render(severityBreakdown(r.Summary)))

	if len(r.Findings) > 0 {
		fmt.Println()
		for _, f := range r.Findings {
			printFinding(f)
		}
	}

	if r.Manifest != nil {
		for _, stageErr := range r.Manifest.Errors {
			fmt.Fprintf(os.Stderr, "  %s %s\n",
				WarningStyle.Render("stage error:"), MutedStyle.Render(stageErr.String()))
		}
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(os.Stderr, "  %s %s\n",
			WarningStyle.Render("degraded:"), MutedStyle.Render(msg))
	}
}

// severityBreakdown renders "5 total (1 critical, 2 high, 2 medium)".
func severityBreakdown(s aggregate.Summary) string {
	if s.Findings == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	for _, sev := range []finding.Severity{finding.Critical, finding.High, finding.Medium, finding.Low} {
		if n := s.BySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("%d total (%s)", s.Findings, strings.Join(parts, ", "))
}

// printFinding renders one finding line plus its description.
func printFinding(f finding.Finding) {
	fmt.Printf("  %s %s %s\n",
		SeverityStyle(f.Severity).Render(fmt.Sprintf("[%s]", f.Severity)),
		ConfigValueStyle.Render(string(f.Category)),
		MutedStyle.Render(fmt.Sprintf("%s/%s", f.Component.Kind, f.Component.Name)))
	if f.Description != "" {
		fmt.Printf("      %s\n", MutedStyle.Render(f.Description))
	}
	if f.Recommendation != "" {
		fmt.Printf("      %s %s\n", SuccessStyle.Render("fix:"), MutedStyle.Render(f.Recommendation))
	}
}
