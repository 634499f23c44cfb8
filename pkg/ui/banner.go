package ui

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mcpscan/mcpscan/pkg/defaults"
)

// Global UI state.
var (
	silentMode  bool
	noColorMode bool
	uiMu        sync.RWMutex
)

// SetSilent suppresses all decorative output; scan reports still print.
func SetSilent(silent bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	silentMode = silent
}

// IsSilent reports whether silent mode is enabled.
func IsSilent() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return silentMode
}

// SetNoColor disables colored output by forcing the ASCII profile.
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

const banner = `
  ███╗   ███╗ ██████╗██████╗ ███████╗ ██████╗ █████╗ ███╗   ██╗
  ████╗ ████║██╔════╝██╔══██╗██╔════╝██╔════╝██╔══██╗████╗  ██║
  ██╔████╔██║██║     ██████╔╝███████╗██║     ███████║██╔██╗ ██║
  ██║╚██╔╝██║██║     ██╔═══╝ ╚════██║██║     ██╔══██║██║╚██╗██║
  ██║ ╚═╝ ██║╚██████╗██║     ███████║╚██████╗██║  ██║██║ ╚████║
  ╚═╝     ╚═╝ ╚═════╝╚═╝     ╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═══╝`

// PrintBanner renders the startup banner to stderr.
func PrintBanner() {
	if IsSilent() {
		return
	}
	if UnicodeTerminal() {
		fmt.Fprintln(os.Stderr, BannerStyle.Render(banner))
	} else {
		fmt.Fprintln(os.Stderr, BannerStyle.Render("  "+defaults.ToolName))
	}
	fmt.Fprintf(os.Stderr, "  %s %s\n\n",
		MutedStyle.Render("MCP security scanner"),
		VersionStyle.Render("v"+defaults.Version))
}

// PrintMiniBanner renders the one-line version stamp.
func PrintMiniBanner() {
	fmt.Fprintf(os.Stderr, "%s %s\n",
		BannerStyle.Render(defaults.ToolName),
		VersionStyle.Render("v"+defaults.Version))
}

// PrintSection renders a section header.
func PrintSection(title string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(os.Stderr, SectionStyle.Render(title))
}

// PrintConfigLine renders an aligned label/value pair.
func PrintConfigLine(label, value string) {
	if IsSilent() {
		return
	}
	fmt.Fprintf(os.Stderr, "  %s %s\n",
		ConfigLabelStyle.Render(label), ConfigValueStyle.Render(value))
}

// PrintSuccess renders a success line.
func PrintSuccess(msg string) {
	if IsSilent() {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", SuccessStyle.Render(Icon("✔", "[+]")), msg)
}

// PrintWarning renders a warning line.
func PrintWarning(msg string) {
	if IsSilent() {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningStyle.Render(Icon("⚠", "[!]")), msg)
}

// PrintError renders an error line; never silenced.
func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(Icon("✘", "[-]")), msg)
}
