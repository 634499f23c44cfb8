// Command cli is the mcpscan entry point: scan assesses MCP servers,
// proxy runs the validation gateway in front of them.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mcpscan/mcpscan/pkg/ui"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "proxy", "gateway":
		runProxy(os.Args[2:])
	case "-v", "--version", "version":
		ui.PrintMiniBanner()
	case "-h", "--help", "help":
		printUsage()
	default:
		// A bare target is shorthand for scan.
		runScan(os.Args[1:])
	}
}

func printUsage() {
	fmt.Println("mcpscan - MCP security scanner and validation gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mcpscan scan [flags] <target> [target...]   Assess MCP servers")
	fmt.Println("  mcpscan proxy [flags]                       Run the validation gateway")
	fmt.Println("  mcpscan version                             Print version")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  https://mcp.example.com/mcp        HTTP(S) MCP endpoint")
	fmt.Println("  stdio:npx my-mcp-server --flag     stdio-spawned MCP server")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mcpscan scan https://mcp.example.com/mcp")
	fmt.Println("  mcpscan scan -format json -output report.json https://mcp.example.com/mcp")
	fmt.Println("  mcpscan proxy -scan-target https://mcp.example.com/mcp")
	fmt.Println()
	fmt.Println("Run 'mcpscan scan -h' or 'mcpscan proxy -h' for command flags.")
}

// newLogger builds the CLI's structured logger. Verbose enables debug
// records; everything goes to stderr so stdout stays parseable.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// fatal prints the error and exits.
func fatal(msg string, err error) {
	ui.PrintError(fmt.Sprintf("%s: %v", msg, err))
	os.Exit(1)
}
