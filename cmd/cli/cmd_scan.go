package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/config"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
	"github.com/mcpscan/mcpscan/pkg/rules"
	"github.com/mcpscan/mcpscan/pkg/scanner"
	"github.com/mcpscan/mcpscan/pkg/semantic"
	"github.com/mcpscan/mcpscan/pkg/telemetry"
	"github.com/mcpscan/mcpscan/pkg/ui"
)

// headerFlag collects repeated -H "Name: value" flags.
type headerFlag map[string]string

func (h headerFlag) String() string { return fmt.Sprintf("%d headers", len(h)) }

func (h headerFlag) Set(raw string) error {
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("header must be \"Name: value\", got %q", raw)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	format := fs.String("format", "console", "Output format: console, json")
	output := fs.String("output", "", "Write the JSON report to a file")
	rulesDir := fs.String("rules", "", "Directory with additional rule files")
	verbose := fs.Bool("verbose", false, "Debug logging")
	silent := fs.Bool("silent", false, "Suppress decorative output")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	headers := headerFlag{}
	fs.Var(headers, "H", "Auth header forwarded to the target (repeatable)")
	_ = fs.Parse(args)

	targets := fs.Args()
	if len(targets) == 0 {
		ui.PrintError("at least one target is required: mcpscan scan <target>")
		os.Exit(1)
	}

	ui.SetSilent(*silent || *format == "json")
	ui.SetNoColor(*noColor)
	ui.PrintBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("loading configuration", err)
	}
	if len(headers) > 0 {
		cfg.Scanner.AuthHeaders = headers
	}

	logger := newLogger(*verbose)
	ctx := context.Background()

	shutdown, err := telemetry.Init(ctx, defaults.ToolName, defaults.Version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		defer func() { _ = shutdown(ctx) }()
	}

	engine, err := buildEngine(cfg, logger, *rulesDir)
	if err != nil {
		fatal("initializing engine", err)
	}

	ui.PrintSection("Scan")
	ui.PrintConfigLine("Targets", strings.Join(targets, ", "))
	ui.PrintConfigLine("Parallel", fmt.Sprintf("%d", cfg.Scanner.Parallel))
	ui.PrintConfigLine("Patterns", onOff(cfg.Scanner.EnablePatterns))
	ui.PrintConfigLine("Semantic", onOff(cfg.LLM.APIKey != ""))

	results := engine.ScanAll(ctx, targets)

	failed := 0
	reports := make([]aggregate.Report, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			ui.PrintError(fmt.Sprintf("%s: %v", r.Target, r.Err))
			failed++
			continue
		}
		reports = append(reports, aggregate.BuildReport(r.Result, elapsedSeconds(r.Result), time.Now()))
		if *format == "console" {
			ui.PrintScanReport(r.Result)
		}
	}

	if *format == "json" || *output != "" {
		if err := writeReports(reports, *output); err != nil {
			fatal("writing report", err)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// buildEngine assembles the scan engine from configuration: pattern
// analyzer (built-in rules plus an optional user directory), semantic
// analyzer, and the severity-floor aggregator.
func buildEngine(cfg config.Config, logger *slog.Logger, rulesDir string) (*scanner.Engine, error) {
	opts := []scanner.Option{scanner.WithLogger(logger)}

	if cfg.Scanner.EnablePatterns {
		ruleList, err := rules.Builtin()
		if err != nil {
			return nil, err
		}
		if rulesDir != "" {
			extra, err := rules.LoadDir(rulesDir)
			if err != nil {
				return nil, err
			}
			ruleList = append(ruleList, extra...)
		}
		set, err := rules.NewRuleSet(rules.NewRegexMatcher(), ruleList)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scanner.WithPatterns(rules.NewAnalyzer(set,
			rules.WithCategorySwitches(cfg.CategorySwitches()),
			rules.WithAnalyzerLogger(logger),
		)))
	} else {
		opts = append(opts, scanner.WithPatterns(nil))
	}

	opts = append(opts,
		scanner.WithSemantic(semantic.New(cfg.SemanticConfig(), semantic.WithLogger(logger))),
		scanner.WithAggregator(aggregate.New(cfg.AggregateConfig())),
	)
	return scanner.New(cfg.ScannerConfig(), opts...)
}

// writeReports serializes reports to path, or stdout when path is
// empty. A single report unwraps from the array for the common case.
func writeReports(reports []aggregate.Report, path string) error {
	var payload any = reports
	if len(reports) == 1 {
		payload = reports[0]
	}
	data, err := jsonutil.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return err
	}
	ui.PrintSuccess("report written to " + path)
	return nil
}

// elapsedSeconds recovers a target's wall time from its stage timings.
func elapsedSeconds(r aggregate.Result) float64 {
	var total float64
	for _, t := range r.Timings {
		total += t.Elapsed.Seconds()
	}
	return total
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
