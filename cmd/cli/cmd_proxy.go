package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpscan/mcpscan/pkg/config"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/gateway"
	"github.com/mcpscan/mcpscan/pkg/guardrail"
	"github.com/mcpscan/mcpscan/pkg/proxy"
	"github.com/mcpscan/mcpscan/pkg/telemetry"
	"github.com/mcpscan/mcpscan/pkg/ui"
)

func runProxy(args []string) {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	listen := fs.String("listen", "", "Listen address (overrides configuration)")
	scanTarget := fs.String("scan-target", "", "Scan this MCP server first and use its findings for short-circuit denials")
	rulesDir := fs.String("rules", "", "Directory with additional rule files")
	verbose := fs.Bool("verbose", false, "Debug logging")
	silent := fs.Bool("silent", false, "Suppress decorative output")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	_ = fs.Parse(args)

	ui.SetSilent(*silent)
	ui.SetNoColor(*noColor)
	ui.PrintBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("loading configuration", err)
	}
	if *listen != "" {
		cfg.Proxy.ListenAddress = *listen
	}

	logger := newLogger(*verbose)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, defaults.ToolName, defaults.Version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	license := proxy.ResolveLicense()
	if !license.Valid {
		ui.PrintWarning("no valid guardrail API key; every live check will resolve via the fail-" +
			failMode(cfg.Guardrail.FailOpen) + " policy")
	}

	reg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg)
	guard := guardrail.New(cfg.GuardrailConfig(), guardrail.WithLogger(logger))
	validator := gateway.New(cfg.GatewayConfig(), guard,
		gateway.WithMetrics(metrics), gateway.WithLogger(logger))

	if *scanTarget != "" {
		engine, err := buildEngine(cfg, logger, *rulesDir)
		if err != nil {
			fatal("initializing engine", err)
		}
		result, err := engine.Scan(ctx, *scanTarget)
		if err != nil {
			fatal("pre-scan failed", err)
		}
		validator.UseScan(result)
		ui.PrintConfigLine("Pre-scan", fmt.Sprintf("%s: %d findings, posture %s",
			*scanTarget, len(result.Findings), result.Posture))
	}

	pcfg := cfg.ProxyConfig()
	pcfg.License = license
	srv := proxy.New(pcfg, validator,
		proxy.WithRegistry(reg), proxy.WithLogger(logger))

	ui.PrintSection("Gateway")
	ui.PrintConfigLine("Listen", pcfg.ListenAddress)
	ui.PrintConfigLine("Fail mode", "fail-"+failMode(cfg.Guardrail.FailOpen))
	ui.PrintConfigLine("Cache", onOff(cfg.Proxy.CacheValidations))
	licenseSource := license.Source
	if licenseSource == "" {
		licenseSource = "none"
	}
	ui.PrintConfigLine("License", licenseSource)

	if err := srv.ListenAndServe(ctx); err != nil {
		fatal("proxy server", err)
	}
	ui.PrintSuccess("shut down cleanly")
}

func failMode(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
