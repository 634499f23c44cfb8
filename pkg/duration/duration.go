// Package duration provides canonical time constants for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.ScanTimeout)
//	cfg.HTTPTimeout = duration.HTTPCall
//
// DO NOT use hardcoded time.Duration values like `30 * time.Second`
// anywhere. Instead, reference the appropriate constant from this package.
package duration

import "time"

// ============================================================================
// PROTOCOL CLIENT TIMEOUTS
// ============================================================================

const (
	// HTTPCall bounds a single MCP JSON-RPC call (30s).
	HTTPCall = 30 * time.Second

	// HTTPProbe is for quick health checks (5s).
	HTTPProbe = 5 * time.Second

	// StdioStartup is how long a stdio-spawned server may take to
	// accept its first request (10s).
	StdioStartup = 10 * time.Second
)

// ============================================================================
// SCAN DEADLINES
// ============================================================================

const (
	// ScanTimeout is the hard deadline for one full scan (60s).
	ScanTimeout = 60 * time.Second

	// DiscoveryTimeout bounds capability discovery inside a scan (45s).
	DiscoveryTimeout = 45 * time.Second
)

// ============================================================================
// EXTERNAL SERVICES
// ============================================================================

const (
	// LLMCall bounds one reasoning-endpoint request (60s).
	LLMCall = 60 * time.Second

	// GuardrailCall bounds one guardrail verdict request (30s).
	GuardrailCall = 30 * time.Second

	// GuardrailHealth bounds the guardrail health probe (10s).
	GuardrailHealth = 10 * time.Second
)

// ============================================================================
// GATEWAY SERVER
// ============================================================================

const (
	// ServerRead is the proxy HTTP server read timeout (10s).
	ServerRead = 10 * time.Second

	// ServerWrite is the proxy HTTP server write timeout (30s).
	ServerWrite = 30 * time.Second

	// ServerShutdown is the graceful shutdown grace period (5s).
	ServerShutdown = 5 * time.Second

	// CacheTTL is the default validation decision lifetime (5min).
	CacheTTL = 5 * time.Minute
)

// ============================================================================
// TELEMETRY
// ============================================================================

const (
	// ExporterConnect bounds OTLP exporter connection setup (10s).
	ExporterConnect = 10 * time.Second

	// ExporterShutdown bounds exporter flush on shutdown (5s).
	ExporterShutdown = 5 * time.Second
)
