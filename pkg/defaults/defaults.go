// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all runtime configuration defaults.
//
// Usage:
//
//	cfg.MaxRetries = defaults.RetryStandard
//	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
//
// DO NOT use hardcoded values like `Parallel: 4` anywhere.
// Instead, reference the appropriate constant from this package.
package defaults

// Version is the current mcpscan version.
const Version = "0.6.3"

// ToolName identifies the scanner in user agents, telemetry, and
// protocol handshakes.
const ToolName = "mcpscan"

// ============================================================================
// SCAN PARALLELISM
// ============================================================================

const (
	// ParallelScans is the default number of targets scanned concurrently
	// in batch mode.
	ParallelScans = 4

	// ParallelScansMax caps the batch worker pool regardless of config.
	ParallelScansMax = 32
)

// ============================================================================
// RETRY SETTINGS
// ============================================================================

const (
	// RetryNone disables retries.
	RetryNone = 0

	// RetryStandard is the default retry count for protocol, semantic,
	// and guardrail calls.
	RetryStandard = 3

	// RetryDelayMillis is the default fixed delay between retries.
	RetryDelayMillis = 1000
)

// ============================================================================
// SEMANTIC ANALYSIS
// ============================================================================

const (
	// LLMBatchSize is the number of capability descriptions submitted to
	// the reasoning endpoint per request.
	LLMBatchSize = 10

	// LLMRequestsPerMinute bounds outbound reasoning-endpoint traffic.
	LLMRequestsPerMinute = 30

	// LLMModel is the default reasoning model.
	LLMModel = "gpt-4o-mini"

	// LLMBaseURL is the default OpenAI-compatible endpoint.
	LLMBaseURL = "https://api.openai.com/v1"
)

// ============================================================================
// GATEWAY / PROXY
// ============================================================================

const (
	// ProxyListenAddress is the default gateway bind address.
	ProxyListenAddress = "127.0.0.1:8080"

	// GuardrailBaseURL is the default guardrail API endpoint.
	GuardrailBaseURL = "https://api.getjavelin.com"

	// CacheMaxEntries bounds the validation decision cache.
	CacheMaxEntries = 10_000

	// CacheTTLSeconds is the default validation decision lifetime.
	CacheTTLSeconds = 300

	// MaxRequestSize is the default request body cap for the proxy (1 MiB).
	MaxRequestSize = 1 << 20
)

// ============================================================================
// MCP PROTOCOL
// ============================================================================

const (
	// MCPProtocolVersion is the protocol version offered during initialize.
	MCPProtocolVersion = "2024-11-05"

	// JSONRPCVersion is the JSON-RPC envelope version.
	JSONRPCVersion = "2.0"
)

// ============================================================================
// HTTP HEADERS
// ============================================================================

const (
	// ContentTypeJSON is the Content-Type for all JSON-RPC traffic.
	ContentTypeJSON = "application/json"

	// AcceptMCP is the Accept header for streamable MCP endpoints.
	AcceptMCP = "application/json, text/event-stream"
)

// UserAgent returns the canonical User-Agent string.
func UserAgent() string {
	return ToolName + "/" + Version
}
