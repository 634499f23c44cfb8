// Package config holds the explicit configuration struct passed into
// the engine's entry points. It is constructed once — from defaults, an
// optional YAML file, and environment overrides — and handed by value
// to the scanner, gateway, and proxy builders. Analyzers never read the
// environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/duration"
	"github.com/mcpscan/mcpscan/pkg/finding"
	"github.com/mcpscan/mcpscan/pkg/gateway"
	"github.com/mcpscan/mcpscan/pkg/guardrail"
	"github.com/mcpscan/mcpscan/pkg/proxy"
	"github.com/mcpscan/mcpscan/pkg/retry"
	"github.com/mcpscan/mcpscan/pkg/scanner"
	"github.com/mcpscan/mcpscan/pkg/semantic"
)

// Config is the full configuration surface: scan engine, security
// policy, reasoning endpoint, guardrail, and proxy behavior.
type Config struct {
	Scanner   Scanner   `yaml:"scanner"`
	Security  Security  `yaml:"security"`
	LLM       LLM       `yaml:"llm"`
	Guardrail Guardrail `yaml:"guardrail"`
	Proxy     Proxy     `yaml:"proxy"`
}

// Scanner configures the scan engine.
type Scanner struct {
	HTTPTimeoutSeconds int `yaml:"http_timeout"`
	ScanTimeoutSeconds int `yaml:"scan_timeout"`
	Parallel           int `yaml:"parallel"`
	MaxRetries         int `yaml:"max_retries"`
	RetryDelayMS       int `yaml:"retry_delay_ms"`
	LLMBatchSize       int `yaml:"llm_batch_size"`
	// EnablePatterns toggles rule-based pattern scanning. The key name
	// is kept from earlier releases for config-file compatibility.
	EnablePatterns bool `yaml:"enable_yara"`
	// AuthHeaders are forwarded to HTTP scan targets.
	AuthHeaders map[string]string `yaml:"auth_headers"`
}

// Security configures finding policy.
type Security struct {
	// MinSeverity drops findings below the floor from the aggregate.
	MinSeverity string `yaml:"min_severity"`
	// Checks switches categories on or off; absent categories default
	// to on.
	Checks map[string]bool `yaml:"checks"`
	// Posture sets the severity floors behind the overall posture.
	Posture PostureConfig `yaml:"posture"`
}

// PostureConfig maps worst-severity floors to the posture labels.
type PostureConfig struct {
	AtRisk  string `yaml:"at_risk"`
	Caution string `yaml:"caution"`
}

// LLM configures the semantic analyzer's reasoning endpoint. The API
// key comes from the environment, never from the file.
type LLM struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
}

// Guardrail configures the live validation service.
type Guardrail struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	FailOpen       bool   `yaml:"fail_open"`
	APIKey         string `yaml:"-"`
}

// Proxy configures the gateway HTTP server.
type Proxy struct {
	ListenAddress    string `yaml:"listen_address"`
	LogRequests      bool   `yaml:"log_requests"`
	CacheValidations bool   `yaml:"cache_validations"`
	CacheTTLSeconds  int    `yaml:"cache_ttl_seconds"`
	MaxRequestSize   int64  `yaml:"max_request_size"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Scanner: Scanner{
			HTTPTimeoutSeconds: int(duration.HTTPCall / time.Second),
			ScanTimeoutSeconds: int(duration.ScanTimeout / time.Second),
			Parallel:           defaults.ParallelScans,
			MaxRetries:         defaults.RetryStandard,
			RetryDelayMS:       defaults.RetryDelayMillis,
			LLMBatchSize:       defaults.LLMBatchSize,
			EnablePatterns:     true,
		},
		Security: Security{
			MinSeverity: string(finding.Low),
			Posture: PostureConfig{
				AtRisk:  string(finding.Critical),
				Caution: string(finding.High),
			},
		},
		LLM: LLM{
			BaseURL: defaults.LLMBaseURL,
			Model:   defaults.LLMModel,
		},
		Guardrail: Guardrail{
			BaseURL:        defaults.GuardrailBaseURL,
			TimeoutSeconds: int(duration.GuardrailCall / time.Second),
			FailOpen:       true,
		},
		Proxy: Proxy{
			ListenAddress:   defaults.ProxyListenAddress,
			LogRequests:     true,
			CacheTTLSeconds: defaults.CacheTTLSeconds,
			MaxRequestSize:  defaults.MaxRequestSize,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (if non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// apiKeyEnvVars is the lookup order for the shared API key; the first
// set variable wins.
var apiKeyEnvVars = []string{"JAVELIN_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY"}

// applyEnv layers environment variables over the file-loaded values.
func (c *Config) applyEnv() error {
	for _, name := range apiKeyEnvVars {
		if key := os.Getenv(name); key != "" {
			c.Guardrail.APIKey = key
			c.LLM.APIKey = key
			break
		}
	}
	if v := os.Getenv("JAVELIN_API_URL"); v != "" {
		c.Guardrail.BaseURL = v
	}
	if v := os.Getenv("PROXY_LISTEN_ADDRESS"); v != "" {
		c.Proxy.ListenAddress = v
	}

	var err error
	if c.Guardrail.TimeoutSeconds, err = envInt("JAVELIN_TIMEOUT_SECONDS", c.Guardrail.TimeoutSeconds); err != nil {
		return err
	}
	if c.Guardrail.FailOpen, err = envBool("JAVELIN_FAIL_OPEN", c.Guardrail.FailOpen); err != nil {
		return err
	}
	if c.Proxy.LogRequests, err = envBool("PROXY_LOG_REQUESTS", c.Proxy.LogRequests); err != nil {
		return err
	}
	if c.Proxy.CacheValidations, err = envBool("PROXY_CACHE_VALIDATIONS", c.Proxy.CacheValidations); err != nil {
		return err
	}
	if c.Proxy.CacheTTLSeconds, err = envInt("PROXY_CACHE_TTL_SECONDS", c.Proxy.CacheTTLSeconds); err != nil {
		return err
	}
	size, err := envInt("PROXY_MAX_REQUEST_SIZE", int(c.Proxy.MaxRequestSize))
	if err != nil {
		return err
	}
	c.Proxy.MaxRequestSize = int64(size)
	return nil
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
	}
	return n, nil
}

func envBool(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, name, v)
	}
	return b, nil
}

// Validate checks semantic constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Scanner.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: scanner.http_timeout must be positive", ErrInvalidConfig)
	}
	if c.Scanner.ScanTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: scanner.scan_timeout must be positive", ErrInvalidConfig)
	}
	if c.Scanner.Parallel <= 0 {
		return fmt.Errorf("%w: scanner.parallel must be positive", ErrInvalidConfig)
	}
	if c.Scanner.Parallel > defaults.ParallelScansMax {
		c.Scanner.Parallel = defaults.ParallelScansMax
	}
	if c.Scanner.MaxRetries < 0 {
		return fmt.Errorf("%w: scanner.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Scanner.LLMBatchSize <= 0 {
		return fmt.Errorf("%w: scanner.llm_batch_size must be positive", ErrInvalidConfig)
	}
	if sev := finding.Severity(strings.ToLower(c.Security.MinSeverity)); !sev.IsValid() {
		return fmt.Errorf("%w: security.min_severity %q is not a severity", ErrInvalidConfig, c.Security.MinSeverity)
	}
	for name := range c.Security.Checks {
		if !finding.Category(name).IsValid() {
			return fmt.Errorf("%w: security.checks.%s is not a known category", ErrInvalidConfig, name)
		}
	}
	if sev := finding.Severity(strings.ToLower(c.Security.Posture.AtRisk)); !sev.IsValid() {
		return fmt.Errorf("%w: security.posture.at_risk %q is not a severity", ErrInvalidConfig, c.Security.Posture.AtRisk)
	}
	if sev := finding.Severity(strings.ToLower(c.Security.Posture.Caution)); !sev.IsValid() {
		return fmt.Errorf("%w: security.posture.caution %q is not a severity", ErrInvalidConfig, c.Security.Posture.Caution)
	}
	if c.Guardrail.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: guardrail timeout must be positive", ErrInvalidConfig)
	}
	if !strings.Contains(c.Proxy.ListenAddress, ":") {
		return fmt.Errorf("%w: proxy listen address %q has no port", ErrInvalidConfig, c.Proxy.ListenAddress)
	}
	if c.Proxy.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: proxy max request size must be positive", ErrInvalidConfig)
	}
	return nil
}

// RetryConfig derives the shared retry policy.
func (c Config) RetryConfig() retry.Config {
	return retry.Fixed(c.Scanner.MaxRetries, time.Duration(c.Scanner.RetryDelayMS)*time.Millisecond)
}

// ScannerConfig derives the scan engine settings.
func (c Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		HTTPTimeout: time.Duration(c.Scanner.HTTPTimeoutSeconds) * time.Second,
		ScanTimeout: time.Duration(c.Scanner.ScanTimeoutSeconds) * time.Second,
		Parallel:    c.Scanner.Parallel,
		Retry:       c.RetryConfig(),
		AuthHeaders: c.Scanner.AuthHeaders,
	}
}

// SemanticConfig derives the semantic analyzer settings. An empty API
// key leaves the analyzer disabled.
func (c Config) SemanticConfig() semantic.Config {
	sc := semantic.DefaultConfig()
	sc.BaseURL = c.LLM.BaseURL
	sc.Model = c.LLM.Model
	sc.APIKey = c.LLM.APIKey
	sc.BatchSize = c.Scanner.LLMBatchSize
	sc.Retry = c.RetryConfig()
	return sc
}

// GuardrailConfig derives the guardrail client settings.
func (c Config) GuardrailConfig() guardrail.Config {
	return guardrail.Config{
		BaseURL: c.Guardrail.BaseURL,
		APIKey:  c.Guardrail.APIKey,
		Timeout: time.Duration(c.Guardrail.TimeoutSeconds) * time.Second,
	}
}

// GatewayConfig derives the validation gateway settings.
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		FailOpen:       c.Guardrail.FailOpen,
		CacheEnabled:   c.Proxy.CacheValidations,
		CacheTTL:       time.Duration(c.Proxy.CacheTTLSeconds) * time.Second,
		CacheMax:       defaults.CacheMaxEntries,
		RequestTimeout: time.Duration(c.Guardrail.TimeoutSeconds) * time.Second,
	}
}

// ProxyConfig derives the proxy server settings. The license is
// resolved separately by the caller.
func (c Config) ProxyConfig() proxy.Config {
	return proxy.Config{
		ListenAddress:  c.Proxy.ListenAddress,
		MaxRequestSize: c.Proxy.MaxRequestSize,
		LogRequests:    c.Proxy.LogRequests,
	}
}

// AggregateConfig derives the aggregator settings.
func (c Config) AggregateConfig() aggregate.Config {
	return aggregate.Config{
		MinSeverity: c.MinSeverity(),
		Thresholds: aggregate.PostureThresholds{
			AtRisk:  finding.ParseSeverity(c.Security.Posture.AtRisk),
			Caution: finding.ParseSeverity(c.Security.Posture.Caution),
		},
	}
}

// MinSeverity returns the parsed finding floor.
func (c Config) MinSeverity() finding.Severity {
	return finding.ParseSeverity(c.Security.MinSeverity)
}

// CategorySwitches converts security.checks into typed switches for the
// pattern analyzer.
func (c Config) CategorySwitches() map[finding.Category]bool {
	if len(c.Security.Checks) == 0 {
		return nil
	}
	out := make(map[finding.Category]bool, len(c.Security.Checks))
	for name, on := range c.Security.Checks {
		out[finding.Category(name)] = on
	}
	return out
}
