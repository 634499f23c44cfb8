package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpscan/mcpscan/pkg/aggregate"
	"github.com/mcpscan/mcpscan/pkg/finding"
)

// clearAPIKeyEnv unsets every key variable so precedence tests start
// from a clean slate.
func clearAPIKeyEnv(t *testing.T) {
	t.Helper()
	for _, name := range apiKeyEnvVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcpscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearAPIKeyEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Scanner.HTTPTimeoutSeconds)
	assert.Equal(t, 60, cfg.Scanner.ScanTimeoutSeconds)
	assert.Equal(t, 4, cfg.Scanner.Parallel)
	assert.Equal(t, 3, cfg.Scanner.MaxRetries)
	assert.Equal(t, 1000, cfg.Scanner.RetryDelayMS)
	assert.Equal(t, 10, cfg.Scanner.LLMBatchSize)
	assert.True(t, cfg.Scanner.EnablePatterns)
	assert.Equal(t, "low", cfg.Security.MinSeverity)
	assert.Equal(t, "critical", cfg.Security.Posture.AtRisk)
	assert.Equal(t, "high", cfg.Security.Posture.Caution)
	assert.True(t, cfg.Guardrail.FailOpen)
	assert.Equal(t, "127.0.0.1:8080", cfg.Proxy.ListenAddress)
	assert.False(t, cfg.Proxy.CacheValidations)
	assert.Equal(t, 300, cfg.Proxy.CacheTTLSeconds)
	assert.Equal(t, int64(1<<20), cfg.Proxy.MaxRequestSize)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	clearAPIKeyEnv(t)
	path := writeConfig(t, `
scanner:
  http_timeout: 10
  parallel: 8
  llm_batch_size: 5
  enable_yara: false
security:
  min_severity: high
  checks:
    pii_leakage: false
  posture:
    caution: medium
llm:
  base_url: http://localhost:11434/v1
  model: llama3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Scanner.HTTPTimeoutSeconds)
	assert.Equal(t, 8, cfg.Scanner.Parallel)
	assert.Equal(t, 5, cfg.Scanner.LLMBatchSize)
	assert.False(t, cfg.Scanner.EnablePatterns)
	assert.Equal(t, "high", cfg.Security.MinSeverity)
	assert.Equal(t, "medium", cfg.Security.Posture.Caution)
	assert.Equal(t, "critical", cfg.Security.Posture.AtRisk)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3", cfg.LLM.Model)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60, cfg.Scanner.ScanTimeoutSeconds)
	assert.True(t, cfg.Guardrail.FailOpen)
}

func TestAPIKeyPrecedence(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("JAVELIN_API_KEY", "javelin-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "javelin-key", cfg.Guardrail.APIKey)
	assert.Equal(t, "javelin-key", cfg.LLM.APIKey)

	t.Setenv("JAVELIN_API_KEY", "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "llm-key", cfg.Guardrail.APIKey)

	t.Setenv("LLM_API_KEY", "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai-key", cfg.Guardrail.APIKey)
}

func TestEnvOverrides(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("JAVELIN_API_URL", "http://localhost:9000")
	t.Setenv("JAVELIN_TIMEOUT_SECONDS", "5")
	t.Setenv("JAVELIN_FAIL_OPEN", "false")
	t.Setenv("PROXY_LISTEN_ADDRESS", "0.0.0.0:9090")
	t.Setenv("PROXY_LOG_REQUESTS", "false")
	t.Setenv("PROXY_CACHE_VALIDATIONS", "true")
	t.Setenv("PROXY_CACHE_TTL_SECONDS", "60")
	t.Setenv("PROXY_MAX_REQUEST_SIZE", "4096")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.Guardrail.BaseURL)
	assert.Equal(t, 5, cfg.Guardrail.TimeoutSeconds)
	assert.False(t, cfg.Guardrail.FailOpen)
	assert.Equal(t, "0.0.0.0:9090", cfg.Proxy.ListenAddress)
	assert.False(t, cfg.Proxy.LogRequests)
	assert.True(t, cfg.Proxy.CacheValidations)
	assert.Equal(t, 60, cfg.Proxy.CacheTTLSeconds)
	assert.Equal(t, int64(4096), cfg.Proxy.MaxRequestSize)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	clearAPIKeyEnv(t)
	path := writeConfig(t, `
proxy:
  listen_address: 127.0.0.1:7000
`)
	t.Setenv("PROXY_LISTEN_ADDRESS", "127.0.0.1:7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Proxy.ListenAddress)
}

func TestInvalidEnvValues(t *testing.T) {
	clearAPIKeyEnv(t)

	t.Setenv("JAVELIN_TIMEOUT_SECONDS", "soon")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	t.Setenv("JAVELIN_TIMEOUT_SECONDS", "")

	t.Setenv("JAVELIN_FAIL_OPEN", "maybe")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero http timeout", func(c *Config) { c.Scanner.HTTPTimeoutSeconds = 0 }},
		{"zero scan timeout", func(c *Config) { c.Scanner.ScanTimeoutSeconds = 0 }},
		{"zero parallel", func(c *Config) { c.Scanner.Parallel = 0 }},
		{"negative retries", func(c *Config) { c.Scanner.MaxRetries = -1 }},
		{"zero batch size", func(c *Config) { c.Scanner.LLMBatchSize = 0 }},
		{"bogus severity", func(c *Config) { c.Security.MinSeverity = "severe" }},
		{"bogus category", func(c *Config) { c.Security.Checks = map[string]bool{"buffer_overflow": false} }},
		{"bogus posture at_risk", func(c *Config) { c.Security.Posture.AtRisk = "catastrophic" }},
		{"bogus posture caution", func(c *Config) { c.Security.Posture.Caution = "" }},
		{"zero guardrail timeout", func(c *Config) { c.Guardrail.TimeoutSeconds = 0 }},
		{"portless listen address", func(c *Config) { c.Proxy.ListenAddress = "localhost" }},
		{"zero request size", func(c *Config) { c.Proxy.MaxRequestSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestParallelClampedToMax(t *testing.T) {
	cfg := Default()
	cfg.Scanner.Parallel = 1000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32, cfg.Scanner.Parallel)
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMalformedYAMLIsAnError(t *testing.T) {
	clearAPIKeyEnv(t)
	path := writeConfig(t, "scanner: [not, a, mapping")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDerivedConfigs(t *testing.T) {
	clearAPIKeyEnv(t)
	t.Setenv("JAVELIN_API_KEY", "javelin-key")
	t.Setenv("PROXY_CACHE_VALIDATIONS", "true")
	cfg, err := Load("")
	require.NoError(t, err)

	sc := cfg.ScannerConfig()
	assert.Equal(t, 30*time.Second, sc.HTTPTimeout)
	assert.Equal(t, 60*time.Second, sc.ScanTimeout)
	assert.Equal(t, 4, sc.Parallel)

	sem := cfg.SemanticConfig()
	assert.Equal(t, "javelin-key", sem.APIKey)
	assert.Equal(t, 10, sem.BatchSize)

	gw := cfg.GatewayConfig()
	assert.True(t, gw.FailOpen)
	assert.True(t, gw.CacheEnabled)
	assert.Equal(t, 300*time.Second, gw.CacheTTL)
	assert.Equal(t, 30*time.Second, gw.RequestTimeout)

	gc := cfg.GuardrailConfig()
	assert.Equal(t, "javelin-key", gc.APIKey)
	assert.Equal(t, 30*time.Second, gc.Timeout)

	pc := cfg.ProxyConfig()
	assert.Equal(t, "127.0.0.1:8080", pc.ListenAddress)
	assert.Equal(t, int64(1<<20), pc.MaxRequestSize)

	ac := cfg.AggregateConfig()
	assert.Equal(t, finding.Low, ac.MinSeverity)
	assert.Equal(t, aggregate.PostureThresholds{
		AtRisk:  finding.Critical,
		Caution: finding.High,
	}, ac.Thresholds)
}

func TestCategorySwitches(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.CategorySwitches())

	cfg.Security.Checks = map[string]bool{"sql_injection": false, "jailbreak": true}
	switches := cfg.CategorySwitches()
	assert.Equal(t, map[finding.Category]bool{
		finding.SQLInjection: false,
		finding.Jailbreak:    true,
	}, switches)
}

func TestMinSeverityParsing(t *testing.T) {
	cfg := Default()
	cfg.Security.MinSeverity = "HIGH"
	assert.Equal(t, finding.High, cfg.MinSeverity())
}
