package proxy

import (
	"fmt"
	"os"
	"strings"
)

// apiKeyEnvVars is the guardrail key lookup order. The first set
// variable wins.
var apiKeyEnvVars = []string{"JAVELIN_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY"}

// LicenseInfo is the resolved guardrail entitlement.
type LicenseInfo struct {
	APIKey string
	Source string
	Valid  bool
}

// ResolveLicense reads the guardrail API key from the environment,
// honoring the lookup order, and validates its format. A missing or
// malformed key yields an invalid license, not an error: the proxy can
// still run on the availability policy.
func ResolveLicense() LicenseInfo {
	for _, name := range apiKeyEnvVars {
		key := os.Getenv(name)
		if key == "" {
			continue
		}
		return LicenseInfo{
			APIKey: key,
			Source: name,
			Valid:  validKeyFormat(key),
		}
	}
	return LicenseInfo{}
}

// validKeyFormat applies basic sanity checks: a plausible length and no
// whitespace.
func validKeyFormat(key string) bool {
	if len(key) < 10 {
		return false
	}
	return !strings.ContainsAny(key, " \n\t")
}

func (l LicenseInfo) status() string {
	switch {
	case l.Source == "":
		return "no guardrail API key configured"
	case !l.Valid:
		return fmt.Sprintf("malformed API key from %s", l.Source)
	default:
		return fmt.Sprintf("valid license using %s", l.Source)
	}
}
