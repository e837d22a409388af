// Package config owns the gateway's own runtime configuration: the
// gateway-wide settings file, per-template files, environment variable
// overrides, and ${VAR} resolution for service env blocks at instance
// materialization.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/pbnjam/mcp-gatewayd/common/environment"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
)

// Gateway is the top-level, persisted gateway configuration.
type Gateway struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	AuthMode    auth.Mode `json:"authMode"`
	LogLevel    string    `json:"logLevel"`
	CORSOrigins []string  `json:"corsOrigins,omitempty"`
}

// Default returns the gateway's out-of-the-box configuration, used when no
// gateway.json exists yet.
func Default() Gateway {
	return Gateway{
		Host:     "127.0.0.1",
		Port:     8787,
		AuthMode: auth.ModeLocalTrusted,
		LogLevel: "info",
	}
}

// ApplyEnvOverrides layers environment variable overrides onto cfg, in
// ascending priority: cfg's own value, then a PB_GATEWAY_* alias, then the
// primary PBMCP_* variable. PBMCP_* always wins when both are set.
func ApplyEnvOverrides(cfg Gateway) Gateway {
	cfg.Host = overrideString(cfg.Host, "PB_GATEWAY_HOST", "PBMCP_HOST")
	cfg.Port = overrideInt(cfg.Port, "PB_GATEWAY_PORT", "PBMCP_PORT")
	cfg.AuthMode = auth.Mode(overrideString(string(cfg.AuthMode), "PB_GATEWAY_AUTH_MODE", "PBMCP_AUTH_MODE"))
	cfg.LogLevel = overrideString(cfg.LogLevel, "PB_GATEWAY_LOG_LEVEL", "PBMCP_LOG_LEVEL")
	return cfg
}

func overrideString(current, alias, primary string) string {
	current = environment.StringOr(alias, current)
	return environment.StringOr(primary, current)
}

func overrideInt(current int, alias, primary string) int {
	current = environment.IntOr(alias, current)
	return environment.IntOr(primary, current)
}

var varRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveEnvRefs resolves ${VAR} references inside env's values against the
// process environment, returning a new map. A reference to an unset
// variable resolves to the empty string, matching shell-parameter-expansion
// behavior for an unset var without a default.
func ResolveEnvRefs(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = varRefPattern.ReplaceAllStringFunc(v, func(ref string) string {
			name := varRefPattern.FindStringSubmatch(ref)[1]
			return os.Getenv(name)
		})
	}
	return out
}

// safeName sanitizes a template name into a filesystem-safe basename: only
// letters, digits, '-', and '_' survive; everything else becomes '_'.
func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
