// Package redact provides helpers for stripping sensitive values from log
// output and structured data before it leaves the process boundary.
//
// # Threat model
//
// Secrets (API keys, bearer tokens, handshake codes, template env values)
// must never appear in:
//   - Log lines emitted by the gateway
//   - Audit payloads recorded by the admin surface
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey, bearerToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map redacts every value in m whose key does not appear in safeKeys,
// returning a new map. Used for logging a template's env block without
// leaking secret values it carries.
func Map(m map[string]string, safeKeys map[string]bool) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if safeKeys[k] {
			out[k] = v
			continue
		}
		out[k] = placeholder
	}
	return out
}
