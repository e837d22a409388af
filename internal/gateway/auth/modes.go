// Package auth implements the gateway's auth/handshake core (C8): trust-mode
// IP classification, API-key and session-token lifecycle, permission
// checks, and the browser-proxy rotating-code handshake.
package auth

import (
	"net"
	"net/http"
	"strings"
)

// Mode selects which traffic the gateway trusts without a credential.
type Mode string

const (
	// ModeLocalTrusted accepts any caller whose source IP is loopback or
	// private; no credential is required.
	ModeLocalTrusted Mode = "local-trusted"
	// ModeExternalSecure requires a valid API key or bearer/session token
	// regardless of source IP.
	ModeExternalSecure Mode = "external-secure"
	// ModeDual applies local-trusted rules to loopback/private callers and
	// external-secure rules to everyone else.
	ModeDual Mode = "dual"
)

// privateBlocks are the RFC1918 and RFC4193 private address ranges.
var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("auth: invalid CIDR literal " + c)
		}
		out = append(out, n)
	}
	return out
}

// IsLoopbackOrPrivate reports whether ip is loopback, link-local, or falls
// within an RFC1918/RFC4193 private range.
func IsLoopbackOrPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, b := range privateBlocks {
		if b.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller's address from r, preferring X-Forwarded-For's
// first hop (set by a trusted local reverse proxy) and falling back to
// RemoteAddr.
func ClientIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// RequiresCredential reports whether a request from src under mode must
// carry a valid API key or bearer/session token.
func RequiresCredential(mode Mode, src net.IP) bool {
	switch mode {
	case ModeLocalTrusted:
		return false
	case ModeExternalSecure:
		return true
	case ModeDual:
		return !IsLoopbackOrPrivate(src)
	default:
		return true
	}
}
