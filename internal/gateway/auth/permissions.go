package auth

import (
	"strings"
	"time"
)

// Principal is the identity and grant set a validated credential resolves
// to.
type Principal struct {
	UserID      string
	Permissions []string
	ExpiresAt   time.Time // zero means no expiry
}

const (
	// PermWildcard grants every resource and every destructive operation.
	PermWildcard = "*"
	// PermAdmin grants POST /api/admin/* and other destructive operations.
	PermAdmin = "admin"
)

var destructiveMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Allows reports whether perms grants access to an HTTP method+path pair.
// "*" grants everything; "admin" grants the /api/admin/ tree and any
// destructive method (POST, PUT, PATCH, DELETE); any other permission string is matched
// against the path's resource tag.
func Allows(perms []string, method, path string) bool {
	for _, p := range perms {
		switch p {
		case PermWildcard:
			return true
		case PermAdmin:
			if strings.HasPrefix(path, "/api/admin/") || destructiveMethods[method] {
				return true
			}
		default:
			if p == ResourceTag(path) {
				return true
			}
		}
	}
	return false
}

// ResourceTag derives the permission string a path is gated behind: the
// first path segment after /api/, or the whole path when it has no such
// prefix. "/api/tools/call" -> "tools"; "/handshake/init" -> "/handshake/init".
func ResourceTag(path string) string {
	const prefix = "/api/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}
