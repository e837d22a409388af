package adminapi

import (
	"context"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// principalFrom returns the request's authenticated Principal, or nil if
// the request was let through without one (local-trusted origin).
func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}
