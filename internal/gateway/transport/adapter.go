// Package transport implements the uniform adapter contract (C2) that lets
// the router and supervisor speak to stdio, HTTP, HTTP+SSE, and
// container-wrapped-stdio MCP backends through one capability set.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/pbnjam/mcp-gatewayd/common/retry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

// ErrNotConnected is returned by Send/Receive/SendAndReceive when the
// adapter has not been connected or has been disconnected.
var ErrNotConnected = errors.New("transport: not connected")

// ErrTransportClosed is returned to pending callers when the backing
// process or connection closes unexpectedly.
var ErrTransportClosed = errors.New("transport: closed unexpectedly")

// ErrReceiveUnsupported is returned by adapters (http) whose contract
// forbids unsolicited receive(); callers must use SendAndReceive.
var ErrReceiveUnsupported = errors.New("transport: receive not supported by this adapter, use SendAndReceive")

// Adapter is the capability set every transport variant implements.
// Container transport shares the stdio adapter's stream correlation core
// (streamCore) rather than wrapping a StdioAdapter.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg *jsonrpc.Message) error
	// Receive returns the next unsolicited inbound message (push channel),
	// or ErrReceiveUnsupported for request/response-only adapters.
	Receive(ctx context.Context) (*jsonrpc.Message, error)
	SendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error)
	IsConnected() bool
	HealthCheck(ctx context.Context) error
}

// Options are the per-adapter knobs derived from a template.
type Options struct {
	// Timeout is the default per-message deadline; callers may override it
	// per call via context.
	Timeout time.Duration
	// Retries is how many times a failed send is retried with exponential
	// backoff (base 100ms) before the error is surfaced.
	Retries int
}

func (o Options) timeoutOr(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// withRetry retries attempt up to opts.Retries additional times with the
// exponential backoff (base 100ms, capped at 2s) spec.md §7 requires of the
// transport layer, stopping early if ctx is cancelled or attempt succeeds.
func withRetry(ctx context.Context, opts Options, attempt func() (*jsonrpc.Message, error)) (*jsonrpc.Message, error) {
	cfg := retry.Config{
		MaxAttempts:  opts.Retries + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
	var result *jsonrpc.Message
	err := retry.Do(ctx, cfg, func() error {
		var attemptErr error
		result, attemptErr = attempt()
		return attemptErr
	})
	return result, err
}
