package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

// maxResponseBytes caps a single JSON-RPC HTTP response body.
const maxResponseBytes = 1 << 20

// HTTPAdapter speaks one-request-per-call MCP: a POST carrying the JSON-RPC
// body, whose response is the parsed body. Receive is unsupported — callers
// must use SendAndReceive. A successful OPTIONS probe or a 404 both count
// as "reachable" since many backends do not implement OPTIONS.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	opts    Options

	connected atomic.Bool
}

// NewHTTP builds an HTTP adapter targeting baseURL.
func NewHTTP(baseURL string, opts Options) *HTTPAdapter {
	return &HTTPAdapter{baseURL: baseURL, client: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

func (a *HTTPAdapter) Connect(ctx context.Context) error {
	a.connected.Store(true)
	return nil
}

func (a *HTTPAdapter) Disconnect(ctx context.Context) error {
	a.connected.Store(false)
	return nil
}

func (a *HTTPAdapter) Send(ctx context.Context, msg *jsonrpc.Message) error {
	_, err := a.SendAndReceive(ctx, msg)
	return err
}

func (a *HTTPAdapter) Receive(ctx context.Context) (*jsonrpc.Message, error) {
	return nil, ErrReceiveUnsupported
}

func (a *HTTPAdapter) SendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if !a.connected.Load() {
		return nil, ErrNotConnected
	}
	return withRetry(ctx, a.opts, func() (*jsonrpc.Message, error) {
		return a.sendAndReceiveOnce(ctx, msg)
	})
}

func (a *HTTPAdapter) sendAndReceiveOnce(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	cctx, cancel := a.opts.timeoutOr(ctx)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("http transport: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("http transport: read body: %w", err)
	}

	var out jsonrpc.Message
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("http transport: decode response: %w", err)
	}
	return &out, nil
}

func (a *HTTPAdapter) IsConnected() bool { return a.connected.Load() }

// HealthCheck sends a single OPTIONS request. Any status below 500 counts as
// reachable, so a 404 or 405 from a backend that never implements OPTIONS
// passes as well as a 2xx.
func (a *HTTPAdapter) HealthCheck(ctx context.Context) error {
	cctx, cancel := a.opts.timeoutOr(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodOptions, a.baseURL, nil)
	if err != nil {
		return fmt.Errorf("http transport: build health check: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http transport: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 500 {
		return nil
	}
	return fmt.Errorf("http transport: health check returned %d", resp.StatusCode)
}
