package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

// SSEAdapter POSTs outbound messages and correlates responses arriving on a
// long-lived SSE GET connection. Named events "message" and "mcp-message"
// are treated identically. Malformed SSE payloads are logged, never fatal.
// The SSE connection timeout is independent of the per-message timeout.
type SSEAdapter struct {
	postURL string
	sseURL  string
	client  *http.Client
	opts    Options

	connTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Message
	recv    chan *jsonrpc.Message

	connected atomic.Bool
	cancel    context.CancelFunc
}

// NewSSE builds an HTTP+SSE adapter: postURL receives outbound requests,
// sseURL is the long-lived inbound event stream.
func NewSSE(postURL, sseURL string, opts Options, connTimeout time.Duration) *SSEAdapter {
	return &SSEAdapter{
		postURL:     postURL,
		sseURL:      sseURL,
		client:      &http.Client{},
		opts:        opts,
		connTimeout: connTimeout,
		pending:     make(map[string]chan *jsonrpc.Message),
		recv:        make(chan *jsonrpc.Message, 64),
	}
}

func (a *SSEAdapter) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	connectCtx, connectCancel := context.WithTimeout(ctx, a.connTimeout)
	defer connectCancel()

	req, err := http.NewRequestWithContext(connectCtx, http.MethodGet, a.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("sse transport: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("sse transport: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("sse transport: unexpected status %d", resp.StatusCode)
	}

	a.connected.Store(true)
	go func() {
		<-streamCtx.Done()
		resp.Body.Close()
	}()
	go a.readEvents(resp.Body)
	return nil
}

func (a *SSEAdapter) readEvents(body io.ReadCloser) {
	defer body.Close()
	defer a.connected.Store(false)
	defer a.failAll()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventName string
	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		if eventName != "" && eventName != "message" && eventName != "mcp-message" {
			eventName = ""
			dataLines = nil
			return
		}
		payload := strings.Join(dataLines, "\n")
		var msg jsonrpc.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			slog.Warn("sse transport: malformed payload", "err", err)
		} else {
			a.dispatch(&msg)
		}
		eventName = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
}

func (a *SSEAdapter) dispatch(msg *jsonrpc.Message) {
	if msg.IsResponse() {
		key := idKey(msg.ID)
		a.mu.Lock()
		ch, ok := a.pending[key]
		if ok {
			delete(a.pending, key)
		}
		a.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
		return
	}
	select {
	case a.recv <- msg:
	default:
		slog.Warn("sse transport: receive queue full, dropping unsolicited message")
	}
}

func (a *SSEAdapter) failAll() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]chan *jsonrpc.Message)
	a.mu.Unlock()
	errMsg := &jsonrpc.Message{JSONRPC: "2.0", Error: &jsonrpc.ErrorObject{Code: -32000, Message: ErrTransportClosed.Error()}}
	for _, ch := range pending {
		ch <- errMsg
	}
}

func (a *SSEAdapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.connected.Store(false)
	return nil
}

func (a *SSEAdapter) Send(ctx context.Context, msg *jsonrpc.Message) error {
	_, err := a.post(ctx, msg)
	return err
}

func (a *SSEAdapter) Receive(ctx context.Context) (*jsonrpc.Message, error) {
	select {
	case msg := <-a.recv:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sse transport: %w", ctx.Err())
	}
}

func (a *SSEAdapter) SendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if !a.connected.Load() {
		return nil, ErrNotConnected
	}
	if msg.ID == nil {
		msg.ID = newRequestID()
	}
	return withRetry(ctx, a.opts, func() (*jsonrpc.Message, error) {
		return a.sendAndReceiveOnce(ctx, msg)
	})
}

func (a *SSEAdapter) sendAndReceiveOnce(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	key := idKey(msg.ID)

	ch := make(chan *jsonrpc.Message, 1)
	a.mu.Lock()
	a.pending[key] = ch
	a.mu.Unlock()

	cctx, cancel := a.opts.timeoutOr(ctx)
	defer cancel()

	if _, err := a.post(cctx, msg); err != nil {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-cctx.Done():
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
		return nil, fmt.Errorf("sse transport: %w", cctx.Err())
	}
}

func (a *SSEAdapter) post(ctx context.Context, msg *jsonrpc.Message) (*http.Response, error) {
	if !a.connected.Load() {
		return nil, ErrNotConnected
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("sse transport: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.postURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sse transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sse transport: post: %w", err)
	}
	defer resp.Body.Close()
	return resp, nil
}

func (a *SSEAdapter) IsConnected() bool { return a.connected.Load() }

func (a *SSEAdapter) HealthCheck(ctx context.Context) error {
	if !a.connected.Load() {
		return ErrNotConnected
	}
	return nil
}
