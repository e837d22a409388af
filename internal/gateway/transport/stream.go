package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

// streamCore is the request/response correlation engine shared by the
// stdio and container adapters: both carry MCP JSON-RPC over a duplex byte
// stream (a child process's stdin/stdout, or an attached container's
// stdio), framed by the C1 framer and matched to callers by id.
type streamCore struct {
	name string // for log lines

	mu        sync.Mutex
	w         io.Writer
	framer    *jsonrpc.Framer
	pending   map[string]chan *jsonrpc.Message
	connected atomic.Bool

	recvQueue chan *jsonrpc.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newStreamCore(name string, w io.Writer, maxBufferSize int) *streamCore {
	sc := &streamCore{
		name:      name,
		w:         w,
		pending:   make(map[string]chan *jsonrpc.Message),
		recvQueue: make(chan *jsonrpc.Message, 64),
		closed:    make(chan struct{}),
	}
	sc.framer = jsonrpc.New(jsonrpc.Config{
		MaxBufferSize: maxBufferSize,
		OnError: func(err error) {
			slog.Warn("transport: frame error", "adapter", name, "err", err)
		},
	})
	sc.connected.Store(true)
	return sc
}

// readLoop feeds r into the framer until it returns an error (typically EOF
// on process exit or connection close), then fails every pending request
// with ErrTransportClosed.
func (sc *streamCore) readLoop(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			msgs, ferr := sc.framer.Feed(buf[:n])
			if ferr != nil {
				slog.Warn("transport: framer aborted", "adapter", sc.name, "err", ferr)
			}
			for _, msg := range msgs {
				sc.dispatch(msg)
			}
		}
		if err != nil {
			sc.failAll(ErrTransportClosed)
			return
		}
	}
}

func (sc *streamCore) dispatch(msg *jsonrpc.Message) {
	if msg.IsResponse() {
		key := idKey(msg.ID)
		sc.mu.Lock()
		ch, ok := sc.pending[key]
		if ok {
			delete(sc.pending, key)
		}
		sc.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
		// Unmatched response (late/abandoned request): drop it.
		return
	}
	select {
	case sc.recvQueue <- msg:
	default:
		slog.Warn("transport: receive queue full, dropping unsolicited message", "adapter", sc.name)
	}
}

func (sc *streamCore) failAll(err error) {
	sc.connected.Store(false)
	sc.mu.Lock()
	pending := sc.pending
	sc.pending = make(map[string]chan *jsonrpc.Message)
	sc.mu.Unlock()

	errMsg := &jsonrpc.Message{JSONRPC: "2.0", Error: &jsonrpc.ErrorObject{Code: -32000, Message: err.Error()}}
	for _, ch := range pending {
		ch <- errMsg
	}
}

func (sc *streamCore) write(msg *jsonrpc.Message) error {
	if !sc.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal message: %w", err)
	}
	sc.mu.Lock()
	_, err = sc.w.Write(append(data, '\n'))
	sc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (sc *streamCore) sendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if !sc.connected.Load() {
		return nil, ErrNotConnected
	}
	if msg.ID == nil {
		msg.ID = newRequestID()
	}
	key := idKey(msg.ID)

	ch := make(chan *jsonrpc.Message, 1)
	sc.mu.Lock()
	sc.pending[key] = ch
	sc.mu.Unlock()

	if err := sc.write(msg); err != nil {
		sc.mu.Lock()
		delete(sc.pending, key)
		sc.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil && resp.Error.Code == -32000 {
			return nil, ErrTransportClosed
		}
		return resp, nil
	case <-ctx.Done():
		sc.mu.Lock()
		delete(sc.pending, key)
		sc.mu.Unlock()
		return nil, fmt.Errorf("transport: %w", ctx.Err())
	case <-sc.closed:
		return nil, ErrTransportClosed
	}
}

func (sc *streamCore) receive(ctx context.Context) (*jsonrpc.Message, error) {
	select {
	case msg := <-sc.recvQueue:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("transport: %w", ctx.Err())
	case <-sc.closed:
		return nil, ErrTransportClosed
	}
}

func (sc *streamCore) close() {
	sc.closeOnce.Do(func() {
		sc.connected.Store(false)
		close(sc.closed)
		sc.failAll(ErrTransportClosed)
	})
}

func (sc *streamCore) isConnected() bool { return sc.connected.Load() }

func idKey(id any) string { return fmt.Sprintf("%v", id) }

// newRequestID mints a correlation id for outbound requests the caller did
// not already assign one to: "req-<timestampMs>-<random>".
func newRequestID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("req-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}
