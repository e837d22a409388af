package transport

import (
	"context"
	"fmt"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
)

// ContainerAdapter wraps the same stream correlation core as StdioAdapter
// but backs it with a container runtime's attached stdio instead of a
// local child process. Disallowed volumes are validated by the sandbox
// policy before a ContainerSpec ever reaches here; Connect fails fast if
// spawning or attaching does not succeed.
type ContainerAdapter struct {
	rt   runtime.Runtime
	spec runtime.ContainerSpec
	opts Options

	handle runtime.ContainerHandle
	core   *streamCore
}

// NewContainer builds a container transport adapter. rt is typically a
// *docker.Adapter; spec is the sandbox-policy-enforced container shape.
func NewContainer(rt runtime.Runtime, spec runtime.ContainerSpec, opts Options) *ContainerAdapter {
	return &ContainerAdapter{rt: rt, spec: spec, opts: opts}
}

func (a *ContainerAdapter) Connect(ctx context.Context) error {
	handle, err := a.rt.Spawn(ctx, a.spec)
	if err != nil {
		return fmt.Errorf("container transport: spawn: %w", err)
	}
	stream, err := a.rt.AttachIO(ctx, handle)
	if err != nil {
		_ = a.rt.Remove(context.Background(), handle)
		return fmt.Errorf("container transport: attach: %w", err)
	}

	a.handle = handle
	a.core = newStreamCore("container:"+a.spec.Image, stream, maxBufferSizeFor(a.opts))
	go a.core.readLoop(stream)
	return nil
}

func (a *ContainerAdapter) Disconnect(ctx context.Context) error {
	if a.core != nil {
		a.core.close()
	}
	if a.handle.ContainerID == "" {
		return nil
	}
	if err := a.rt.Stop(ctx, a.handle); err != nil {
		return fmt.Errorf("container transport: stop: %w", err)
	}
	return nil
}

func (a *ContainerAdapter) Send(ctx context.Context, msg *jsonrpc.Message) error {
	if a.core == nil || !a.core.isConnected() {
		return ErrNotConnected
	}
	return a.core.write(msg)
}

func (a *ContainerAdapter) Receive(ctx context.Context) (*jsonrpc.Message, error) {
	if a.core == nil || !a.core.isConnected() {
		return nil, ErrNotConnected
	}
	return a.core.receive(ctx)
}

func (a *ContainerAdapter) SendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if a.core == nil {
		return nil, ErrNotConnected
	}
	return withRetry(ctx, a.opts, func() (*jsonrpc.Message, error) {
		cctx, cancel := a.opts.timeoutOr(ctx)
		defer cancel()
		return a.core.sendAndReceive(cctx, msg)
	})
}

func (a *ContainerAdapter) IsConnected() bool {
	return a.core != nil && a.core.isConnected()
}

func (a *ContainerAdapter) HealthCheck(ctx context.Context) error {
	if !a.IsConnected() {
		return ErrNotConnected
	}
	status, err := a.rt.Status(ctx, a.handle)
	if err != nil {
		return fmt.Errorf("container transport: status: %w", err)
	}
	if status.State != runtime.StateRunning {
		return fmt.Errorf("container transport: container state is %s, not running", status.State)
	}
	return nil
}
