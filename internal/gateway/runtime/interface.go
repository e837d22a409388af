package runtime

import (
	"context"
	"io"
)

// Runtime abstracts the container orchestration backend (Docker, Podman, …)
// used to spawn and supervise sandboxed MCP backend containers.
type Runtime interface {
	// Spawn creates and starts a new container from spec. Returns a handle
	// identifying it. Disallowed volumes (outside the sandbox policy's
	// allowed roots) must already have been rejected by the caller before
	// Spawn is invoked — Spawn itself does not re-validate them.
	Spawn(ctx context.Context, spec ContainerSpec) (ContainerHandle, error)

	// AttachIO returns a read/write stream hooked to the container's stdin
	// and stdout, for the container transport (C2) to frame as MCP JSON-RPC.
	// Closing the returned stream does not stop the container.
	AttachIO(ctx context.Context, handle ContainerHandle) (io.ReadWriteCloser, error)

	Stop(ctx context.Context, handle ContainerHandle) error
	Start(ctx context.Context, handle ContainerHandle) error
	Restart(ctx context.Context, handle ContainerHandle) error
	Status(ctx context.Context, handle ContainerHandle) (Status, error)

	// List returns handles for all containers this runtime manages.
	List(ctx context.Context) ([]ContainerHandle, error)

	// Remove stops and deletes the container.
	Remove(ctx context.Context, handle ContainerHandle) error
}
