// Package docker provides a Docker Engine runtime adapter for spawning
// sandboxed MCP backend containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
)

const (
	labelManagedBy = "mcp-gateway.managed-by"
	labelInstance  = "mcp-gateway.instance-id"
	labelTemplate  = "mcp-gateway.template"
	managedByValue = "mcp-gatewayd"

	// stopTimeout is how long to wait for graceful container stop before SIGKILL.
	stopTimeout = 10 * time.Second
)

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client  *dockerclient.Client
	network string
}

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	return NewWithNetwork(runtime.DefaultNetwork)
}

// NewWithNetwork creates an adapter using a specific Docker network name.
func NewWithNetwork(networkName string) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli, network: networkName}, nil
}

// EnsureNetwork creates the gateway's Docker network if it doesn't exist.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.network)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == a.network {
			return nil // already exists
		}
	}
	_, err = a.client.NetworkCreate(ctx, a.network, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManagedBy: managedByValue},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", a.network, err)
	}
	return nil
}

// Spawn creates and starts a sandboxed MCP backend container from spec.
func (a *Adapter) Spawn(ctx context.Context, spec runtime.ContainerSpec) (runtime.ContainerHandle, error) {
	if spec.Image == "" {
		return runtime.ContainerHandle{}, fmt.Errorf("docker: spec.Image is required")
	}

	networkName := spec.NetworkName
	if networkName == "" {
		networkName = a.network
	}

	containerName := runtime.ContainerNameFor(spec.InstanceID)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelInstance:  spec.InstanceID,
		labelTemplate:  spec.Template,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cmd := []string{}
	if spec.Command != "" {
		cmd = append([]string{spec.Command}, spec.Args...)
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          cmd,
		Env:          env,
		Labels:       labels,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		Tty:          false,
	}

	hostCfg := &container.HostConfig{
		RestartPolicy:  container.RestartPolicy{Name: "unless-stopped"},
		ReadonlyRootfs: spec.ReadonlyRootfs,
		CapDrop:        spec.CapDrop,
	}
	if spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}
	if spec.SeccompProfile != "" {
		hostCfg.SecurityOpt = []string{"seccomp=" + spec.SeccompProfile}
	}
	for _, v := range spec.Volumes {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}

	var networkCfg *network.NetworkingConfig
	if spec.NetworkMode != "none" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {},
			},
		}
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		return runtime.ContainerHandle{}, fmt.Errorf("create container: %w", err)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return runtime.ContainerHandle{}, fmt.Errorf("start container: %w", err)
	}

	return runtime.ContainerHandle{
		InstanceID:    spec.InstanceID,
		ContainerID:   resp.ID,
		ContainerName: containerName,
	}, nil
}

// AttachIO returns a hijacked stream bound to the container's stdin/stdout,
// for the container transport to frame as MCP JSON-RPC.
func (a *Adapter) AttachIO(ctx context.Context, handle runtime.ContainerHandle) (io.ReadWriteCloser, error) {
	resp, err := a.client.ContainerAttach(ctx, handle.ContainerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: false,
	})
	if err != nil {
		return nil, fmt.Errorf("attach container %s: %w", handle.ContainerID, err)
	}
	return hijackedConn{resp}, nil
}

// hijackedConn adapts the Docker API's HijackedResponse (a raw duplex
// connection over the attached container's stdio) to io.ReadWriteCloser.
type hijackedConn struct {
	resp types.HijackedResponse
}

func (h hijackedConn) Read(p []byte) (int, error)  { return h.resp.Reader.Read(p) }
func (h hijackedConn) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }
func (h hijackedConn) Close() error                { h.resp.Close(); return nil }

// Stop gracefully stops the container.
func (a *Adapter) Stop(ctx context.Context, handle runtime.ContainerHandle) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", handle.ContainerID, err)
	}
	return nil
}

// Start starts a previously stopped container without recreating it.
func (a *Adapter) Start(ctx context.Context, handle runtime.ContainerHandle) error {
	if err := a.client.ContainerStart(ctx, handle.ContainerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", handle.ContainerID, err)
	}
	return nil
}

// Restart stops and starts the container.
func (a *Adapter) Restart(ctx context.Context, handle runtime.ContainerHandle) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerRestart(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart container %s: %w", handle.ContainerID, err)
	}
	return nil
}

// Status returns the current runtime state of the container.
func (a *Adapter) Status(ctx context.Context, handle runtime.ContainerHandle) (runtime.Status, error) {
	inspect, err := a.client.ContainerInspect(ctx, handle.ContainerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.Status{
				InstanceID:  handle.InstanceID,
				ContainerID: handle.ContainerID,
				State:       runtime.StateUnknown,
			}, nil
		}
		return runtime.Status{}, fmt.Errorf("inspect container: %w", err)
	}

	state := parseContainerState(inspect.State.Status)
	startedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)

	return runtime.Status{
		InstanceID:  handle.InstanceID,
		ContainerID: inspect.ID,
		State:       state,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		ExitCode:    inspect.State.ExitCode,
		Error:       inspect.State.Error,
	}, nil
}

// List returns handles for all gateway-managed containers.
func (a *Adapter) List(ctx context.Context) ([]runtime.ContainerHandle, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	handles := make([]runtime.ContainerHandle, 0, len(containers))
	for _, c := range containers {
		instanceID := c.Labels[labelInstance]
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		handles = append(handles, runtime.ContainerHandle{
			InstanceID:    instanceID,
			ContainerID:   c.ID,
			ContainerName: name,
		})
	}
	return handles, nil
}

// Remove stops and removes the container entirely.
func (a *Adapter) Remove(ctx context.Context, handle runtime.ContainerHandle) error {
	_ = a.Stop(ctx, handle) // best-effort graceful stop first
	if err := a.client.ContainerRemove(ctx, handle.ContainerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	return nil
}

func parseContainerState(s string) runtime.ContainerState {
	switch strings.ToLower(s) {
	case "running":
		return runtime.StateRunning
	case "stopped":
		return runtime.StateStopped
	case "exited":
		return runtime.StateExited
	case "created":
		return runtime.StateCreated
	case "paused":
		return runtime.StatePaused
	case "removing":
		return runtime.StateRemoving
	default:
		return runtime.StateUnknown
	}
}
