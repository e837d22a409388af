// Package runtime defines the container-runtime abstraction the container
// transport (C2) and the process supervisor (C4) use to spawn and observe
// containerized MCP backend instances.
package runtime

import "time"

// Volume is a single bind mount requested by a template's container config.
type Volume struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerSpec describes how a sandboxed MCP backend container should be
// created. Every field here is the output of the sandbox policy (C3), not
// the raw template — by the time a ContainerSpec is built, volumes have
// already been validated against allowedVolumeRoots and network/capability
// settings already reflect the enforced profile.
type ContainerSpec struct {
	// InstanceID is the owning registry instance id (container name/label).
	InstanceID string
	// Template is the template name this instance was created from.
	Template string
	Image    string
	// Command and Args run inside the container (stdio MCP server entrypoint).
	Command string
	Args    []string
	Env     map[string]string
	Labels  map[string]string

	NetworkName    string
	NetworkMode    string // "none" when the sandbox policy forces network isolation
	ReadonlyRootfs bool
	Volumes        []Volume
	CapDrop        []string
	SeccompProfile string
}

// ContainerHandle identifies a running or stopped container.
type ContainerHandle struct {
	InstanceID    string
	ContainerID   string
	ContainerName string
}

// ContainerState mirrors Docker's container lifecycle states.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateExited   ContainerState = "exited"
	StateCreated  ContainerState = "created"
	StatePaused   ContainerState = "paused"
	StateRemoving ContainerState = "removing"
	StateUnknown  ContainerState = "unknown"
)

// Status holds live container status information.
type Status struct {
	InstanceID  string
	ContainerID string
	State       ContainerState
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitCode    int
	Error       string
}

// DefaultNetwork is the Docker network MCP backend containers attach to
// when a template does not request sandbox-forced network isolation.
const DefaultNetwork = "mcp-gateway"

// ContainerNameFor returns the Docker container name for a backend instance id.
func ContainerNameFor(instanceID string) string {
	return "mcp-gateway-" + instanceID
}
