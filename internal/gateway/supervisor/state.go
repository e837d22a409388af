// Package supervisor owns backend instance lifetime: state transitions,
// the MCP handshake sequence on startup, and (via Process) the stdio/
// container process underneath a running instance.
package supervisor

import (
	"log/slog"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// permitted is the exhaustive state-transition table. A transition not
// listed here is invalid — it is still applied (the system must never
// deadlock on an observer's mistake) but is logged as a warning.
var permitted = map[registry.State][]registry.State{
	registry.StateIdle:         {registry.StateInitializing},
	registry.StateInitializing: {registry.StateStarting, registry.StateError},
	registry.StateStarting:     {registry.StateRunning, registry.StateError, registry.StateCrashed},
	registry.StateRunning:      {registry.StateStopping, registry.StateError, registry.StateCrashed, registry.StateRestarting, registry.StateMaintenance},
	registry.StateStopping:     {registry.StateStopped, registry.StateError},
	registry.StateStopped:      {registry.StateStarting, registry.StateIdle},
	registry.StateError:        {registry.StateStarting, registry.StateStopping, registry.StateStopped},
	registry.StateCrashed:      {registry.StateStarting, registry.StateStopped},
	registry.StateRestarting:   {registry.StateStarting, registry.StateError},
	registry.StateUpgrading:    {registry.StateRunning, registry.StateError},
	registry.StateMaintenance:  {registry.StateRunning, registry.StateStopping},
}

// IsPermitted reports whether from→to appears in the exhaustive transition
// table.
func IsPermitted(from, to registry.State) bool {
	for _, s := range permitted[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine drives transitions for a single instance against the registry,
// which owns the instance's State and History. It never blocks a transition
// on illegality — it only decides whether to log a warning.
type Machine struct {
	reg *registry.Registry
}

// NewMachine creates a Machine bound to reg.
func NewMachine(reg *registry.Registry) *Machine {
	return &Machine{reg: reg}
}

// Transition moves instance id from its current state to to, recording the
// change (and a warning if the transition is not in the permitted table) and
// applying it regardless: warning rather than rejecting means a misbehaving
// caller can never wedge an instance.
func (m *Machine) Transition(id string, to registry.State) error {
	inst, err := m.reg.GetInstance(id)
	if err != nil {
		return err
	}

	if !IsPermitted(inst.State, to) {
		slog.Warn("supervisor: invalid state transition applied anyway",
			"instance", id, "from", inst.State, "to", to)
	}

	return m.reg.SetState(id, to, time.Now())
}
