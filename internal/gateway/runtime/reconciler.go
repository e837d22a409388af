package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// StateMachine is the transition surface the reconciler drives;
// *supervisor.Machine satisfies it. Declaring it here keeps this package
// free of a supervisor import (supervisor imports transport, which imports
// runtime).
type StateMachine interface {
	Transition(id string, to registry.State) error
}

// ReconcilerConfig configures the reconciliation loop.
type ReconcilerConfig struct {
	// Interval is how often to poll container state. Defaults to 30s.
	Interval time.Duration
	// AlertFunc is called when an unexpected state change is detected.
	// If nil, issues are only logged.
	AlertFunc func(instanceID, message string)
}

// Reconciler periodically syncs observed container state into the registry
// for every container-transport instance, via the supervisor state machine
// (so drift still goes through the warn-but-apply legality check rather
// than writing registry state directly).
type Reconciler struct {
	runtime Runtime
	reg     *registry.Registry
	machine StateMachine
	cfg     ReconcilerConfig
}

// NewReconciler creates a new Reconciler.
func NewReconciler(rt Runtime, reg *registry.Registry, machine StateMachine, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reconciler{runtime: rt, reg: reg, machine: machine, cfg: cfg}
}

// Run starts the reconciliation loop. Blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.Info("reconciler: starting", "interval", r.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler: stopping")
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				slog.Error("reconciler: pass failed", "err", err)
			}
		}
	}
}

// Reconcile runs a single pass: every container-backed instance is compared
// against the runtime's live view, and drift is applied through the
// supervisor state machine.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	instances := r.reg.ListInstances()

	handles, err := r.runtime.List(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list containers: %w", err)
	}
	handleByInstance := make(map[string]ContainerHandle, len(handles))
	for _, h := range handles {
		handleByInstance[h.InstanceID] = h
	}

	for _, inst := range instances {
		if inst.ContainerID == "" {
			continue // not container-backed, nothing for this runtime to observe
		}
		if inst.State == registry.StateStopped || inst.State == registry.StateError {
			continue
		}

		handle, found := handleByInstance[inst.ID]
		if !found {
			if inst.State == registry.StateRunning {
				slog.Warn("reconciler: container missing, marking crashed", "instance", inst.ID)
				if err := r.machine.Transition(inst.ID, registry.StateCrashed); err != nil {
					slog.Error("reconciler: transition failed", "instance", inst.ID, "err", err)
				}
				r.alert(inst.ID, "container missing; expected running")
			}
			continue
		}

		status, err := r.runtime.Status(ctx, handle)
		if err != nil {
			slog.Error("reconciler: status error", "instance", inst.ID, "err", err)
			continue
		}

		newState := containerStateToInstanceState(status.State)
		if newState != inst.State {
			slog.Info("reconciler: state drift", "instance", inst.ID, "from", inst.State, "to", newState)
			if err := r.machine.Transition(inst.ID, newState); err != nil {
				slog.Error("reconciler: transition failed", "instance", inst.ID, "err", err)
			}
			if newState == registry.StateCrashed || (inst.State == registry.StateRunning && newState != registry.StateRunning) {
				r.alert(inst.ID, fmt.Sprintf("unexpected state change: %s -> %s (exit_code=%d)", inst.State, newState, status.ExitCode))
			}
		}
	}

	return nil
}

func (r *Reconciler) alert(instanceID, message string) {
	if r.cfg.AlertFunc != nil {
		r.cfg.AlertFunc(instanceID, message)
	} else {
		slog.Warn("reconciler: alert", "instance", instanceID, "message", message)
	}
}

func containerStateToInstanceState(state ContainerState) registry.State {
	switch state {
	case StateRunning:
		return registry.StateRunning
	case StateStopped, StateExited, StateCreated, StatePaused:
		return registry.StateStopped
	case StateUnknown, StateRemoving:
		return registry.StateCrashed
	default:
		return registry.StateCrashed
	}
}
