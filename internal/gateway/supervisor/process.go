package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/health"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/transport"
)

// restartDelay is a fixed pause before trying to bring a crashed process
// back up.
const restartDelay = 5 * time.Second

// clientName/clientVersion identify this gateway to backends during the MCP
// handshake's initialize call.
const (
	clientName    = "mcp-gatewayd"
	clientVersion = "1.0.0"
)

// AdapterFactory builds the transport adapter for one instance of a
// template. Stdio/HTTP/SSE construction lives in the transport package;
// container construction additionally needs a runtime.Runtime, so the
// caller wiring main() supplies the closure.
type AdapterFactory func(ctx context.Context, tpl registry.Template, instanceID string) (transport.Adapter, error)

// process tracks one running (or restarting) instance's live adapter.
type process struct {
	instanceID   string
	templateName string
	autoRestart  bool

	mu      sync.Mutex
	adapter transport.Adapter
}

// Manager owns every live Process, mapping instance id to its adapter, and
// drives each one through the state machine on start/stop/restart.
type Manager struct {
	reg        *registry.Registry
	machine    *Machine
	newAdapter AdapterFactory

	mu        sync.RWMutex
	processes map[string]*process
	stopWatch map[string]context.CancelFunc
}

// NewManager creates a Manager bound to reg/machine, using newAdapter to
// construct transport adapters on demand.
func NewManager(reg *registry.Registry, machine *Machine, newAdapter AdapterFactory) *Manager {
	return &Manager{
		reg:        reg,
		machine:    machine,
		newAdapter: newAdapter,
		processes:  make(map[string]*process),
		stopWatch:  make(map[string]context.CancelFunc),
	}
}

// Start materializes and connects the instance's adapter, runs the MCP
// handshake, and transitions it through initializing -> starting -> running
// (or -> error if the adapter cannot be built, -> crashed if connect or the
// handshake fails). autoRestart governs whether an unexpected
// disconnect triggers a restart loop.
func (m *Manager) Start(ctx context.Context, instanceID string, autoRestart bool) error {
	inst, err := m.reg.GetInstance(instanceID)
	if err != nil {
		return err
	}
	tpl, err := m.reg.GetTemplate(inst.TemplateRef)
	if err != nil {
		return err
	}

	// Idle is the only state the table permits moving into Initializing
	// from; resuming a stopped/crashed/errored instance goes straight to
	// Starting instead of replaying that first step.
	if inst.State == registry.StateIdle {
		if err := m.machine.Transition(instanceID, registry.StateInitializing); err != nil {
			return err
		}
	}
	if err := m.machine.Transition(instanceID, registry.StateStarting); err != nil {
		return err
	}

	adapter, err := m.newAdapter(ctx, tpl, instanceID)
	if err != nil {
		m.machine.Transition(instanceID, registry.StateError)
		return fmt.Errorf("supervisor: build adapter for %s: %w", instanceID, err)
	}
	if err := adapter.Connect(ctx); err != nil {
		m.machine.Transition(instanceID, registry.StateCrashed)
		return fmt.Errorf("supervisor: connect %s: %w", instanceID, err)
	}
	if err := runHandshake(ctx, adapter, clientName, clientVersion); err != nil {
		adapter.Disconnect(ctx)
		m.machine.Transition(instanceID, registry.StateCrashed)
		return fmt.Errorf("supervisor: handshake %s: %w", instanceID, err)
	}

	p := &process{instanceID: instanceID, templateName: inst.TemplateRef, autoRestart: autoRestart, adapter: adapter}
	m.mu.Lock()
	m.processes[instanceID] = p
	m.mu.Unlock()

	if err := m.machine.Transition(instanceID, registry.StateRunning); err != nil {
		return err
	}

	if autoRestart {
		watchCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.stopWatch[instanceID] = cancel
		m.mu.Unlock()
		go m.watchAndRestart(watchCtx, instanceID)
	}

	return nil
}

// Stop disconnects the instance's adapter and transitions it to stopped.
func (m *Manager) Stop(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	if cancel, ok := m.stopWatch[instanceID]; ok {
		cancel()
		delete(m.stopWatch, instanceID)
	}
	p, ok := m.processes[instanceID]
	delete(m.processes, instanceID)
	m.mu.Unlock()

	if err := m.machine.Transition(instanceID, registry.StateStopping); err != nil {
		return err
	}
	if ok {
		p.mu.Lock()
		adapter := p.adapter
		p.mu.Unlock()
		if err := adapter.Disconnect(ctx); err != nil {
			slog.Warn("supervisor: disconnect error", "instance", instanceID, "err", err)
		}
	}
	return m.machine.Transition(instanceID, registry.StateStopped)
}

// Restart stops and starts an instance in place, preserving its autoRestart
// setting.
func (m *Manager) Restart(ctx context.Context, instanceID string) error {
	m.mu.RLock()
	p, ok := m.processes[instanceID]
	m.mu.RUnlock()
	autoRestart := ok && p.autoRestart

	if err := m.machine.Transition(instanceID, registry.StateRestarting); err != nil {
		return err
	}
	if ok {
		p.mu.Lock()
		adapter := p.adapter
		p.mu.Unlock()
		adapter.Disconnect(ctx)
	}
	return m.Start(ctx, instanceID, autoRestart)
}

// Adapter returns the live adapter for instanceID, satisfying
// health.AdapterProvider (transport.Adapter is a superset of health.Prober).
func (m *Manager) Adapter(instanceID string) (health.Prober, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[instanceID]
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapter, true
}

// LiveAdapter returns the full transport.Adapter for a running, already
// connected-and-handshaken instance, for callers (the live tool-dispatch
// path) that need to use it directly rather than merely probe it.
func (m *Manager) LiveAdapter(instanceID string) (transport.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[instanceID]
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapter, true
}

// watchAndRestart observes one instance's adapter connectivity and restarts
// it restartDelay after an unexpected disconnect.
func (m *Manager) watchAndRestart(ctx context.Context, instanceID string) {
	const pollInterval = time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		p, ok := m.processes[instanceID]
		m.mu.RUnlock()
		if !ok {
			return
		}
		p.mu.Lock()
		connected := p.adapter.IsConnected()
		p.mu.Unlock()
		if connected {
			continue
		}

		slog.Warn("supervisor: instance disconnected unexpectedly, scheduling restart", "instance", instanceID)
		if err := m.machine.Transition(instanceID, registry.StateCrashed); err != nil {
			slog.Error("supervisor: transition to crashed failed", "instance", instanceID, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}

		if err := m.Start(context.Background(), instanceID, true); err != nil {
			slog.Error("supervisor: restart failed", "instance", instanceID, "err", err)
			continue
		}
		return // Start spawned a fresh watchAndRestart goroutine
	}
}
