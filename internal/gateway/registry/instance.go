package registry

import (
	"sync"
	"time"
)

// State is a backend instance's position in the C4 supervisor's state
// machine. Defined here (not in the supervisor package) because Instance is
// registry-owned data; the supervisor only ever reads/writes it by id.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateError        State = "error"
	StateCrashed      State = "crashed"
	StateRestarting   State = "restarting"
	StateUpgrading    State = "upgrading"
	StateMaintenance  State = "maintenance"
)

// HistoryEntry is one observed state, kept for the last 10 per instance.
type HistoryEntry struct {
	State     State
	Timestamp time.Time
}

// HealthRecord mirrors the health checker's per-instance cache entry.
type HealthRecord struct {
	Healthy   bool
	LatencyMs float64
	Error     string
	Timestamp time.Time
}

// LoadMetrics is the router's per-instance performance state. AddedAt is set
// exactly once, on first observation, and never rewritten — it anchors the
// warmup ramp.
type LoadMetrics struct {
	RequestCount    int64
	ErrorCount      int64
	AvgResponseTime float64 // milliseconds
	AddedAt         time.Time
	LastRequestTime time.Time
}

// Instance is owned exclusively by the Registry. Callers outside the
// registry/supervisor must treat its pointer as read-only except through the
// Registry's own mutating methods, which serialize per-instance access.
type Instance struct {
	mu sync.Mutex

	ID          string
	TemplateRef string // Template.Name
	State       State
	PID         int
	StartedAt   time.Time
	Health      *HealthRecord
	Metrics     LoadMetrics
	ErrorCount  int
	Metadata    map[string]string
	History     []HistoryEntry

	// ContainerID is set for container-transport instances, used by the
	// runtime reconciler to correlate against the container runtime's view.
	ContainerID string
}

// withLock runs fn with the instance's mutex held, for atomic read-modify-write.
func (i *Instance) withLock(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn()
}

// snapshot returns a copy of the instance safe to hand to callers outside
// the registry (no embedded mutex, no aliasing of mutable slices/maps).
func (i *Instance) snapshot() Instance {
	i.mu.Lock()
	defer i.mu.Unlock()
	cp := *i
	cp.mu = sync.Mutex{}
	if i.Health != nil {
		h := *i.Health
		cp.Health = &h
	}
	cp.History = append([]HistoryEntry(nil), i.History...)
	cp.Metadata = make(map[string]string, len(i.Metadata))
	for k, v := range i.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

const maxHistoryEntries = 10

// recordHistory appends a state observation, evicting the oldest entry past
// the 10-entry cap. Timestamp is forced non-decreasing relative to the
// previous entry so the monotonicity invariant holds even if a caller races
// with a slightly-stale clock read.
func (i *Instance) recordHistory(state State, ts time.Time) {
	if n := len(i.History); n > 0 && ts.Before(i.History[n-1].Timestamp) {
		ts = i.History[n-1].Timestamp
	}
	i.History = append(i.History, HistoryEntry{State: state, Timestamp: ts})
	if len(i.History) > maxHistoryEntries {
		i.History = i.History[len(i.History)-maxHistoryEntries:]
	}
}
