package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTemplateExists is returned when registering a template whose name is
// already taken.
var ErrTemplateExists = fmt.Errorf("registry: template already exists")

// ErrTemplateNotFound / ErrInstanceNotFound mark lookups against unknown ids.
var (
	ErrTemplateNotFound = fmt.Errorf("registry: template not found")
	ErrInstanceNotFound = fmt.Errorf("registry: instance not found")
)

// Registry holds the templates table (reader-preferring lock; writers
// serialize) and the instances table (shared lock for reads, per-instance
// mutex for state transitions).
type Registry struct {
	templatesMu sync.RWMutex
	templates   map[string]Template

	instancesMu sync.RWMutex
	instances   map[string]*Instance
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		templates: make(map[string]Template),
		instances: make(map[string]*Instance),
	}
}

// RegisterTemplate adds a new, immutable template. Fails if the name is taken.
func (r *Registry) RegisterTemplate(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.templatesMu.Lock()
	defer r.templatesMu.Unlock()
	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTemplateExists, t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// RemoveTemplate deletes a template by name. Does not touch any existing
// instances created from it.
func (r *Registry) RemoveTemplate(name string) error {
	r.templatesMu.Lock()
	defer r.templatesMu.Unlock()
	if _, exists := r.templates[name]; !exists {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	delete(r.templates, name)
	return nil
}

// GetTemplate returns a template by name.
func (r *Registry) GetTemplate(name string) (Template, error) {
	r.templatesMu.RLock()
	defer r.templatesMu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// ListTemplates returns all registered templates, order not significant.
func (r *Registry) ListTemplates() []Template {
	r.templatesMu.RLock()
	defer r.templatesMu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}

// CreateInstance allocates a new instance of templateName in StateIdle.
func (r *Registry) CreateInstance(templateName string, metadata map[string]string) (*Instance, error) {
	if _, err := r.GetTemplate(templateName); err != nil {
		return nil, err
	}

	now := time.Now()
	inst := &Instance{
		ID:          uuid.NewString(),
		TemplateRef: templateName,
		State:       StateIdle,
		Metadata:    metadata,
	}
	inst.recordHistory(StateIdle, now)

	r.instancesMu.Lock()
	r.instances[inst.ID] = inst
	r.instancesMu.Unlock()
	return inst, nil
}

// GetInstance returns the live instance pointer's snapshot (never an aliased
// mutable struct) — callers needing to mutate state go through SetState.
func (r *Registry) GetInstance(id string) (Instance, error) {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst.snapshot(), nil
}

// ListInstances returns a snapshot of every instance.
func (r *Registry) ListInstances() []Instance {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()
	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// RemoveInstance deletes an instance permanently; a stopped instance may be
// garbage-collected but cannot resume under the same id.
func (r *Registry) RemoveInstance(id string) error {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	delete(r.instances, id)
	return nil
}

// SetState overwrites an instance's state and appends a history entry,
// serialized per-instance. It does not itself validate the transition —
// that is the supervisor state machine's job; the registry only records.
func (r *Registry) SetState(id string, state State, at time.Time) error {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.withLock(func() {
		inst.State = state
		inst.recordHistory(state, at)
	})
	return nil
}

// MergeMetadata merges kv into an instance's metadata, overwriting any
// existing keys in common.
func (r *Registry) MergeMetadata(id string, kv map[string]string) error {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.withLock(func() {
		if inst.Metadata == nil {
			inst.Metadata = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			inst.Metadata[k] = v
		}
	})
	return nil
}

// SetHealth replaces an instance's cached health record atomically.
func (r *Registry) SetHealth(id string, rec HealthRecord) error {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.withLock(func() { inst.Health = &rec })
	return nil
}

// RecordRequest updates an instance's load metrics after a completed call.
// AddedAt is stamped once, on the instance's first observation.
func (r *Registry) RecordRequest(id string, responseTimeMs float64, success bool, at time.Time) error {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.withLock(func() {
		if inst.Metrics.AddedAt.IsZero() {
			inst.Metrics.AddedAt = at
		}
		n := inst.Metrics.RequestCount
		inst.Metrics.AvgResponseTime = (inst.Metrics.AvgResponseTime*float64(n) + responseTimeMs) / float64(n+1)
		inst.Metrics.RequestCount++
		if !success {
			inst.Metrics.ErrorCount++
			inst.ErrorCount++
		}
		if at.After(inst.Metrics.LastRequestTime) {
			inst.Metrics.LastRequestTime = at
		}
	})
	return nil
}

// HealthyInstances returns snapshots of every instance whose state is
// running and whose cached health (if any) reports healthy.
func (r *Registry) HealthyInstances() []Instance {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()
	var out []Instance
	for _, inst := range r.instances {
		snap := inst.snapshot()
		if snap.State != StateRunning {
			continue
		}
		if snap.Health != nil && !snap.Health.Healthy {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// InstancesForTemplate returns snapshots of every instance created from
// templateName.
func (r *Registry) InstancesForTemplate(templateName string) []Instance {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()
	var out []Instance
	for _, inst := range r.instances {
		if inst.TemplateRef == templateName {
			out = append(out, inst.snapshot())
		}
	}
	return out
}
