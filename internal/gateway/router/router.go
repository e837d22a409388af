// Package router implements the gateway's request router (C7): rule
// indexing and evaluation over a candidate instance set, then health
// filtering and load-balancing selection.
package router

import (
	"errors"
	"sync"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// ErrNoCandidates is returned when rule evaluation empties the candidate
// set (a deny rule fired, or every candidate was filtered/rejected out).
var ErrNoCandidates = errors.New("router: no candidate services matched")

// ErrNoHealthyCandidates is returned when candidates remain but none are
// healthy.
var ErrNoHealthyCandidates = errors.New("router: no healthy candidate services")

// Outcome describes how a request was routed, for logging/audit.
type Outcome struct {
	Instance   registry.Instance
	Applied    []string
	Preferred  []string
	RedirectTo string
}

// historyEntry is one routed (or failed-to-route) request, kept in a
// fixed-size ring — the same bounded-memory idiom as health.sampleRing,
// generalized from latency samples to full routing decisions.
type historyEntry struct {
	Request    Request
	InstanceID string
	Applied    []string
	Err        error
	Timestamp  time.Time
}

const historySize = 1000

type historyRing struct {
	entries []historyEntry
	next    int
	filled  bool
}

func newHistoryRing() *historyRing {
	return &historyRing{entries: make([]historyEntry, historySize)}
}

func (r *historyRing) record(e historyEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % historySize
	if r.next == 0 {
		r.filled = true
	}
}

// Recent returns the last n history entries, newest first.
func (r *historyRing) Recent(n int) []historyEntry {
	count := r.next
	if r.filled {
		count = historySize
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]historyEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + historySize) % historySize
		out = append(out, r.entries[idx])
	}
	return out
}

// Router owns the rule set, selector state, and request history for a
// single gateway instance.
type Router struct {
	reg      *registry.Registry
	selector *Selector
	strategy Strategy

	mu      sync.RWMutex
	rules   []*Rule
	index   *Index
	history *historyRing
}

func NewRouter(reg *registry.Registry, strategy Strategy) *Router {
	return &Router{
		reg:      reg,
		selector: NewSelector(),
		strategy: strategy,
		index:    NewIndex(nil),
		history:  newHistoryRing(),
	}
}

// SetRules replaces the active rule set and rebuilds its radix index.
func (r *Router) SetRules(rules []*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
	r.index = NewIndex(rules)
}

func (r *Router) Rules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Rule(nil), r.rules...)
}

// Route evaluates req against the current rule set and registry state,
// returning the chosen instance or an error if none qualifies.
func (r *Router) Route(req Request) (Outcome, error) {
	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()

	instances := r.candidateInstances(req)
	templates := r.templatesByName()

	result := Evaluate(req, instances, templates, idx)

	outcome := Outcome{Applied: result.Applied, RedirectTo: result.RedirectTo}
	for id := range result.Preferred {
		outcome.Preferred = append(outcome.Preferred, id)
	}

	if len(result.Candidates) == 0 {
		r.recordHistory(req, "", result.Applied, ErrNoCandidates)
		return outcome, ErrNoCandidates
	}

	var remaining []registry.Instance
	for _, inst := range instances {
		if result.Candidates[inst.ID] {
			remaining = append(remaining, inst)
		}
	}

	healthy := filterHealthy(remaining)
	if len(healthy) == 0 {
		r.recordHistory(req, "", result.Applied, ErrNoHealthyCandidates)
		return outcome, ErrNoHealthyCandidates
	}
	if len(healthy) == 1 {
		outcome.Instance = healthy[0]
		r.recordHistory(req, healthy[0].ID, result.Applied, nil)
		return outcome, nil
	}

	pool := narrowToPreferred(healthy, result.Preferred)
	key := routingKey(req)
	chosen := r.selector.Select(r.strategy, key, pool, templates, req, time.Now())

	outcome.Instance = chosen
	r.recordHistory(req, chosen.ID, result.Applied, nil)
	return outcome, nil
}

func (r *Router) candidateInstances(req Request) []registry.Instance {
	if req.TemplateHint != "" {
		return r.reg.InstancesForTemplate(req.TemplateHint)
	}
	return r.reg.ListInstances()
}

func (r *Router) templatesByName() map[string]registry.Template {
	templates := r.reg.ListTemplates()
	out := make(map[string]registry.Template, len(templates))
	for _, t := range templates {
		out[t.Name] = t
	}
	return out
}

func (r *Router) recordHistory(req Request, instanceID string, applied []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.record(historyEntry{Request: req, InstanceID: instanceID, Applied: applied, Err: err, Timestamp: time.Now()})
}

// History returns the last n routed requests, newest first.
func (r *Router) History(n int) []historyEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Recent(n)
}

func filterHealthy(instances []registry.Instance) []registry.Instance {
	var out []registry.Instance
	for _, inst := range instances {
		if inst.State == registry.StateRunning || (inst.Health != nil && inst.Health.Healthy) {
			out = append(out, inst)
		}
	}
	return out
}

// narrowToPreferred restricts healthy to the preferred subset when the
// intersection is non-empty. "prefer" only ever annotates the request, never
// the service, so an empty intersection leaves healthy untouched rather than
// emptying the candidate set.
func narrowToPreferred(healthy []registry.Instance, preferred map[string]bool) []registry.Instance {
	if len(preferred) == 0 {
		return healthy
	}
	var narrowed []registry.Instance
	for _, inst := range healthy {
		if preferred[inst.ID] {
			narrowed = append(narrowed, inst)
		}
	}
	if len(narrowed) == 0 {
		return healthy
	}
	return narrowed
}

func routingKey(req Request) string {
	if req.TemplateHint != "" {
		return req.TemplateHint
	}
	return "*"
}
