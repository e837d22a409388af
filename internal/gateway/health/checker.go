// Package health implements the gateway's background health checker (C5):
// periodic probing of every registered instance, concurrency-bounded and
// deduplicated, feeding the registry's health record and a per-instance
// latency/error-rate summary the router can consult.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultConcurrency  = 8
	defaultFreshness    = 5 * time.Second
)

// Prober is the capability the checker needs from a transport adapter.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// AdapterProvider resolves the live adapter backing one instance. The
// checker never owns adapters; the supervisor does.
type AdapterProvider interface {
	Adapter(instanceID string) (Prober, bool)
}

// Checker periodically probes every instance in the registry.
type Checker struct {
	reg      *registry.Registry
	provider AdapterProvider

	scanInterval time.Duration
	concurrency  int
	freshness    time.Duration

	sem chan struct{}

	mu        sync.Mutex
	lastProbe map[string]time.Time
	inflight  map[string]chan struct{}
	rings     map[string]*sampleRing
}

// Option configures a Checker at construction.
type Option func(*Checker)

func WithScanInterval(d time.Duration) Option { return func(c *Checker) { c.scanInterval = d } }
func WithConcurrency(n int) Option            { return func(c *Checker) { c.concurrency = n } }
func WithFreshness(d time.Duration) Option    { return func(c *Checker) { c.freshness = d } }

func NewChecker(reg *registry.Registry, provider AdapterProvider, opts ...Option) *Checker {
	c := &Checker{
		reg:          reg,
		provider:     provider,
		scanInterval: defaultScanInterval,
		concurrency:  defaultConcurrency,
		freshness:    defaultFreshness,
		lastProbe:    make(map[string]time.Time),
		inflight:     make(map[string]chan struct{}),
		rings:        make(map[string]*sampleRing),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sem = make(chan struct{}, c.concurrency)
	return c
}

// Run blocks, scanning every scanInterval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scanAll(ctx)
		}
	}
}

func (c *Checker) scanAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range c.reg.ListInstances() {
		id := inst.ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.sem <- struct{}{}
			defer func() { <-c.sem }()
			c.probe(ctx, id)
		}()
	}
	wg.Wait()
}

// CheckNow probes id on demand, respecting the freshness cache and
// deduplicating against any probe already in flight for the same instance.
func (c *Checker) CheckNow(ctx context.Context, id string) registry.HealthRecord {
	c.mu.Lock()
	if last, ok := c.lastProbe[id]; ok && time.Since(last) < c.freshness {
		c.mu.Unlock()
		return c.currentHealth(id)
	}
	if wait, inflight := c.inflight[id]; inflight {
		c.mu.Unlock()
		<-wait
		return c.currentHealth(id)
	}
	done := make(chan struct{})
	c.inflight[id] = done
	c.mu.Unlock()

	c.sem <- struct{}{}
	c.probeLocked(ctx, id)
	<-c.sem

	c.mu.Lock()
	delete(c.inflight, id)
	close(done)
	c.mu.Unlock()

	return c.currentHealth(id)
}

func (c *Checker) probe(ctx context.Context, id string) {
	c.mu.Lock()
	if last, ok := c.lastProbe[id]; ok && time.Since(last) < c.freshness {
		c.mu.Unlock()
		return
	}
	if _, inflight := c.inflight[id]; inflight {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.inflight[id] = done
	c.mu.Unlock()

	c.probeLocked(ctx, id)

	c.mu.Lock()
	delete(c.inflight, id)
	close(done)
	c.mu.Unlock()
}

// probeLocked performs the actual HealthCheck call; "Locked" refers to the
// inflight bookkeeping having already been claimed by the caller.
func (c *Checker) probeLocked(ctx context.Context, id string) {
	adapter, ok := c.provider.Adapter(id)
	if !ok {
		rec := registry.HealthRecord{Healthy: false, Error: "probe not configured", Timestamp: time.Now()}
		c.reg.SetHealth(id, rec)
		c.mu.Lock()
		c.lastProbe[id] = rec.Timestamp
		c.mu.Unlock()
		return
	}

	cctx, cancel := context.WithTimeout(ctx, c.freshness)
	defer cancel()

	start := time.Now()
	err := adapter.HealthCheck(cctx)
	latency := time.Since(start)

	rec := registry.HealthRecord{
		Healthy:   err == nil,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
		Timestamp: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	c.reg.SetHealth(id, rec)

	c.mu.Lock()
	c.lastProbe[id] = rec.Timestamp
	ring, ok := c.rings[id]
	if !ok {
		ring = newSampleRing()
		c.rings[id] = ring
	}
	ring.record(rec.LatencyMs, rec.Healthy)
	c.mu.Unlock()
}

func (c *Checker) currentHealth(id string) registry.HealthRecord {
	inst, err := c.reg.GetInstance(id)
	if err != nil || inst.Health == nil {
		return registry.HealthRecord{}
	}
	return *inst.Health
}

// Stats returns the derived latency/error-rate summary for id, or the zero
// value if nothing has been recorded yet.
func (c *Checker) Stats(id string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring, ok := c.rings[id]
	if !ok {
		return Stats{}
	}
	return ring.stats()
}

// StopMonitoring evicts an instance's cached probe state, e.g. once it has
// been removed from the registry.
func (c *Checker) StopMonitoring(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastProbe, id)
	delete(c.rings, id)
	delete(c.inflight, id)
}
