package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

type fakeProber struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (f *fakeProber) HealthCheck(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

type fakeProvider struct {
	adapters map[string]Prober
}

func (p *fakeProvider) Adapter(id string) (Prober, bool) {
	a, ok := p.adapters[id]
	return a, ok
}

func newTestRegistry(t *testing.T) (*registry.Registry, string) {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterTemplate(registry.Template{
		Name: "t1", Transport: registry.TransportStdio, Command: "x", Timeout: time.Second,
	}); err != nil {
		t.Fatal(err)
	}
	inst, err := reg.CreateInstance("t1", nil)
	if err != nil {
		t.Fatal(err)
	}
	return reg, inst.ID
}

func TestCheckNow_RecordsHealthyResult(t *testing.T) {
	reg, id := newTestRegistry(t)
	prober := &fakeProber{}
	provider := &fakeProvider{adapters: map[string]Prober{id: prober}}
	c := NewChecker(reg, provider, WithFreshness(50*time.Millisecond))

	rec := c.CheckNow(context.Background(), id)
	if !rec.Healthy {
		t.Fatalf("expected healthy, got %+v", rec)
	}
	if prober.calls.Load() != 1 {
		t.Fatalf("expected 1 probe, got %d", prober.calls.Load())
	}
}

func TestCheckNow_RecordsUnhealthyResult(t *testing.T) {
	reg, id := newTestRegistry(t)
	prober := &fakeProber{err: errors.New("boom")}
	provider := &fakeProvider{adapters: map[string]Prober{id: prober}}
	c := NewChecker(reg, provider, WithFreshness(50*time.Millisecond))

	rec := c.CheckNow(context.Background(), id)
	if rec.Healthy {
		t.Fatal("expected unhealthy")
	}
	if rec.Error != "boom" {
		t.Fatalf("expected error message recorded, got %q", rec.Error)
	}
}

func TestCheckNow_RespectsFreshnessCache(t *testing.T) {
	reg, id := newTestRegistry(t)
	prober := &fakeProber{}
	provider := &fakeProvider{adapters: map[string]Prober{id: prober}}
	c := NewChecker(reg, provider, WithFreshness(time.Minute))

	c.CheckNow(context.Background(), id)
	c.CheckNow(context.Background(), id)
	if prober.calls.Load() != 1 {
		t.Fatalf("expected cached second call to skip probing, got %d calls", prober.calls.Load())
	}
}

func TestCheckNow_DedupsConcurrentProbes(t *testing.T) {
	reg, id := newTestRegistry(t)
	prober := &fakeProber{delay: 100 * time.Millisecond}
	provider := &fakeProvider{adapters: map[string]Prober{id: prober}}
	c := NewChecker(reg, provider, WithFreshness(time.Minute))

	done := make(chan struct{}, 2)
	go func() { c.CheckNow(context.Background(), id); done <- struct{}{} }()
	time.Sleep(10 * time.Millisecond)
	go func() { c.CheckNow(context.Background(), id); done <- struct{}{} }()

	<-done
	<-done
	if prober.calls.Load() != 1 {
		t.Fatalf("expected concurrent probes to dedup to 1 call, got %d", prober.calls.Load())
	}
}

func TestStats_ComputesPercentilesAndErrorRate(t *testing.T) {
	r := newSampleRing()
	for i := 0; i < 10; i++ {
		r.record(float64(i*10), i != 9) // last sample is an error
	}
	s := r.stats()
	if s.SampleCount != 10 {
		t.Fatalf("expected 10 samples, got %d", s.SampleCount)
	}
	if s.ErrorRate != 0.1 {
		t.Fatalf("expected error rate 0.1, got %v", s.ErrorRate)
	}
	if s.P99Ms < s.AvgLatencyMs {
		t.Fatalf("expected p99 >= avg, got p99=%v avg=%v", s.P99Ms, s.AvgLatencyMs)
	}
}

func TestStopMonitoring_EvictsCachedState(t *testing.T) {
	reg, id := newTestRegistry(t)
	prober := &fakeProber{}
	provider := &fakeProvider{adapters: map[string]Prober{id: prober}}
	c := NewChecker(reg, provider, WithFreshness(time.Minute))

	c.CheckNow(context.Background(), id)
	c.StopMonitoring(id)
	c.CheckNow(context.Background(), id)
	if prober.calls.Load() != 2 {
		t.Fatalf("expected eviction to allow a fresh probe, got %d calls", prober.calls.Load())
	}
}
