package router

import (
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

func TestSelector_RoundRobinRotates(t *testing.T) {
	s := NewSelector()
	candidates := []registry.Instance{testInstance("a", "fs"), testInstance("b", "fs"), testInstance("c", "fs")}

	seen := make([]string, 3)
	for i := range seen {
		seen[i] = s.Select(StrategyRoundRobin, "fs", candidates, nil, Request{}, time.Now()).ID
	}
	if seen[0] == seen[1] || seen[1] == seen[2] {
		t.Fatalf("expected round robin to rotate through distinct ids, got %v", seen)
	}
}

func TestSelector_PerformanceBasedPrefersLowerLatencyAndErrors(t *testing.T) {
	s := NewSelector()
	now := time.Now()
	old := now.Add(-time.Hour)

	good := testInstance("good", "fs")
	good.Metrics = registry.LoadMetrics{RequestCount: 100, ErrorCount: 0, AvgResponseTime: 50, AddedAt: old}
	bad := testInstance("bad", "fs")
	bad.Metrics = registry.LoadMetrics{RequestCount: 100, ErrorCount: 50, AvgResponseTime: 5000, AddedAt: old}

	chosen := s.Select(StrategyPerformanceBased, "fs", []registry.Instance{good, bad}, nil, Request{}, now)
	if chosen.ID != "good" {
		t.Fatalf("expected good instance selected, got %s", chosen.ID)
	}
}

func TestSelector_PerformanceBasedWarmupRampsFromZero(t *testing.T) {
	s := NewSelector()
	now := time.Now()

	brandNew := testInstance("new", "fs")
	brandNew.Metrics = registry.LoadMetrics{AddedAt: now} // elapsed ~0, warmupFactor ~0
	warm := testInstance("warm", "fs")
	warm.Metrics = registry.LoadMetrics{AddedAt: now.Add(-time.Hour)} // fully warmed

	chosen := s.Select(StrategyPerformanceBased, "fs", []registry.Instance{brandNew, warm}, nil, Request{}, now)
	if chosen.ID != "warm" {
		t.Fatalf("expected warmed-up instance to win over a brand new one, got %s", chosen.ID)
	}
}

func TestSelector_CostOptimizedPicksCheapest(t *testing.T) {
	s := NewSelector()
	templates := map[string]registry.Template{
		"cheap": {Name: "cheap", Routing: &registry.RoutingProfile{CostPerRequest: 0.1}},
		"pricey": {Name: "pricey", Routing: &registry.RoutingProfile{CostPerRequest: 5.0}},
	}
	candidates := []registry.Instance{testInstance("a", "pricey"), testInstance("b", "cheap")}

	chosen := s.Select(StrategyCostOptimized, "x", candidates, templates, Request{}, time.Now())
	if chosen.ID != "b" {
		t.Fatalf("expected cheapest instance b, got %s", chosen.ID)
	}
}

func TestSelector_CostOptimizedDefaultsUnknownToOne(t *testing.T) {
	s := NewSelector()
	templates := map[string]registry.Template{
		"unknown": {Name: "unknown"},
		"costly":  {Name: "costly", Routing: &registry.RoutingProfile{CostPerRequest: 2.0}},
	}
	candidates := []registry.Instance{testInstance("a", "costly"), testInstance("b", "unknown")}

	chosen := s.Select(StrategyCostOptimized, "x", candidates, templates, Request{}, time.Now())
	if chosen.ID != "b" {
		t.Fatalf("expected default-cost instance b (1.0 < 2.0), got %s", chosen.ID)
	}
}

func TestSelector_ContentAwarePrefersSpecializedAndPenalizesOversize(t *testing.T) {
	s := NewSelector()
	templates := map[string]registry.Template{
		"generic": {Name: "generic", Routing: &registry.RoutingProfile{SupportedContentTypes: []string{"text/plain"}}},
		"special": {
			Name: "special",
			Routing: &registry.RoutingProfile{
				SupportedContentTypes: []string{"text/plain"},
				SpecializedMethods:    []string{"tools/call"},
				MaxContentLength:      1024,
			},
		},
	}
	candidates := []registry.Instance{testInstance("a", "generic"), testInstance("b", "special")}
	req := Request{ContentType: "text/plain", RPCMethod: "tools/call", ContentLength: 100}

	chosen := s.Select(StrategyContentAware, "x", candidates, templates, req, time.Now())
	if chosen.ID != "b" {
		t.Fatalf("expected specialized instance b, got %s", chosen.ID)
	}

	oversized := Request{ContentType: "text/plain", RPCMethod: "tools/call", ContentLength: 10_000}
	chosen = s.Select(StrategyContentAware, "x", candidates, templates, oversized, time.Now())
	if chosen.ID != "a" {
		t.Fatalf("expected oversize penalty to push selection back to a, got %s", chosen.ID)
	}
}
