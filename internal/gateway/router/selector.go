package router

import (
	"sync"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// Strategy is the load-balancing strategy applied once a request's
// candidate set has more than one healthy instance.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round-robin"
	StrategyPerformanceBased Strategy = "performance-based"
	StrategyCostOptimized    Strategy = "cost-optimized"
	StrategyContentAware     Strategy = "content-aware"
)

const defaultWarmupDuration = 10 * time.Second

const scoreEpsilon = 1e-9

// Selector holds the round-robin counters a strategy needs across calls;
// everything else it needs is computed fresh from the candidate set each
// time (no other cross-call state).
type Selector struct {
	mu             sync.Mutex
	counters       map[string]uint64
	warmupDuration time.Duration
}

func NewSelector() *Selector {
	return &Selector{counters: make(map[string]uint64), warmupDuration: defaultWarmupDuration}
}

// Select picks one instance from candidates (already filtered to healthy
// and, where applicable, narrowed to the preferred subset). Panics only if
// called with an empty slice; callers must check len(candidates) first.
func (s *Selector) Select(strategy Strategy, key string, candidates []registry.Instance, templates map[string]registry.Template, req Request, now time.Time) registry.Instance {
	if len(candidates) == 1 {
		return candidates[0]
	}
	switch strategy {
	case StrategyPerformanceBased:
		return s.selectPerformanceBased(key, candidates, now)
	case StrategyCostOptimized:
		return selectCostOptimized(candidates, templates)
	case StrategyContentAware:
		return selectContentAware(candidates, templates, req)
	default:
		return s.selectRoundRobin(key, candidates)
	}
}

func (s *Selector) selectRoundRobin(key string, candidates []registry.Instance) registry.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counters[key]
	s.counters[key] = n + 1
	return candidates[int(n%uint64(len(candidates)))]
}

func (s *Selector) selectPerformanceBased(key string, candidates []registry.Instance, now time.Time) registry.Instance {
	scores := make([]float64, len(candidates))
	best := scores[0]
	for i, inst := range candidates {
		scores[i] = performanceScore(inst, now, s.warmupDuration)
		if i == 0 || scores[i] > best {
			best = scores[i]
		}
	}
	var tied []registry.Instance
	for i, inst := range candidates {
		if best-scores[i] <= scoreEpsilon {
			tied = append(tied, inst)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return s.selectRoundRobin(key+":perf-tie", tied)
}

// performanceScore computes score = baseScore * warmupFactor, baseScore =
// 1 - min(responseTimePenalty + errorPenalty, 1), responseTimePenalty =
// clamp(avgResponseTime/10000, 0, 0.5), errorPenalty = errorRate * 0.5,
// warmupFactor = min(1, (now-addedAt)/warmupDuration).
func performanceScore(inst registry.Instance, now time.Time, warmupDuration time.Duration) float64 {
	m := inst.Metrics
	errorRate := 0.0
	if m.RequestCount > 0 {
		errorRate = float64(m.ErrorCount) / float64(m.RequestCount)
	}
	responseTimePenalty := clamp(m.AvgResponseTime/10000.0, 0, 0.5)
	errorPenalty := errorRate * 0.5
	baseScore := 1 - minFloat(responseTimePenalty+errorPenalty, 1)

	warmupFactor := 1.0
	if !m.AddedAt.IsZero() && warmupDuration > 0 {
		elapsed := now.Sub(m.AddedAt)
		if elapsed < warmupDuration {
			warmupFactor = clamp(float64(elapsed)/float64(warmupDuration), 0, 1)
		}
	}
	return baseScore * warmupFactor
}

func selectCostOptimized(candidates []registry.Instance, templates map[string]registry.Template) registry.Instance {
	best := candidates[0]
	bestCost := costOf(best, templates)
	for _, inst := range candidates[1:] {
		if cost := costOf(inst, templates); cost < bestCost {
			best, bestCost = inst, cost
		}
	}
	return best
}

func costOf(inst registry.Instance, templates map[string]registry.Template) float64 {
	tpl, ok := templates[inst.TemplateRef]
	if !ok || tpl.Routing == nil || tpl.Routing.CostPerRequest <= 0 {
		return 1.0
	}
	return tpl.Routing.CostPerRequest
}

// selectContentAware scores candidates on supportedContentTypes,
// specializedMethods, and maxContentLength, with a heavy penalty for
// requests that exceed a candidate's declared maxContentLength.
func selectContentAware(candidates []registry.Instance, templates map[string]registry.Template, req Request) registry.Instance {
	best := candidates[0]
	bestScore := contentScore(best, templates, req)
	for _, inst := range candidates[1:] {
		if sc := contentScore(inst, templates, req); sc > bestScore {
			best, bestScore = inst, sc
		}
	}
	return best
}

const oversizePenalty = 100.0

func contentScore(inst registry.Instance, templates map[string]registry.Template, req Request) float64 {
	tpl, ok := templates[inst.TemplateRef]
	if !ok || tpl.Routing == nil {
		return 0
	}
	score := 0.0
	if req.ContentType != "" && contains(tpl.Routing.SupportedContentTypes, req.ContentType) {
		score += 2
	}
	if req.RPCMethod != "" && contains(tpl.Routing.SpecializedMethods, req.RPCMethod) {
		score += 3
	}
	if tpl.Routing.MaxContentLength > 0 && req.ContentLength > tpl.Routing.MaxContentLength {
		score -= oversizePenalty
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
