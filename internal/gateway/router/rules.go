package router

import (
	"log/slog"
	"sort"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// Action is a rule's effect once its condition matches.
type Action string

const (
	ActionFilter   Action = "filter"
	ActionPrefer   Action = "prefer"
	ActionReject   Action = "reject"
	ActionDeny     Action = "deny"
	ActionRedirect Action = "redirect"
	ActionAllow    Action = "allow"
	ActionBalance  Action = "balance"
)

// Condition gates whether a rule applies to a given request. A zero
// Condition matches every request.
type Condition struct {
	// Methods restricts the rule to these JSON-RPC methods (e.g.
	// "tools/call"); empty matches any method.
	Methods []string
	// PathPrefix additionally requires req.Path to start with this string;
	// empty matches any path. Independent of PathPattern's radix indexing,
	// which only decides candidacy, not the final match.
	PathPrefix string
	// ServiceGroup requires req.ServiceGroup to match exactly; empty
	// matches any (or no) service group.
	ServiceGroup string
	// ContentType requires req.ContentType to match exactly; empty matches
	// any content type.
	ContentType string
	// ClientIPPrefix requires req.ClientIP to start with this string; empty
	// matches any client.
	ClientIPPrefix string
	// Headers requires every key present here to be present in req.Headers
	// with an identical value; empty matches any headers.
	Headers map[string]string
}

func (c Condition) Matches(req Request) bool {
	if len(c.Methods) > 0 && !contains(c.Methods, req.RPCMethod) {
		return false
	}
	if c.PathPrefix != "" && !hasPrefix(req.Path, c.PathPrefix) {
		return false
	}
	if c.ServiceGroup != "" && c.ServiceGroup != req.ServiceGroup {
		return false
	}
	if c.ContentType != "" && c.ContentType != req.ContentType {
		return false
	}
	if c.ClientIPPrefix != "" && !hasPrefix(req.ClientIP, c.ClientIPPrefix) {
		return false
	}
	for k, v := range c.Headers {
		if req.Headers[k] != v {
			return false
		}
	}
	return true
}

// FilterCriteria selects a subset of candidate instances for filter/prefer/
// reject actions, matched against the instance's owning template.
type FilterCriteria struct {
	TemplateNames []string
	TrustLevel    registry.TrustLevel
	ContentTypes  []string
}

func evaluateServiceFilter(c FilterCriteria, inst registry.Instance, tpl registry.Template) bool {
	if len(c.TemplateNames) > 0 && !contains(c.TemplateNames, inst.TemplateRef) {
		return false
	}
	if c.TrustLevel != "" {
		if tpl.Security == nil || tpl.Security.TrustLevel != c.TrustLevel {
			return false
		}
	}
	if len(c.ContentTypes) > 0 {
		if tpl.Routing == nil || !overlap(tpl.Routing.SupportedContentTypes, c.ContentTypes) {
			return false
		}
	}
	return true
}

// Rule is one routing rule, either path-indexed (PathPattern set) or flat.
type Rule struct {
	Name               string
	Enabled            bool
	Priority           int
	PathPattern        string
	Condition          Condition
	Action             Action
	Criteria           FilterCriteria
	TargetServiceGroup string
}

// Index is the radix tree plus flat-list view over a rule set. Match returns
// the union of matching rules, deduplicated and sorted by priority desc.
type Index struct {
	tree *radixNode
	flat []*Rule
}

func NewIndex(rules []*Rule) *Index {
	idx := &Index{tree: newRadixTree()}
	for _, r := range rules {
		if r.PathPattern != "" {
			idx.tree.insert(r.PathPattern, r)
		} else {
			idx.flat = append(idx.flat, r)
		}
	}
	return idx
}

func (idx *Index) Match(path string) []*Rule {
	seen := make(map[string]bool)
	var out []*Rule
	add := func(rs []*Rule) {
		for _, r := range rs {
			if !seen[r.Name] {
				seen[r.Name] = true
				out = append(out, r)
			}
		}
	}
	add(idx.tree.match(path))
	add(idx.flat)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Request is the routing-relevant slice of an inbound tools/call (or other
// dispatch) request.
type Request struct {
	Path          string
	RPCMethod     string
	ContentType   string
	ContentLength int64
	TemplateHint  string
	// ServiceGroup is the caller-declared service group (e.g. from an
	// X-Service-Group header), matched by Condition.ServiceGroup.
	ServiceGroup string
	// ClientIP is the caller's resolved source address, matched by
	// Condition.ClientIPPrefix.
	ClientIP string
	// Headers is a flattened view of the inbound request's headers (first
	// value per key), matched by Condition.Headers.
	Headers map[string]string
}

// EvalResult is the outcome of evaluating every matching rule against a
// request: which rule names applied (in priority order, including ones
// that were skipped to prevent filter stacking), the surviving candidate
// set, the preferred subset, and any redirect target.
type EvalResult struct {
	Applied    []string
	Candidates map[string]bool
	Preferred  map[string]bool
	RedirectTo string
}

// Evaluate walks idx.Match(req.Path) in priority order and applies each
// enabled, condition-matching rule's action to the candidate set.
func Evaluate(req Request, instances []registry.Instance, templates map[string]registry.Template, idx *Index) EvalResult {
	candidates := make(map[string]bool, len(instances))
	for _, inst := range instances {
		candidates[inst.ID] = true
	}
	preferred := make(map[string]bool)
	var applied []string
	var redirectTo string
	filterApplied := false

	byID := make(map[string]registry.Instance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	for _, rule := range idx.Match(req.Path) {
		if !rule.Enabled || !rule.Condition.Matches(req) {
			continue
		}
		applied = append(applied, rule.Name)

		switch rule.Action {
		case ActionFilter:
			if filterApplied {
				// Recorded as applied above but skipped: only the
				// highest-priority filter wins, preventing filter
				// stacking from emptying the candidate set.
				continue
			}
			filterApplied = true
			kept := make(map[string]bool)
			for id := range candidates {
				inst := byID[id]
				if evaluateServiceFilter(rule.Criteria, inst, templates[inst.TemplateRef]) {
					kept[id] = true
				}
			}
			candidates = kept
		case ActionPrefer:
			for id := range candidates {
				inst := byID[id]
				if evaluateServiceFilter(rule.Criteria, inst, templates[inst.TemplateRef]) {
					preferred[id] = true
				}
			}
		case ActionReject:
			for id := range candidates {
				inst := byID[id]
				if evaluateServiceFilter(rule.Criteria, inst, templates[inst.TemplateRef]) {
					delete(candidates, id)
				}
			}
		case ActionDeny:
			candidates = make(map[string]bool)
		case ActionRedirect:
			redirectTo = rule.TargetServiceGroup
			slog.Info("router: redirect rule matched", "rule", rule.Name, "targetServiceGroup", redirectTo)
		case ActionAllow, ActionBalance:
			// no-op at this layer; selection happens downstream.
		}
	}

	return EvalResult{Applied: applied, Candidates: candidates, Preferred: preferred, RedirectTo: redirectTo}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func overlap(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
