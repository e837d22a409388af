package router

import "testing"

func ruleNames(rules []*Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func hasName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestRadix_ExactMatch(t *testing.T) {
	tree := newRadixTree()
	tree.insert("/api/tools/call", &Rule{Name: "exact"})

	got := ruleNames(tree.match("/api/tools/call"))
	if !hasName(got, "exact") {
		t.Fatalf("expected exact match, got %v", got)
	}
	if hasName(ruleNames(tree.match("/api/tools/call/extra")), "exact") {
		t.Fatal("exact rule should not match a longer path")
	}
}

func TestRadix_WildcardMatchesAnySuffix(t *testing.T) {
	tree := newRadixTree()
	tree.insert("/api/templates/*", &Rule{Name: "templates-wild"})

	for _, path := range []string{"/api/templates/", "/api/templates/foo", "/api/templates/foo/bar"} {
		got := ruleNames(tree.match(path))
		if !hasName(got, "templates-wild") {
			t.Fatalf("path %q: expected wildcard match, got %v", path, got)
		}
	}
	if hasName(ruleNames(tree.match("/api/other")), "templates-wild") {
		t.Fatal("wildcard should not match an unrelated prefix")
	}
}

func TestRadix_SharedPrefixSplit(t *testing.T) {
	tree := newRadixTree()
	tree.insert("/api/tools/call", &Rule{Name: "call"})
	tree.insert("/api/tools/list", &Rule{Name: "list"})
	tree.insert("/api/services/*", &Rule{Name: "services-wild"})

	if !hasName(ruleNames(tree.match("/api/tools/call")), "call") {
		t.Fatal("expected call rule")
	}
	if !hasName(ruleNames(tree.match("/api/tools/list")), "list") {
		t.Fatal("expected list rule")
	}
	if hasName(ruleNames(tree.match("/api/tools/call")), "list") {
		t.Fatal("call path should not also match list rule")
	}
	if !hasName(ruleNames(tree.match("/api/services/x")), "services-wild") {
		t.Fatal("expected services wildcard to match")
	}
}

func TestRadix_NestedWildcardsBothMatch(t *testing.T) {
	tree := newRadixTree()
	tree.insert("/api/*", &Rule{Name: "broad"})
	tree.insert("/api/tools/*", &Rule{Name: "narrow"})

	got := ruleNames(tree.match("/api/tools/call"))
	if !hasName(got, "broad") || !hasName(got, "narrow") {
		t.Fatalf("expected both wildcard ancestors to match, got %v", got)
	}
}
