package permission

import "testing"

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		name    string
		candid  string
		pattern string
		want    bool
	}{
		{"exact match", "mcp__srv__read", "mcp__srv__read", true},
		{"trailing star", "mcp__srv__read", "mcp__srv__*", true},
		{"trailing star other tool", "mcp__srv__write", "mcp__srv__*", true},
		{"star does not cross server", "mcp__other__read", "mcp__srv__*", false},
		{"star in middle", "mcp__srv__read", "mcp__*__read", true},
		{"full wildcard", "mcp__anything__at_all", "*", true},
		{"no match", "mcp__srv__read", "mcp__srv__write", false},
		{"anchored at start", "xmcp__srv__read", "mcp__srv__*", false},
		{"anchored at end", "mcp__srv__read", "*__write", false},
		{"dot is literal", "mcp__srv__a.b", "mcp__srv__a.b", true},
		{"dot does not match any char", "mcp__srv__aXb", "mcp__srv__a.b", false},
		{"empty star segment", "mcp__srv__", "mcp__srv__*", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchWildcard(tt.candid, tt.pattern); got != tt.want {
				t.Errorf("MatchWildcard(%q, %q) = %v, want %v", tt.candid, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		raw         string
		wantPattern string
		wantAllowed bool
	}{
		{"allow:mcp__srv__*", "mcp__srv__*", true},
		{"deny:mcp__srv__danger", "mcp__srv__danger", false},
		{"mcp__srv__read", "mcp__srv__read", true},
		{"deny:*", "*", false},
		{"allow:", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rule := ParseRule(tt.raw)
			if rule.Pattern != tt.wantPattern {
				t.Errorf("Pattern = %q, want %q", rule.Pattern, tt.wantPattern)
			}
			if rule.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", rule.Allowed, tt.wantAllowed)
			}
		})
	}
}

func TestEvaluate_EmptyRulesPermissive(t *testing.T) {
	if !Evaluate("mcp__srv__anything", nil) {
		t.Error("empty rule list should allow everything")
	}
	if !Evaluate("mcp__srv__anything", []Rule{}) {
		t.Error("empty rule slice should allow everything")
	}
}

func TestEvaluate_DenyWins(t *testing.T) {
	rules := ParseRules([]string{"allow:*", "deny:mcp__srv__danger"})

	if Evaluate("mcp__srv__danger", rules) {
		t.Error("deny rule should win over allow:*")
	}
	if !Evaluate("mcp__srv__safe", rules) {
		t.Error("non-denied name should be allowed by allow:*")
	}
}

func TestEvaluate_AllowListSemantics(t *testing.T) {
	rules := ParseRules([]string{"allow:mcp__srv__read", "allow:mcp__srv__list_*"})

	if !Evaluate("mcp__srv__read", rules) {
		t.Error("name on the allow list should pass")
	}
	if !Evaluate("mcp__srv__list_files", rules) {
		t.Error("name matching an allow wildcard should pass")
	}
	if Evaluate("mcp__srv__write", rules) {
		t.Error("name not on the allow list should be rejected")
	}
}

func TestEvaluate_DenyOnly(t *testing.T) {
	rules := ParseRules([]string{"deny:mcp__srv__rm"})

	if Evaluate("mcp__srv__rm", rules) {
		t.Error("denied name should be rejected")
	}
	if !Evaluate("mcp__srv__read", rules) {
		t.Error("with only deny rules, unmatched names should be allowed")
	}
}

func TestFullyQualifiedName(t *testing.T) {
	got := FullyQualifiedName("fs", "read")
	if got != "mcp__fs__read" {
		t.Errorf("FullyQualifiedName = %q, want %q", got, "mcp__fs__read")
	}
}

func TestIsToolAllowed_BothLayersMustPass(t *testing.T) {
	serverRules := map[string][]Rule{
		"fs": ParseRules([]string{"deny:mcp__fs__rm"}),
	}
	e := NewEvaluator([]string{"deny:mcp__*__danger"}, func(name string) []Rule {
		return serverRules[name]
	})

	if e.IsToolAllowed("fs", "rm") {
		t.Error("server-level deny should reject the call")
	}
	if e.IsToolAllowed("fs", "danger") {
		t.Error("global deny should reject the call")
	}
	if !e.IsToolAllowed("fs", "read") {
		t.Error("name passing both layers should be allowed")
	}
	if e.IsToolAllowed("web", "danger") {
		t.Error("global wildcard deny should apply to every server")
	}
}

func TestIsToolAllowed_NoRulesAnywhere(t *testing.T) {
	e := NewEvaluator(nil, nil)

	if !e.IsToolAllowed("fs", "anything") {
		t.Error("with no rules at all, every call should be allowed")
	}
}

func TestIsToolAllowed_ServerDenyShortCircuits(t *testing.T) {
	e := NewEvaluator([]string{"allow:*"}, func(name string) []Rule {
		return ParseRules([]string{"deny:*"})
	})

	if e.IsToolAllowed("fs", "read") {
		t.Error("server deny:* should reject even though global allows everything")
	}
}
