package permission

import "strings"

// Rule is one parsed allow/deny pattern evaluated against fully-qualified
// tool names.
type Rule struct {
	Pattern string
	Allowed bool
}

// ParseRule parses a raw rule string. A leading "deny:" yields a deny rule,
// a leading "allow:" yields an allow rule, and a bare string defaults to allow.
func ParseRule(raw string) Rule {
	if rest, ok := strings.CutPrefix(raw, "deny:"); ok {
		return Rule{Pattern: rest, Allowed: false}
	}
	if rest, ok := strings.CutPrefix(raw, "allow:"); ok {
		return Rule{Pattern: rest, Allowed: true}
	}
	return Rule{Pattern: raw, Allowed: true}
}

// ParseRules parses a list of raw rule strings in order.
func ParseRules(raw []string) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, ParseRule(r))
	}
	return rules
}

// Evaluate decides whether name is permitted by the given rule list.
//
// An empty rule list is permissive — everything is allowed. Otherwise a name
// matching any deny rule is rejected regardless of allow rules (deny always
// wins). If allow rules are present the name must match at least one of them;
// if only deny rules are present, anything they don't match is allowed.
func Evaluate(name string, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	var allows []Rule
	for _, rule := range rules {
		if !rule.Allowed {
			if MatchWildcard(name, rule.Pattern) {
				return false
			}
			continue
		}
		allows = append(allows, rule)
	}

	if len(allows) == 0 {
		return true
	}
	for _, rule := range allows {
		if MatchWildcard(name, rule.Pattern) {
			return true
		}
	}
	return false
}
