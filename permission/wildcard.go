package permission

import (
	"regexp"
	"strings"
)

// patternToRegex converts a wildcard pattern like "mcp__fs__*" into a compiled
// anchored regex: "^mcp__fs__(.*)$". Each "*" matches any sequence of
// characters; all other regex metacharacters are escaped.
func patternToRegex(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString("(.*)")
		case '.', '+', '?', '(', ')', '[', ']', '{', '}', '\\', '^', '$', '|':
			b.WriteByte('\\')
			b.WriteRune(ch)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// MatchWildcard tests name against a pattern that may contain "*" wildcards.
// The pattern must match the entire name. Exact equality short-circuits so
// names containing regex metacharacters always match themselves.
func MatchWildcard(name, pattern string) bool {
	if name == pattern {
		return true
	}
	return patternToRegex(pattern).MatchString(name)
}
