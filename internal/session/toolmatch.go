package session

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// toolPattern is one entry of a tool allow-list. Patterns come in two
// shapes: a bare tool name ("Read", "Bash") which allows every use of that
// tool, or a scoped form "Tool(argument-glob)" such as "Bash(npm:*)" which
// allows only matching invocations.
type toolPattern struct {
	tool string
	rule string // empty when the whole tool is allowed
}

func parseToolPattern(pattern string) toolPattern {
	open := strings.IndexByte(pattern, '(')
	if open < 0 || !strings.HasSuffix(pattern, ")") {
		return toolPattern{tool: pattern}
	}
	return toolPattern{
		tool: pattern[:open],
		rule: pattern[open+1 : len(pattern)-1],
	}
}

// patternCovers reports whether an allow-list entry covers a requested
// pattern. A bare tool name covers every scoped request for that tool; a
// scoped entry covers a request when the rule globs match.
func patternCovers(allowed, requested string) bool {
	a := parseToolPattern(allowed)
	r := parseToolPattern(requested)
	if a.tool != r.tool {
		return false
	}
	if a.rule == "" {
		return true
	}
	if r.rule == "" {
		return false
	}
	if a.rule == r.rule {
		return true
	}
	ok, err := doublestar.Match(a.rule, r.rule)
	if err != nil {
		return false
	}
	return ok
}

// CoveredByAllowList reports whether every requested pattern is covered by
// at least one allow-list entry. An empty request list is not covered.
func CoveredByAllowList(allowList, requested []string) bool {
	if len(requested) == 0 {
		return false
	}
	for _, req := range requested {
		covered := false
		for _, allowed := range allowList {
			if patternCovers(allowed, req) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// unionTools returns base ∪ extra, preserving base order and de-duplicating.
func unionTools(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, lists := range [][]string{base, extra} {
		for _, t := range lists {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
