package router

import (
	"regexp"
	"strings"
)

// pattern is a compiled route pattern. Patterns support :name segment
// holes (one non-slash segment) and a trailing * wildcard (anything,
// slashes included). A * inside a segment is not supported and is
// treated as a literal.
type pattern struct {
	raw         string
	re          *regexp.Regexp
	specificity int
	wildcard    bool
}

// compilePattern translates a path pattern into an anchored regexp and
// computes its specificity.
func compilePattern(path string) *pattern {
	var sb strings.Builder
	sb.WriteByte('^')

	wildcard := false
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		sb.WriteByte('/')
		switch {
		case seg == "*" && i == len(segments)-1:
			// Trailing wildcard swallows the rest, slashes included.
			wildcard = true
			sb.WriteString("(.*)")
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			sb.WriteString("([^/]+)")
		default:
			sb.WriteString(regexp.QuoteMeta(seg))
		}
	}
	sb.WriteByte('$')

	return &pattern{
		raw:         path,
		re:          regexp.MustCompile(sb.String()),
		specificity: specificity(path),
		wildcard:    wildcard || strings.Contains(path, ":"),
	}
}

// specificity scores a pattern so more literal patterns sort first:
// literal character count, a 10-point penalty per wildcard hole, plus
// one point per slash.
func specificity(path string) int {
	score := 0
	wildcards := 0

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		switch {
		case seg == "*" && i == len(segments)-1:
			wildcards++
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			wildcards++
		default:
			score += len(seg)
		}
	}

	return score - 10*wildcards + strings.Count(path, "/")
}

// matches reports whether the request path matches the pattern.
func (p *pattern) matches(path string) bool {
	return p.re.MatchString(path)
}
