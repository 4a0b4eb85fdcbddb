package targeting

import (
	"net/url"
	"strings"
)

// MatchURL reports whether rawURL matches pattern. "*" matches any run of
// characters, including "/". Patterns containing "://" are compared with the
// full URL minus query and fragment; all others with the path only. Trailing
// slashes are ignored on both sides.
func MatchURL(pattern, rawURL string) bool {
	if pattern == "" {
		return false
	}

	target := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		if strings.Contains(pattern, "://") {
			u.RawQuery = ""
			u.Fragment = ""
			target = u.String()
		} else {
			target = u.Path
		}
	}
	if target == "" {
		target = "/"
	}

	return wildcard(trimSlash(pattern), trimSlash(target))
}

func trimSlash(s string) string {
	if len(s) > 1 {
		return strings.TrimSuffix(s, "/")
	}
	return s
}

// wildcard is a linear-time glob over '*' only.
func wildcard(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0

	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case p < len(pattern) && pattern[p] == s[i]:
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
