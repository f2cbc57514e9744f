package registry

import (
	"regexp"
	"strings"
)

// Matcher tests command text against a precompiled pattern.
type Matcher interface {
	Match(text string) ([]string, bool)
}

type regexpMatcher struct {
	re *regexp.Regexp
}

// compileMatcher anchors pattern at the start of the text, so "t.*" does not
// match "about this".
func compileMatcher(pattern string, ignoreCase bool) (Matcher, error) {
	expr := "^(?:" + pattern + ")"
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return regexpMatcher{re: re}, nil
}

// Match returns the normalized capture groups when text matches.
func (m regexpMatcher) Match(text string) ([]string, bool) {
	groups := m.re.FindStringSubmatch(text)
	if groups == nil {
		return nil, false
	}
	args := make([]string, 0, len(groups)-1)
	for _, g := range groups[1:] {
		args = append(args, normalizeArg(g))
	}
	return args, true
}

// normalizeArg trims and collapses internal whitespace.
func normalizeArg(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCommand strips surrounding whitespace and collapses runs of
// whitespace in inbound command text.
func NormalizeCommand(text string) string {
	return normalizeArg(text)
}
