package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern matches project keys against one configured key pattern.
// Params: compiled from a raw pattern by CompilePattern.
// Returns: immutable matcher safe for concurrent use.
type Pattern struct {
	raw    string
	prefix string
	wild   bool
	re     *regexp.Regexp
}

// CompilePattern builds a matcher for one configured key pattern.
// Params: raw pattern; literal, "prefix*" wildcard, or regular expression.
// A trailing "*" always matches by prefix; a non-literal pattern is also tried as a regex.
// Returns: usable pattern plus compile error when the regex form is invalid.
func CompilePattern(raw string) (Pattern, error) {
	p := Pattern{raw: raw}
	if isLiteral(raw) {
		return p, nil
	}
	prefix, wild := strings.CutSuffix(raw, "*")
	if wild {
		p.prefix = prefix
		p.wild = true
		if isLiteral(prefix) {
			return p, nil
		}
	}

	compiled, err := regexp.Compile("^(?:" + raw + ")$")
	if err != nil {
		return p, fmt.Errorf("compile key pattern %q: %w", raw, err)
	}
	p.re = compiled
	return p, nil
}

// Match reports whether key satisfies the pattern.
// Params: project key.
// Returns: true on exact, wildcard-prefix, or full regex match.
func (p Pattern) Match(key string) bool {
	if key == p.raw {
		return true
	}
	if p.wild && strings.HasPrefix(key, p.prefix) {
		return true
	}
	if p.re != nil {
		return p.re.MatchString(key)
	}
	return false
}

// String returns the raw configured pattern.
func (p Pattern) String() string {
	return p.raw
}

func isLiteral(value string) bool {
	return regexp.QuoteMeta(value) == value
}
