package domain

import "strings"

// ProjectRule is one resolved notification rule.
// Params: key pattern, destination, optional hook override, fail-only flag, and mention target.
// Returns: comparable value; == is structural equality.
type ProjectRule struct {
	KeyPattern      string
	Destination     string
	HookURL         string
	FailOnlyOnError bool
	MentionTarget   string
}

// Active reports whether rule has a usable destination.
// Params: none.
// Returns: true when destination is non-blank.
func (r ProjectRule) Active() bool {
	return strings.TrimSpace(r.Destination) != ""
}

// HasHookOverride reports whether rule carries its own webhook URL.
// Params: none.
// Returns: true when hook URL is non-blank.
func (r ProjectRule) HasHookOverride() bool {
	return strings.TrimSpace(r.HookURL) != ""
}
