package engine

import (
	"errors"
	"log/slog"
	"net/url"
	"sync/atomic"

	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

// ErrNotLoaded is returned when resolving before the first successful refresh.
var ErrNotLoaded = errors.New("notification rules are not loaded")

// ruleEntry binds one configured block to its compiled pattern.
type ruleEntry struct {
	id      string
	pattern Pattern
	rule    domain.ProjectRule
}

// RuleSet is one immutable snapshot of configured rules and defaults.
// Params: built by Resolver.Refresh from a settings snapshot.
// Returns: resolution table safe for concurrent readers.
type RuleSet struct {
	entries        []ruleEntry
	defaultChannel string
	defaultHook    string
	defaultMention string
	logger         *slog.Logger
}

// Resolve selects the rule for one project key.
// Params: project key from the analysis event.
// Returns: first matching configured rule, the default rule, or SettingsError when the default channel is missing.
func (s *RuleSet) Resolve(projectKey string) (domain.ProjectRule, error) {
	var (
		selected   domain.ProjectRule
		matched    bool
		candidates []string
	)
	for _, entry := range s.entries {
		if !entry.pattern.Match(projectKey) {
			continue
		}
		if !matched {
			selected = entry.rule
			matched = true
		}
		candidates = append(candidates, entry.pattern.String())
	}

	if len(candidates) > 1 {
		s.logger.Warn("multiple notification rules match project key",
			"project_key", projectKey,
			"selected", selected.KeyPattern,
			"candidates", candidates,
		)
	}
	if matched {
		return selected, nil
	}
	return s.defaultRule()
}

// defaultRule synthesizes the fallback rule for unmatched projects.
// Params: none.
// Returns: rule on default channel mentioning the configured user with fail-only off, or SettingsError.
func (s *RuleSet) defaultRule() (domain.ProjectRule, error) {
	if s.defaultChannel == "" {
		return domain.ProjectRule{}, &config.SettingsError{
			Key:    config.KeyDefaultChannel,
			Reason: "default channel is required for projects without a matching rule",
		}
	}
	return domain.ProjectRule{
		Destination:     s.defaultChannel,
		HookURL:         s.defaultHook,
		MentionTarget:   s.defaultMention,
		FailOnlyOnError: false,
	}, nil
}

// Rules returns configured rules in resolution order.
func (s *RuleSet) Rules() []domain.ProjectRule {
	out := make([]domain.ProjectRule, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.rule)
	}
	return out
}

// Len returns number of configured rules.
func (s *RuleSet) Len() int {
	return len(s.entries)
}

// Resolver owns the active rule set and rebuilds it per event.
// Params: logger for refresh diffs and ambiguity warnings.
// Returns: resolver with no rules until first Refresh.
type Resolver struct {
	logger *slog.Logger
	active atomic.Pointer[RuleSet]
}

// NewResolver creates an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Refresh rebuilds rules from settings and swaps the active snapshot.
// Params: current settings snapshot.
// Returns: new snapshot for the caller, or SettingsError leaving the previous snapshot active.
func (r *Resolver) Refresh(settings config.Settings) (*RuleSet, error) {
	next, err := buildRuleSet(settings, r.logger)
	if err != nil {
		return nil, err
	}
	previous := r.active.Swap(next)
	logRuleSetChange(r.logger, previous, next)
	return next, nil
}

// Current returns the active snapshot or nil before first refresh.
func (r *Resolver) Current() *RuleSet {
	return r.active.Load()
}

// Resolve resolves against the active snapshot.
// Params: project key.
// Returns: selected rule or ErrNotLoaded/SettingsError.
func (r *Resolver) Resolve(projectKey string) (domain.ProjectRule, error) {
	current := r.active.Load()
	if current == nil {
		return domain.ProjectRule{}, ErrNotLoaded
	}
	return current.Resolve(projectKey)
}

// buildRuleSet parses configured blocks in list order.
// Params: settings snapshot and logger for pattern diagnostics.
// Returns: rule set or SettingsError for a block without project pattern.
func buildRuleSet(settings config.Settings, logger *slog.Logger) (*RuleSet, error) {
	set := &RuleSet{
		defaultChannel: settings.String(config.KeyDefaultChannel, ""),
		defaultHook:    settings.String(config.KeyDefaultHook, ""),
		defaultMention: settings.String(config.KeyUser, ""),
		logger:         logger,
	}

	byPattern := make(map[string]int)
	for _, id := range settings.Strings(config.KeyRules) {
		projectKey := config.RuleKey(id, config.RuleFieldProject)
		rawPattern, ok := settings.Get(projectKey)
		if !ok {
			return nil, &config.SettingsError{Key: projectKey, Reason: "project key pattern is required"}
		}
		failOnly, err := settings.Bool(config.RuleKey(id, config.RuleFieldQG), true)
		if err != nil {
			return nil, err
		}

		pattern, err := CompilePattern(rawPattern)
		if err != nil {
			logger.Warn("key pattern is not a valid regular expression; using exact and wildcard match only",
				"rule", id,
				"pattern", rawPattern,
				"error", err,
			)
		}
		entry := ruleEntry{
			id:      id,
			pattern: pattern,
			rule: domain.ProjectRule{
				KeyPattern:      rawPattern,
				Destination:     settings.String(config.RuleKey(id, config.RuleFieldChannel), ""),
				HookURL:         settings.String(config.RuleKey(id, config.RuleFieldHook), ""),
				FailOnlyOnError: failOnly,
				MentionTarget:   settings.String(config.RuleKey(id, config.RuleFieldNotify), ""),
			},
		}

		if idx, exists := byPattern[rawPattern]; exists {
			logger.Warn("duplicate key pattern; later rule replaces earlier one",
				"pattern", rawPattern,
				"replaced_rule", set.entries[idx].id,
				"rule", id,
			)
			set.entries[idx] = entry
			continue
		}
		byPattern[rawPattern] = len(set.entries)
		set.entries = append(set.entries, entry)
	}
	return set, nil
}

// ruleSetSignature captures the value-set used for change detection.
type ruleSetSignature struct {
	rules    map[domain.ProjectRule]struct{}
	defaults domain.ProjectRule
}

func signatureOf(set *RuleSet) ruleSetSignature {
	sig := ruleSetSignature{
		rules: make(map[domain.ProjectRule]struct{}, len(set.entries)),
		defaults: domain.ProjectRule{
			Destination:   set.defaultChannel,
			HookURL:       set.defaultHook,
			MentionTarget: set.defaultMention,
		},
	}
	for _, entry := range set.entries {
		sig.rules[entry.rule] = struct{}{}
	}
	return sig
}

// changedRules compares two snapshots as value sets.
// Params: previous and next snapshots.
// Returns: counts of added/removed rules and whether defaults changed.
func changedRules(previous, next *RuleSet) (added, removed int, defaultsChanged bool) {
	prev := signatureOf(previous)
	curr := signatureOf(next)
	for rule := range curr.rules {
		if _, ok := prev.rules[rule]; !ok {
			added++
		}
	}
	for rule := range prev.rules {
		if _, ok := curr.rules[rule]; !ok {
			removed++
		}
	}
	return added, removed, prev.defaults != curr.defaults
}

// logRuleSetChange logs the refreshed configuration when it differs from the previous one.
func logRuleSetChange(logger *slog.Logger, previous, next *RuleSet) {
	if previous != nil {
		added, removed, defaultsChanged := changedRules(previous, next)
		if added == 0 && removed == 0 && !defaultsChanged {
			return
		}
		logger.Info("notification rules changed",
			"rules", next.Len(),
			"added", added,
			"removed", removed,
			"defaults_changed", defaultsChanged,
		)
	} else {
		logger.Info("notification rules loaded", "rules", next.Len())
	}

	logger.Debug("default notification rule",
		"channel", next.defaultChannel,
		"hook", MaskHook(next.defaultHook),
		"mention", next.defaultMention,
	)
	for _, entry := range next.entries {
		logger.Debug("notification rule",
			"rule", entry.id,
			"pattern", entry.rule.KeyPattern,
			"channel", entry.rule.Destination,
			"hook", MaskHook(entry.rule.HookURL),
			"qg_fail_only", entry.rule.FailOnlyOnError,
			"mention", entry.rule.MentionTarget,
		)
	}
}

// MaskHook hides the secret path of a webhook URL for logging.
// Params: webhook URL, possibly empty.
// Returns: scheme and host with masked path, or empty string.
func MaskHook(hook string) string {
	if hook == "" {
		return ""
	}
	parsed, err := url.Parse(hook)
	if err != nil || parsed.Host == "" {
		return "***"
	}
	return parsed.Scheme + "://" + parsed.Host + "/***"
}
