package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings keys read by notification handling.
const (
	KeyEnabled        = "notify.enabled"
	KeyUser           = "notify.user"
	KeyIcon           = "notify.icon"
	KeyDefaultChannel = "notify.channel"
	KeyDefaultHook    = "notify.hook"
	KeyIncludeBranch  = "notify.include_branch"
	KeyLocale         = "notify.locale"
	KeyRules          = "notify.rules"
	KeyProxyProtocol  = "notify.proxy_protocol"
	KeyProxyIP        = "notify.proxy_ip"
	KeyProxyPort      = "notify.proxy_port"
	KeyServerBaseURL  = "server.base_url"

	ruleKeyPrefix = "notify.rule"
)

// Rule block field names under notify.rule.<id>.
const (
	RuleFieldProject = "project"
	RuleFieldChannel = "channel"
	RuleFieldHook    = "hook"
	RuleFieldQG      = "qg"
	RuleFieldNotify  = "notify"
)

// DefaultUser is the sender display name when notify.user is unset.
const DefaultUser = "SonarQube Slack Notifier Plugin"

// DefaultServerBaseURL is used when server.base_url is unset.
const DefaultServerBaseURL = "http://pleaseDefineSonarQubeUrl/"

// RuleKey builds a settings key for one field of one rule block.
// Params: block id and field name.
// Returns: dotted key like notify.rule.<id>.<field>.
func RuleKey(id, field string) string {
	return ruleKeyPrefix + "." + id + "." + field
}

// SettingsError reports a missing or malformed notification setting.
// Params: offending key and reason.
// Returns: configuration error distinct from delivery failures.
type SettingsError struct {
	Key    string
	Reason string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("notification settings are corrupted: %s: %s", e.Key, e.Reason)
}

// Settings is an immutable flat view of the settings namespace.
// Params: dotted keys mapped to string values.
// Returns: typed accessors; blank values read as absent.
type Settings struct {
	values map[string]string
}

// NewSettings builds a settings snapshot from a flat key/value map.
// Params: values keyed by dotted path; the map is copied.
// Returns: settings snapshot.
func NewSettings(values map[string]string) Settings {
	copied := make(map[string]string, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return Settings{values: copied}
}

// Get returns the trimmed value for key.
// Params: dotted key.
// Returns: value and true when the key is set to a non-blank value.
func (s Settings) Get(key string) (string, bool) {
	value, ok := s.values[key]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// String returns value for key or fallback when unset.
func (s Settings) String(key, fallback string) string {
	if value, ok := s.Get(key); ok {
		return value
	}
	return fallback
}

// Bool parses a boolean setting.
// Params: dotted key and value used when unset.
// Returns: parsed value or SettingsError for malformed input.
func (s Settings) Bool(key string, fallback bool) (bool, error) {
	value, ok := s.Get(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, &SettingsError{Key: key, Reason: fmt.Sprintf("invalid boolean %q", value)}
	}
	return parsed, nil
}

// Int parses an integer setting.
// Params: dotted key.
// Returns: parsed value, presence flag, or SettingsError for malformed input.
func (s Settings) Int(key string) (int, bool, error) {
	value, ok := s.Get(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, &SettingsError{Key: key, Reason: fmt.Sprintf("invalid integer %q", value)}
	}
	return parsed, true, nil
}

// Strings splits a comma-separated list setting.
// Params: dotted key.
// Returns: trimmed non-empty entries in configured order.
func (s Settings) Strings(key string) []string {
	value, ok := s.Get(key)
	if !ok {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Keys returns all configured keys in sorted order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns number of configured keys.
func (s Settings) Len() int {
	return len(s.values)
}

// Merge overlays other onto s key by key.
// Params: settings from a later config fragment.
// Returns: new snapshot; s and other are unchanged.
func (s Settings) Merge(other Settings) Settings {
	merged := make(map[string]string, len(s.values)+len(other.values))
	for key, value := range s.values {
		merged[key] = value
	}
	for key, value := range other.values {
		merged[key] = value
	}
	return Settings{values: merged}
}

// settingsFromTree flattens a decoded TOML settings table.
// Params: nested tables keyed by TOML path segment.
// Returns: flat settings with dotted keys and comma-joined arrays.
func settingsFromTree(tree map[string]any) (Settings, error) {
	values := make(map[string]string)
	if err := flattenInto(values, "", tree); err != nil {
		return Settings{}, err
	}
	return Settings{values: values}, nil
}

func flattenInto(dst map[string]string, prefix string, tree map[string]any) error {
	for name, raw := range tree {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if nested, ok := raw.(map[string]any); ok {
			if err := flattenInto(dst, key, nested); err != nil {
				return err
			}
			continue
		}
		value, err := scalarString(key, raw)
		if err != nil {
			return err
		}
		if _, exists := dst[key]; exists {
			return fmt.Errorf("settings.%s is defined more than once", key)
		}
		dst[key] = value
	}
	return nil
}

func scalarString(key string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case []any:
		parts := make([]string, 0, len(v))
		for i, item := range v {
			part, err := scalarString(fmt.Sprintf("%s[%d]", key, i), item)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		return "", fmt.Errorf("settings.%s: tables are not allowed inside arrays", key)
	default:
		return fmt.Sprint(v), nil
	}
}

// SettingsSource yields the current settings snapshot.
// Params: none.
// Returns: fresh snapshot for one event or read error.
type SettingsSource interface {
	Settings() (Settings, error)
}

// FileSettings re-reads the settings namespace from disk on every call.
type FileSettings struct {
	Source ConfigSource
}

// Settings loads a fresh snapshot from the configured source.
func (f FileSettings) Settings() (Settings, error) {
	return LoadSettings(f.Source)
}

// StaticSettings serves one fixed snapshot.
type StaticSettings struct {
	Values Settings
}

// Settings returns the fixed snapshot.
func (s StaticSettings) Settings() (Settings, error) {
	return s.Values, nil
}
