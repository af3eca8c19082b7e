package engine

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

func TestResolveExactPatternNeverDefault(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#general",
		config.KeyRules:                              "a,b",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#team",
		config.RuleKey("a", config.RuleFieldQG):      "false",
		config.RuleKey("b", config.RuleFieldProject): "proj:B",
		config.RuleKey("b", config.RuleFieldChannel): "#other",
		config.RuleKey("b", config.RuleFieldHook):    "https://hooks.example/b",
		config.RuleKey("b", config.RuleFieldNotify):  "here",
	}))
	require.NoError(t, err)

	for _, key := range []string{"proj:A", "proj:B"} {
		rule, err := set.Resolve(key)
		require.NoError(t, err)
		require.Equal(t, key, rule.KeyPattern)
		require.NotEqual(t, "#general", rule.Destination)
	}

	rule, err := resolver.Resolve("proj:B")
	require.NoError(t, err)
	require.Equal(t, domain.ProjectRule{
		KeyPattern:      "proj:B",
		Destination:     "#other",
		HookURL:         "https://hooks.example/b",
		FailOnlyOnError: true,
		MentionTarget:   "here",
	}, rule)
}

func TestResolveUnmatchedUsesDefaultRule(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#general",
		config.KeyDefaultHook:                        "https://hooks.example/default",
		config.KeyUser:                               "sonar-bot",
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#team",
	}))
	require.NoError(t, err)

	for _, key := range []string{"proj:Z", "", "proj:AA"} {
		rule, err := set.Resolve(key)
		require.NoError(t, err)
		require.Equal(t, "#general", rule.Destination)
		require.False(t, rule.FailOnlyOnError)
		require.Equal(t, "https://hooks.example/default", rule.HookURL)
		require.Equal(t, "sonar-bot", rule.MentionTarget)
	}
}

func TestResolveDefaultWithoutOptionalSettings(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel: "#general",
	}))
	require.NoError(t, err)

	rule, err := set.Resolve("anything")
	require.NoError(t, err)
	require.Equal(t, domain.ProjectRule{Destination: "#general"}, rule)
}

func TestResolveDefaultRequiresChannel(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#team",
	}))
	require.NoError(t, err)

	_, err = set.Resolve("proj:A")
	require.NoError(t, err, "configured rule resolves without default channel")

	_, err = set.Resolve("proj:Z")
	var settingsErr *config.SettingsError
	require.True(t, errors.As(err, &settingsErr))
	require.Equal(t, config.KeyDefaultChannel, settingsErr.Key)
}

func TestRefreshRejectsBlockWithoutPattern(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	_, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#general",
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
	}))
	require.NoError(t, err)

	_, err = resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                          "#general",
		config.KeyRules:                                   "a,broken",
		config.RuleKey("a", config.RuleFieldProject):      "proj:A",
		config.RuleKey("broken", config.RuleFieldChannel): "#x",
	}))
	var settingsErr *config.SettingsError
	require.True(t, errors.As(err, &settingsErr))
	require.Equal(t, "notify.rule.broken.project", settingsErr.Key)

	require.Equal(t, 1, resolver.Current().Len(), "failed refresh keeps previous snapshot")
}

func TestRefreshRejectsMalformedFailOnlyFlag(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	_, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldQG):      "often",
	}))
	var settingsErr *config.SettingsError
	require.True(t, errors.As(err, &settingsErr))
}

func TestResolveAmbiguousFirstConfiguredWins(t *testing.T) {
	t.Parallel()

	resolver, logs := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                         "#general",
		config.KeyRules:                                  "wild,regex,exact",
		config.RuleKey("wild", config.RuleFieldProject):  "proj-*",
		config.RuleKey("wild", config.RuleFieldChannel):  "#wild",
		config.RuleKey("regex", config.RuleFieldProject): "proj-.+",
		config.RuleKey("regex", config.RuleFieldChannel): "#regex",
		config.RuleKey("exact", config.RuleFieldProject): "proj-api",
		config.RuleKey("exact", config.RuleFieldChannel): "#exact",
	}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rule, err := set.Resolve("proj-api")
		require.NoError(t, err)
		require.Equal(t, "#wild", rule.Destination)
	}
	require.Contains(t, logs.String(), "multiple notification rules match project key")
	require.Contains(t, logs.String(), `"selected":"proj-*"`)
}

func TestRefreshDuplicatePatternReplacesEarlierRule(t *testing.T) {
	t.Parallel()

	resolver, logs := newTestResolver()
	set, err := resolver.Refresh(config.NewSettings(map[string]string{
		config.KeyRules:                              "a,b",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#first",
		config.RuleKey("b", config.RuleFieldProject): "proj:A",
		config.RuleKey("b", config.RuleFieldChannel): "#second",
	}))
	require.NoError(t, err)

	require.Equal(t, 1, set.Len())
	rule, err := set.Resolve("proj:A")
	require.NoError(t, err)
	require.Equal(t, "#second", rule.Destination)
	require.Contains(t, logs.String(), "duplicate key pattern")
}

func TestRefreshLogsOnlyWhenRulesChange(t *testing.T) {
	t.Parallel()

	resolver, logs := newTestResolver()
	settings := config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#general",
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#team",
	})

	_, err := resolver.Refresh(settings)
	require.NoError(t, err)
	require.Contains(t, logs.String(), "notification rules loaded")

	logs.Reset()
	_, err = resolver.Refresh(settings)
	require.NoError(t, err)
	require.NotContains(t, logs.String(), "notification rules changed")

	_, err = resolver.Refresh(settings.Merge(config.NewSettings(map[string]string{
		config.RuleKey("a", config.RuleFieldChannel): "#moved",
	})))
	require.NoError(t, err)
	require.Contains(t, logs.String(), "notification rules changed")
	require.Contains(t, logs.String(), `"added":1`)
	require.Contains(t, logs.String(), `"removed":1`)
}

func TestResolveBeforeRefresh(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	_, err := resolver.Resolve("proj:A")
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestRefreshConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver()
	first := config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#one",
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#one",
	})
	second := config.NewSettings(map[string]string{
		config.KeyDefaultChannel:                     "#two",
		config.KeyRules:                              "a",
		config.RuleKey("a", config.RuleFieldProject): "proj:A",
		config.RuleKey("a", config.RuleFieldChannel): "#two",
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		settings := first
		if i%2 == 1 {
			settings = second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := resolver.Refresh(settings)
			if err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
			matched, _ := set.Resolve("proj:A")
			fallback, _ := set.Resolve("proj:Z")
			if matched.Destination != fallback.Destination {
				t.Errorf("mixed snapshot: %q vs %q", matched.Destination, fallback.Destination)
			}
		}()
	}
	wg.Wait()
}

func TestMaskHook(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", MaskHook(""))
	require.Equal(t, "https://hooks.slack.com/***", MaskHook("https://hooks.slack.com/services/T000/B000/XXXX"))
	require.Equal(t, "***", MaskHook("not a url"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newTestResolver() (*Resolver, *syncBuffer) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewResolver(logger), logs
}

