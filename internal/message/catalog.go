package message

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed names.yaml
var embeddedNames []byte

// MetricNamer resolves metric keys to display names.
// Params: locale tag and metric key.
// Returns: display name, or the key itself when unknown.
type MetricNamer interface {
	MetricName(tag language.Tag, metricKey string) string
}

// Catalog is a locale-aware metric name table.
// Params: built by LoadCatalog from embedded names plus optional override file.
// Returns: read-only namer safe for concurrent use.
type Catalog struct {
	tags    []language.Tag
	names   []map[string]string
	matcher language.Matcher
}

// LoadCatalog builds the metric name catalog.
// Params: optional YAML override path; empty uses embedded names only.
// Returns: catalog or read/parse error.
func LoadCatalog(overridePath string) (*Catalog, error) {
	base, order, err := parseNames(embeddedNames)
	if err != nil {
		return nil, fmt.Errorf("parse embedded metric names: %w", err)
	}

	overridePath = strings.TrimSpace(overridePath)
	if overridePath != "" {
		body, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read metric names %q: %w", overridePath, err)
		}
		extra, extraOrder, err := parseNames(body)
		if err != nil {
			return nil, fmt.Errorf("parse metric names %q: %w", overridePath, err)
		}
		for _, lang := range extraOrder {
			if _, ok := base[lang]; !ok {
				base[lang] = make(map[string]string)
				order = append(order, lang)
			}
			for key, name := range extra[lang] {
				base[lang][key] = name
			}
		}
	}

	catalog := &Catalog{}
	for _, lang := range order {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("metric names language %q: %w", lang, err)
		}
		catalog.tags = append(catalog.tags, tag)
		catalog.names = append(catalog.names, base[lang])
	}
	catalog.matcher = language.NewMatcher(catalog.tags)
	return catalog, nil
}

// parseNames decodes a language -> metric -> name document.
// Params: YAML body.
// Returns: names by language and languages in document order.
func parseNames(body []byte) (map[string]map[string]string, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, nil, err
	}
	if len(doc.Content) == 0 {
		return map[string]map[string]string{}, nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("line %d: expected mapping of languages", root.Line)
	}

	names := make(map[string]map[string]string, len(root.Content)/2)
	order := make([]string, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := root.Content[i].Value
		var table map[string]string
		if err := root.Content[i+1].Decode(&table); err != nil {
			return nil, nil, fmt.Errorf("language %q: %w", lang, err)
		}
		if _, seen := names[lang]; !seen {
			order = append(order, lang)
		}
		names[lang] = table
	}
	return names, order, nil
}

// MetricName resolves one metric key for the closest supported language.
// Params: requested locale and metric key.
// Returns: localized name, fallback-language name, or key.
func (c *Catalog) MetricName(tag language.Tag, metricKey string) string {
	if len(c.tags) == 0 {
		return metricKey
	}
	_, idx, _ := c.matcher.Match(tag)
	if name, ok := c.names[idx][metricKey]; ok && name != "" {
		return name
	}
	if name, ok := c.names[0][metricKey]; ok && name != "" {
		return name
	}
	return metricKey
}

// ParseLocale parses a configured locale.
// Params: BCP 47 tag such as "en" or "fr-CA"; empty selects English.
// Returns: parsed tag, or English with the parse error.
func ParseLocale(raw string) (language.Tag, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return language.English, nil
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.English, fmt.Errorf("parse locale %q: %w", raw, err)
	}
	return tag, nil
}
