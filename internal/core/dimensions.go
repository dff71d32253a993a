package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dimensions are the allowed business dimension values from pipeline_config.yaml.
type Dimensions struct {
	Products          []string `yaml:"products"`
	Channels          []string `yaml:"channels"`
	Segments          []string `yaml:"segments"`
	ScorecardVersions []string `yaml:"scorecard_versions"`
}

// DimensionsConfig is the document layout. EnumBindings maps a dimension
// name to "table.column"; defaults apply when the section is absent.
type DimensionsConfig struct {
	Dimensions   Dimensions        `yaml:"dimensions"`
	EnumBindings map[string]string `yaml:"enum_bindings"`
}

// DefaultEnumBindings ties each dimension list to the application column it constrains.
var DefaultEnumBindings = map[string]string{
	"products":           "applications.product",
	"channels":           "applications.channel",
	"segments":           "applications.segment",
	"scorecard_versions": "applications.scorecard_version",
}

// LoadDimensions reads the YAML dimension document.
func LoadDimensions(path string) (*DimensionsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	return ParseDimensions(data)
}

// ParseDimensions parses the YAML dimension document.
func ParseDimensions(data []byte) (*DimensionsConfig, error) {
	var cfg DimensionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse dimensions: %w", err)
	}
	if len(cfg.EnumBindings) == 0 {
		cfg.EnumBindings = DefaultEnumBindings
	}
	return &cfg, nil
}

// List returns the values of a named dimension.
func (d Dimensions) List(name string) []string {
	switch name {
	case "products":
		return d.Products
	case "channels":
		return d.Channels
	case "segments":
		return d.Segments
	case "scorecard_versions":
		return d.ScorecardVersions
	default:
		return nil
	}
}

// SeedEnums returns a catalogue with an EnumConstraint for every bound
// dimension whose column has no enum rule yet. Empty dimension lists are skipped.
func (c *DimensionsConfig) SeedEnums(cat RuleCatalogue) (RuleCatalogue, error) {
	if c == nil {
		return cat, nil
	}

	for _, dim := range sortedKeys(c.EnumBindings) {
		values := c.Dimensions.List(dim)
		if len(values) == 0 {
			continue
		}

		table, col, ok := strings.Cut(c.EnumBindings[dim], ".")
		if !ok || table == "" || col == "" {
			return cat, fmt.Errorf("enum binding %s: want table.column, got %q", dim, c.EnumBindings[dim])
		}
		col = NormalizeColumn(col)

		if hasEnumFor(cat.For(table), col) {
			continue
		}
		cat = cat.With(table, EnumConstraint{Column: col, Allowed: append([]string(nil), values...)})
	}
	return cat, nil
}

func hasEnumFor(rules []Rule, col string) bool {
	for _, r := range rules {
		if e, ok := r.(EnumConstraint); ok && e.Column == col {
			return true
		}
	}
	return false
}
