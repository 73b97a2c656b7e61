package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Severity levels for review findings, in increasing order of weight.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// CategoryRules enables or disables one analysis category
type CategoryRules struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Rules holds the review rule configuration. It is stored as YAML in
// rules.yaml and updatable at runtime via PUT /api/config.
type Rules struct {
	MaxLineLength int `yaml:"max_line_length" json:"max_line_length"`

	Style       CategoryRules `yaml:"style" json:"style"`
	Security    CategoryRules `yaml:"security" json:"security"`
	Performance CategoryRules `yaml:"performance" json:"performance"`
	Dependency  CategoryRules `yaml:"dependency" json:"dependency"`
	Pattern     CategoryRules `yaml:"pattern" json:"pattern"`

	// ExcludePaths are glob patterns matched against file paths;
	// matching files are skipped entirely.
	ExcludePaths []string `yaml:"exclude_paths,omitempty" json:"exclude_paths,omitempty"`

	// DisabledRules lists individual rule IDs to skip (e.g. "style/line-length")
	DisabledRules []string `yaml:"disabled_rules,omitempty" json:"disabled_rules,omitempty"`

	// SeverityOverrides maps rule ID to a severity replacing the rule default
	SeverityOverrides map[string]string `yaml:"severity_overrides,omitempty" json:"severity_overrides,omitempty"`
}

// DefaultRules returns the default rule configuration with all categories on
func DefaultRules() *Rules {
	return &Rules{
		MaxLineLength: 120,
		Style:         CategoryRules{Enabled: true},
		Security:      CategoryRules{Enabled: true},
		Performance:   CategoryRules{Enabled: true},
		Dependency:    CategoryRules{Enabled: true},
		Pattern:       CategoryRules{Enabled: true},
	}
}

// RulesPath returns the path to the rules file
func RulesPath() string {
	return filepath.Join(DataDir(), "rules.yaml")
}

// LoadRules loads the rule configuration from the default path
func LoadRules() (*Rules, error) {
	return LoadRulesFrom(RulesPath())
}

// LoadRulesFrom loads rule configuration from a specific path.
// Missing file is not an error; defaults are returned.
func LoadRulesFrom(path string) (*Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return rules, nil
}

// SaveRules writes the rule configuration to the default path
func SaveRules(rules *Rules) error {
	return SaveRulesTo(rules, RulesPath())
}

// SaveRulesTo writes the rule configuration to a specific path
func SaveRulesTo(rules *Rules, path string) error {
	if err := rules.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(rules)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the rule configuration for invalid values
func (r *Rules) Validate() error {
	if r.MaxLineLength < 0 {
		return fmt.Errorf("max_line_length must be >= 0, got %d", r.MaxLineLength)
	}
	for rule, sev := range r.SeverityOverrides {
		switch sev {
		case SeverityInfo, SeverityWarning, SeverityError:
		default:
			return fmt.Errorf("invalid severity %q for rule %q", sev, rule)
		}
	}
	return nil
}

// RuleDisabled returns true if the given rule ID is disabled
func (r *Rules) RuleDisabled(ruleID string) bool {
	for _, d := range r.DisabledRules {
		if d == ruleID {
			return true
		}
	}
	return false
}

// ResolveSeverity returns the effective severity for a rule,
// applying any configured override.
func (r *Rules) ResolveSeverity(ruleID, defaultSeverity string) string {
	if sev, ok := r.SeverityOverrides[ruleID]; ok {
		return sev
	}
	return defaultSeverity
}

// PathExcluded returns true if the file path matches an exclude pattern.
// Patterns match either the full path or the base name.
func (r *Rules) PathExcluded(path string) bool {
	for _, pattern := range r.ExcludePaths {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
