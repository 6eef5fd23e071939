// Package rules implements the keyword and percentage based severity classifier.
package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ContextTerm is the bruising term that must co-occur with a percentage
// for a level's range rule to apply.
const ContextTerm = "bầm tím"

// PercentRange is the half-open interval (Min, Max].
type PercentRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether Min < p <= Max.
func (r PercentRange) Contains(p int) bool {
	return p > r.Min && p <= r.Max
}

// Condition is an optional CEL predicate attached to a level.
// When it evaluates to true, Name is reported as a matched keyword.
type Condition struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// LevelRule is the configuration for one severity level.
type LevelRule struct {
	Level      domain.Severity `yaml:"level" json:"level"`
	Keywords   []string        `yaml:"keywords" json:"keywords"`
	Range      *PercentRange   `yaml:"range,omitempty" json:"range,omitempty"`
	Conditions []Condition     `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Table is the full rule set, ordered most severe first.
type Table struct {
	Levels []LevelRule `yaml:"levels" json:"levels"`
}

// Rule returns the rule for a level.
func (t *Table) Rule(level domain.Severity) (LevelRule, bool) {
	for _, r := range t.Levels {
		if r.Level == level {
			return r, true
		}
	}
	return LevelRule{}, false
}

// Fingerprint identifies the table contents. Cached classifications are
// keyed under it so a changed table never serves stale results.
func (t *Table) Fingerprint() string {
	data, err := yaml.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// DefaultTable returns the embedded rule table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("load embedded rules.yaml: %v", err))
	}
	return t
}

// LoadTable reads a rule table from path, or the embedded default when
// path is empty.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML rule table. Keywords are
// normalized and levels are reordered serious, medium, low.
func ParseTable(data []byte) (*Table, error) {
	var raw Table
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}

	byLevel := make(map[domain.Severity]LevelRule, len(raw.Levels))
	for _, r := range raw.Levels {
		if !r.Level.Valid() {
			return nil, fmt.Errorf("rule table: unknown level %q", r.Level)
		}
		if _, dup := byLevel[r.Level]; dup {
			return nil, fmt.Errorf("rule table: level %s defined twice", r.Level)
		}
		if r.Range != nil && r.Range.Min >= r.Range.Max {
			return nil, fmt.Errorf("rule table: level %s range min %d must be below max %d", r.Level, r.Range.Min, r.Range.Max)
		}

		keywords := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = Normalize(k)
			if k == "" {
				return nil, fmt.Errorf("rule table: level %s has an empty keyword", r.Level)
			}
			keywords = append(keywords, k)
		}
		r.Keywords = keywords

		for _, c := range r.Conditions {
			if c.Name == "" || c.Expression == "" {
				return nil, fmt.Errorf("rule table: level %s has a condition without name or expression", r.Level)
			}
		}
		byLevel[r.Level] = r
	}

	t := &Table{Levels: make([]LevelRule, 0, len(domain.Severities))}
	for _, level := range domain.Severities {
		r, ok := byLevel[level]
		if !ok {
			return nil, fmt.Errorf("rule table: missing level %s", level)
		}
		t.Levels = append(t.Levels, r)
	}
	return t, nil
}
