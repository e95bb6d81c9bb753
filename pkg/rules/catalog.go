package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
)

// Catalog is an immutable, validated set of rules. Loading is a pure
// data transform; schema violations fail loudly here, never at
// evaluation time.
type Catalog struct {
	rules []Rule
}

// NewCatalog validates the rule set and returns a catalog. Order is
// preserved and meaningful: RulesFor returns rules in catalog order.
func NewCatalog(ruleSet []Rule) (*Catalog, error) {
	seen := make(map[string]bool, len(ruleSet))
	for _, r := range ruleSet {
		if r.ID == "" {
			return nil, errors.Wrap(errors.ErrInvalidCatalog, "rule with empty id")
		}
		if seen[r.ID] {
			return nil, errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true

		if r.Weight <= 0 {
			return nil, errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("rule %q has non-positive weight %v", r.ID, r.Weight))
		}
		if !models.ValidSeverity(r.Severity) {
			return nil, errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("rule %q has unknown severity %q", r.ID, r.Severity))
		}
		if len(r.AppliesTo) == 0 {
			return nil, errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("rule %q applies to no persona", r.ID))
		}

		if err := validateDetection(r); err != nil {
			return nil, err
		}
	}

	out := make([]Rule, len(ruleSet))
	copy(out, ruleSet)
	return &Catalog{rules: out}, nil
}

func validateDetection(r Rule) error {
	d := r.Detect
	switch r.Category {
	case CategoryTranscript:
		switch d.Strategy {
		case StrategyPresence:
			if len(d.Phrases) == 0 {
				return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("presence rule %q has no phrases", r.ID))
			}
		case StrategyOrdering:
			if len(d.First) == 0 || len(d.Second) == 0 {
				return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("ordering rule %q needs both phrase sets", r.ID))
			}
		case StrategyLexicon:
			if len(d.Lexicon) == 0 {
				return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("lexicon rule %q has no lexicon", r.ID))
			}
			if d.MaxTurns < 0 {
				return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("lexicon rule %q has negative max_turns", r.ID))
			}
		default:
			return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("transcript rule %q has unknown strategy %q", r.ID, d.Strategy))
		}
	case CategoryProcess:
		if d.Strategy != StrategyThreshold {
			return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("process rule %q must use the threshold strategy", r.ID))
		}
		if d.Metric != MetricIdleRatio && d.Metric != MetricMaxDwellSec {
			return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("process rule %q has unknown metric %q", r.ID, d.Metric))
		}
		if d.Max <= 0 {
			return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("process rule %q has non-positive threshold", r.ID))
		}
	default:
		return errors.Wrap(errors.ErrInvalidCatalog, fmt.Sprintf("rule %q has unknown category %q", r.ID, r.Category))
	}
	return nil
}

// Metric names understood by the threshold strategy.
const (
	MetricIdleRatio   = "idle_ratio"
	MetricMaxDwellSec = "max_dwell_sec"
)

// RulesFor returns the ordered rules applicable to a persona within a
// category. Adding a rule to the catalog requires no evaluator change.
func (c *Catalog) RulesFor(personaID string, category Category) []Rule {
	var out []Rule
	for _, r := range c.rules {
		if r.Category == category && r.AppliesToPersona(personaID) {
			out = append(out, r)
		}
	}
	return out
}

// All returns every rule in catalog order.
func (c *Catalog) All() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// catalogFile is the YAML document shape for external catalogs.
type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a YAML rule catalog from disk and validates it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rule catalog", map[string]interface{}{"path": path})
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse rule catalog", map[string]interface{}{"path": path})
	}
	if len(file.Rules) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidCatalog, "catalog file contains no rules", map[string]interface{}{"path": path})
	}

	return NewCatalog(file.Rules)
}
