package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
)

func validRule() Rule {
	return Rule{
		ID:        "greeting_check",
		AppliesTo: []string{"all"},
		Category:  CategoryTranscript,
		Severity:  models.SeverityLow,
		Weight:    5,
		Detect: Detection{
			Strategy: StrategyPresence,
			Phrases:  PhraseSet{"en": {"hello"}},
		},
	}
}

func TestNewCatalog_Valid(t *testing.T) {
	catalog, err := NewCatalog([]Rule{validRule()})
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
}

func TestNewCatalog_Rejections(t *testing.T) {
	cases := map[string]func(r *Rule){
		"empty id":          func(r *Rule) { r.ID = "" },
		"zero weight":       func(r *Rule) { r.Weight = 0 },
		"negative weight":   func(r *Rule) { r.Weight = -5 },
		"unknown severity":  func(r *Rule) { r.Severity = "fatal" },
		"no personas":       func(r *Rule) { r.AppliesTo = nil },
		"unknown category":  func(r *Rule) { r.Category = "telemetry" },
		"unknown strategy":  func(r *Rule) { r.Detect.Strategy = "regex" },
		"presence phrases":  func(r *Rule) { r.Detect.Phrases = nil },
		"ordering phrases":  func(r *Rule) { r.Detect = Detection{Strategy: StrategyOrdering, First: PhraseSet{"en": {"a"}}} },
		"lexicon terms":     func(r *Rule) { r.Detect = Detection{Strategy: StrategyLexicon} },
		"lexicon max_turns": func(r *Rule) { r.Detect = Detection{Strategy: StrategyLexicon, Lexicon: PhraseSet{"en": {"a"}}, MaxTurns: -1} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRule()
			mutate(&r)

			catalog, err := NewCatalog([]Rule{r})
			assert.Nil(t, catalog)
			assert.True(t, errors.IsAny(err, errors.ErrInvalidCatalog), "want invalid catalog, got %v", err)
		})
	}
}

func TestNewCatalog_DuplicateID(t *testing.T) {
	catalog, err := NewCatalog([]Rule{validRule(), validRule()})
	assert.Nil(t, catalog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestNewCatalog_ProcessRuleValidation(t *testing.T) {
	r := validRule()
	r.Category = CategoryProcess
	r.Detect = Detection{Strategy: StrategyThreshold, Metric: "screen_flips", Max: 10}

	_, err := NewCatalog([]Rule{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metric")

	r.Detect = Detection{Strategy: StrategyThreshold, Metric: MetricIdleRatio, Max: 0}
	_, err = NewCatalog([]Rule{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-positive threshold")

	r.Detect = Detection{Strategy: StrategyPresence, Phrases: PhraseSet{"en": {"x"}}}
	_, err = NewCatalog([]Rule{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold strategy")
}

func TestCatalog_RulesFor(t *testing.T) {
	collections := validRule()
	collections.ID = "collections_only"
	collections.AppliesTo = []string{models.PersonaCollections}

	shared := validRule()
	shared.ID = "shared"

	process := validRule()
	process.ID = "idle"
	process.Category = CategoryProcess
	process.Detect = Detection{Strategy: StrategyThreshold, Metric: MetricIdleRatio, Max: 0.25}

	catalog, err := NewCatalog([]Rule{collections, shared, process})
	require.NoError(t, err)

	got := catalog.RulesFor(models.PersonaCollections, CategoryTranscript)
	require.Len(t, got, 2)
	assert.Equal(t, "collections_only", got[0].ID, "catalog order is preserved")
	assert.Equal(t, "shared", got[1].ID)

	got = catalog.RulesFor(models.PersonaRAM, CategoryTranscript)
	require.Len(t, got, 1)
	assert.Equal(t, "shared", got[0].ID)

	got = catalog.RulesFor(models.PersonaRAM, CategoryProcess)
	require.Len(t, got, 1)
	assert.Equal(t, "idle", got[0].ID)
}

func TestDefaultCatalog_Valid(t *testing.T) {
	catalog, err := DefaultCatalog(Thresholds{})
	require.NoError(t, err)
	assert.Greater(t, catalog.Len(), 15)

	// Both personas get transcript and process rules.
	assert.NotEmpty(t, catalog.RulesFor(models.PersonaCollections, CategoryTranscript))
	assert.NotEmpty(t, catalog.RulesFor(models.PersonaRAM, CategoryTranscript))
	assert.Len(t, catalog.RulesFor(models.PersonaCollections, CategoryProcess), 2)
}

func TestDefaultCatalog_AppliesThresholds(t *testing.T) {
	catalog, err := DefaultCatalog(Thresholds{IdleRatioMax: 0.4, MaxDwellSec: 120})
	require.NoError(t, err)

	for _, r := range catalog.RulesFor(models.PersonaCollections, CategoryProcess) {
		switch r.Detect.Metric {
		case MetricIdleRatio:
			assert.Equal(t, 0.4, r.Detect.Max)
		case MetricMaxDwellSec:
			assert.Equal(t, 120.0, r.Detect.Max)
		}
	}
}

func TestDefaultCatalog_ZeroThresholdsFallBack(t *testing.T) {
	catalog, err := DefaultCatalog(Thresholds{})
	require.NoError(t, err)

	for _, r := range catalog.RulesFor(models.PersonaRAM, CategoryProcess) {
		switch r.Detect.Metric {
		case MetricIdleRatio:
			assert.Equal(t, 0.25, r.Detect.Max)
		case MetricMaxDwellSec:
			assert.Equal(t, 300.0, r.Detect.Max)
		}
	}
}

func TestLoadFile_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `rules:
  - id: custom_greeting
    applies_to: ["all"]
    category: transcript
    severity: low
    weight: 5
    detect:
      strategy: presence
      segment: greeting
      speaker: agent
      phrases:
        en: ["good morning"]
  - id: custom_idle
    applies_to: ["collections"]
    category: process
    severity: moderate
    weight: 10
    detect:
      strategy: threshold
      metric: idle_ratio
      max: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	catalog, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	got := catalog.RulesFor(models.PersonaCollections, CategoryProcess)
	require.Len(t, got, 1)
	assert.Equal(t, 0.3, got[0].Detect.Max)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))

	_, err := LoadFile(path)
	assert.True(t, errors.IsAny(err, errors.ErrInvalidCatalog))
}

func TestLoadFile_InvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := `rules:
  - id: broken
    applies_to: ["all"]
    category: transcript
    severity: low
    weight: -1
    detect:
      strategy: presence
      phrases:
        en: ["x"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadFile(path)
	assert.True(t, errors.IsAny(err, errors.ErrInvalidCatalog))
}
