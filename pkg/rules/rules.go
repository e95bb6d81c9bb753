package rules

import (
	"callaudit-server/pkg/models"
)

// Category separates rules that read transcript turns from rules that
// read desktop-process metrics.
type Category string

const (
	CategoryTranscript Category = "transcript"
	CategoryProcess    Category = "process"
)

// Strategy identifies one of the closed set of detection strategies.
// Adding a strategy means adding a variant case here and a matching
// branch in the evaluator, never a per-rule code change.
type Strategy string

const (
	// StrategyPresence checks that a phrase set occurs (or, when
	// Forbidden, does not occur) in the scoped turns.
	StrategyPresence Strategy = "presence"

	// StrategyOrdering checks that the first occurrence of phrase set A
	// precedes the first occurrence of phrase set B.
	StrategyOrdering Strategy = "ordering"

	// StrategyLexicon counts turns containing negative-tone terms and
	// fails when the count exceeds MaxTurns.
	StrategyLexicon Strategy = "lexicon"

	// StrategyThreshold compares a DPA metric against a maximum.
	StrategyThreshold Strategy = "threshold"
)

// PhraseSet holds language-specific trigger phrases keyed by language
// code ("en", "es"). Matching is case-insensitive substring matching.
type PhraseSet map[string][]string

// Detection is the tagged variant describing how a rule fires. Only the
// fields for the declared Strategy are consulted.
type Detection struct {
	Strategy Strategy `yaml:"strategy"`

	// Scope restrictions shared by the transcript strategies. An empty
	// value means unrestricted.
	Segment models.Segment `yaml:"segment,omitempty"`
	Speaker models.Speaker `yaml:"speaker,omitempty"`

	// Presence: the phrase set to look for. When Forbidden is false the
	// rule requires the phrases; when true their presence is the
	// violation.
	Phrases   PhraseSet `yaml:"phrases,omitempty"`
	Forbidden bool      `yaml:"forbidden,omitempty"`

	// Ordering: First must precede Second. With Forbidden set, the
	// First-then-Second sequence itself is the violation. Second
	// matches turns by SecondSpeaker when set, otherwise by Speaker.
	First         PhraseSet      `yaml:"first,omitempty"`
	Second        PhraseSet      `yaml:"second,omitempty"`
	SecondSpeaker models.Speaker `yaml:"second_speaker,omitempty"`

	// Lexicon: negative-tone terms and the tolerated number of turns
	// containing them.
	Lexicon  PhraseSet `yaml:"lexicon,omitempty"`
	MaxTurns int       `yaml:"max_turns,omitempty"`

	// Threshold: DPA metric name ("idle_ratio" or "max_dwell_sec") and
	// the maximum allowed value.
	Metric string  `yaml:"metric,omitempty"`
	Max    float64 `yaml:"max,omitempty"`
}

// Rule identifies a single checkable condition. Rules are pure
// configuration data; all evaluation logic is data-driven from the
// Detection variant.
type Rule struct {
	ID          string          `yaml:"id"`
	AppliesTo   []string        `yaml:"applies_to"` // persona ids, or ["all"]
	Category    Category        `yaml:"category"`
	Severity    models.Severity `yaml:"severity"`
	Weight      float64         `yaml:"weight"`
	Description string          `yaml:"description"`
	Detect      Detection       `yaml:"detect"`
}

// AppliesToPersona reports whether the rule applies to the given
// persona.
func (r Rule) AppliesToPersona(personaID string) bool {
	for _, p := range r.AppliesTo {
		if p == "all" || p == personaID {
			return true
		}
	}
	return false
}

// PhrasesFor returns the phrase list for a language. There is no
// cross-language fallback: a rule with no phrases for the transcript's
// language is not applicable to it.
func (ps PhraseSet) PhrasesFor(language string) []string {
	if ps == nil {
		return nil
	}
	return ps[language]
}
