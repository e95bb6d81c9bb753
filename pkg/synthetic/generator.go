package synthetic

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/models"
)

// Scenario describes one synthetic call: which dialogue blocks compose
// it, the risk level the composition is meant to land in, and the rule
// IDs its blocks are written to trigger.
type Scenario struct {
	ID               string
	PersonaID        string
	Language         string
	RiskLevel        string
	Blocks           []string
	ExpectedFindings []string
}

// Scenarios returns the built-in scenario set covering both personas
// and both languages across the risk spectrum.
func Scenarios() []Scenario {
	return []Scenario{
		{
			ID:        "collections_en_clean",
			PersonaID: models.PersonaCollections,
			Language:  "en",
			RiskLevel: "low",
			Blocks:    []string{"greeting_full", "body_accurate_recap", "closing_recap"},
		},
		{
			ID:               "collections_en_no_miranda",
			PersonaID:        models.PersonaCollections,
			Language:         "en",
			RiskLevel:        "moderate",
			Blocks:           []string{"greeting_ok", "body_no_recap", "closing_none"},
			ExpectedFindings: []string{"missing_mini_miranda"},
		},
		{
			ID:               "collections_en_aggressive",
			PersonaID:        models.PersonaCollections,
			Language:         "en",
			RiskLevel:        "high",
			Blocks:           []string{"greeting_full", "body_aggressive", "closing_none"},
			ExpectedFindings: []string{"aggressive_or_threatening_tone"},
		},
		{
			ID:               "collections_en_wrong_balance",
			PersonaID:        models.PersonaCollections,
			Language:         "en",
			RiskLevel:        "moderate",
			Blocks:           []string{"greeting_full", "body_wrong_balance", "closing_none"},
			ExpectedFindings: []string{"misstating_balance_or_fees"},
		},
		{
			ID:        "collections_en_third_party",
			PersonaID: models.PersonaCollections,
			Language:  "en",
			RiskLevel: "critical",
			Blocks:    []string{"greeting_no_miranda_no_rpv", "body_third_party", "closing_none"},
			ExpectedFindings: []string{
				"missing_mini_miranda",
				"no_verification_before_discussing_account",
				"third_party_disclosure_violation",
				"promising_outside_policy_authority",
				"has_right_party_verification",
			},
		},
		{
			ID:               "collections_en_casual",
			PersonaID:        models.PersonaCollections,
			Language:         "en",
			RiskLevel:        "moderate",
			Blocks:           []string{"greeting_full", "body_casual", "closing_recap"},
			ExpectedFindings: []string{"tone_too_casual"},
		},
		{
			ID:        "collections_es_clean",
			PersonaID: models.PersonaCollections,
			Language:  "es",
			RiskLevel: "low",
			Blocks:    []string{"greeting_full", "body_accurate_recap", "closing_recap"},
		},
		{
			ID:        "collections_es_no_miranda",
			PersonaID: models.PersonaCollections,
			Language:  "es",
			RiskLevel: "high",
			Blocks:    []string{"greeting_no_miranda_no_rpv", "body_no_recap", "closing_none"},
			ExpectedFindings: []string{
				"missing_mini_miranda",
				"no_verification_before_discussing_account",
				"has_greeting",
				"has_right_party_verification",
			},
		},
		{
			ID:        "ram_en_clean",
			PersonaID: models.PersonaRAM,
			Language:  "en",
			RiskLevel: "low",
			Blocks:    []string{"greeting_full", "body_portal_recap", "closing_recap"},
		},
		{
			ID:        "ram_en_no_confirm",
			PersonaID: models.PersonaRAM,
			Language:  "en",
			RiskLevel: "moderate",
			Blocks:    []string{"greeting_ok", "body_no_confirm", "closing_abrupt"},
			ExpectedFindings: []string{
				"has_dealer_verification",
				"no_confirmation_of_understanding",
				"no_recap",
				"transactional_tone_harming_relationship",
			},
		},
		{
			ID:        "ram_en_overpromise",
			PersonaID: models.PersonaRAM,
			Language:  "en",
			RiskLevel: "moderate",
			Blocks:    []string{"greeting_full", "body_overpromise", "closing_recap"},
			ExpectedFindings: []string{
				"overpromising_turnaround_time",
				"no_confirmation_of_understanding",
			},
		},
		{
			ID:        "ram_en_bypass",
			PersonaID: models.PersonaRAM,
			Language:  "en",
			RiskLevel: "critical",
			Blocks:    []string{"greeting_ok", "body_bypass", "closing_abrupt"},
			ExpectedFindings: []string{
				"advising_policy_bypass",
				"has_dealer_verification",
				"no_confirmation_of_understanding",
				"no_recap",
				"transactional_tone_harming_relationship",
			},
		},
		{
			ID:        "ram_es_clean",
			PersonaID: models.PersonaRAM,
			Language:  "es",
			RiskLevel: "low",
			Blocks:    []string{"greeting_full", "body_portal_recap", "closing_recap"},
		},
		{
			ID:        "ram_es_contradict",
			PersonaID: models.PersonaRAM,
			Language:  "es",
			RiskLevel: "high",
			Blocks:    []string{"greeting_full", "body_contradict", "closing_recap"},
			ExpectedFindings: []string{
				"contradicting_underwriting_rules",
				"no_confirmation_of_understanding",
			},
		},
	}
}

// Generator assembles transcripts from scenario definitions.
type Generator struct {
	logger *logrus.Logger
}

func NewGenerator(logger *logrus.Logger) *Generator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Generator{logger: logger}
}

// Build assembles a transcript for the scenario, concatenating its
// blocks in order. A block name without a template for the scenario's
// persona and language is an error rather than a silent gap.
func (g *Generator) Build(s Scenario) (*models.Transcript, error) {
	blocks := blocksFor(s.PersonaID, s.Language)
	if blocks == nil {
		return nil, errors.New(fmt.Sprintf("no templates for persona %q language %q", s.PersonaID, s.Language),
			map[string]interface{}{"scenario_id": s.ID})
	}

	var turns []models.Turn
	for _, name := range s.Blocks {
		block, ok := blocks[name]
		if !ok {
			return nil, errors.New(fmt.Sprintf("unknown block %q", name),
				map[string]interface{}{"scenario_id": s.ID, "persona_id": s.PersonaID, "language": s.Language})
		}
		turns = append(turns, block...)
	}

	t := &models.Transcript{
		ID:                "t-" + uuid.New().String(),
		PersonaID:         s.PersonaID,
		Language:          s.Language,
		IntendedRiskLevel: s.RiskLevel,
		ScenarioID:        s.ID,
		ExpectedFindings:  append([]string(nil), s.ExpectedFindings...),
		Turns:             turns,
		CreatedAt:         time.Now().UTC(),
	}

	metrics.RecordTranscriptGenerated(s.PersonaID, s.Language)
	g.logger.WithFields(logrus.Fields{
		"transcript_id": t.ID,
		"scenario_id":   s.ID,
		"persona_id":    s.PersonaID,
		"language":      s.Language,
		"risk_level":    s.RiskLevel,
		"turns":         len(turns),
	}).Debug("Generated synthetic transcript")

	return t, nil
}

// BuildAll assembles one transcript per built-in scenario.
func (g *Generator) BuildAll() ([]*models.Transcript, error) {
	scenarios := Scenarios()
	out := make([]*models.Transcript, 0, len(scenarios))
	for _, s := range scenarios {
		t, err := g.Build(s)
		if err != nil {
			return nil, errors.Wrap(err, "build scenario transcript")
		}
		out = append(out, t)
	}
	return out, nil
}
