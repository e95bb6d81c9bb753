package rules

import (
	"callaudit-server/pkg/models"
)

// Thresholds carries the externally configured process limits applied
// to the built-in catalog. Zero values fall back to the defaults.
type Thresholds struct {
	IdleRatioMax float64 // default 0.25
	MaxDwellSec  float64 // default 300
}

const (
	defaultIdleRatioMax = 0.25
	defaultMaxDwellSec  = 300
)

// DefaultCatalog builds the built-in rule set for the collections and
// ram personas. The catalog is validated before return; a failure here
// is a programming error in the defaults.
func DefaultCatalog(t Thresholds) (*Catalog, error) {
	idleMax := t.IdleRatioMax
	if idleMax <= 0 {
		idleMax = defaultIdleRatioMax
	}
	dwellMax := t.MaxDwellSec
	if dwellMax <= 0 {
		dwellMax = defaultMaxDwellSec
	}

	ruleSet := []Rule{
		// Collections compliance
		{
			ID:          "missing_mini_miranda",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityCritical,
			Weight:      40,
			Description: "Mini-Miranda disclosure must be stated in the greeting",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentGreeting,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"collect a debt", "attempt to collect"},
					"es": {"cobrar una deuda", "comunicación para cobrar"},
				},
			},
		},
		{
			ID:          "no_verification_before_discussing_account",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityHigh,
			Weight:      25,
			Description: "Right-party verification must precede any account detail",
			Detect: Detection{
				Strategy: StrategyOrdering,
				Speaker:  models.SpeakerAgent,
				First: PhraseSet{
					"en": {"last four", "social", "date of birth", "verify", "confirm"},
					"es": {"últimos cuatro", "seguro social", "verificar", "confirmar"},
				},
				Second: PhraseSet{
					"en": {"balance is", "past due", "you're past due"},
					"es": {"saldo es", "días de atraso"},
				},
			},
		},
		{
			ID:          "no_recap_of_arrangement",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      15,
			Description: "Closing must recap the payment arrangement",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentClosing,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"confirm", "recap", "to summarize", "payment", "due"},
					"es": {"confirmar", "resumen", "pago", "fecha"},
				},
			},
		},
		{
			ID:          "aggressive_or_threatening_tone",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityHigh,
			Weight:      25,
			Description: "No aggressive or threatening language toward the customer",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"repossession", "we're sending", "pay now", "don't miss it", "what are you going to do"},
					"es": {"no falle", "enviamos a recuperación"},
				},
			},
		},
		{
			ID:          "misstating_balance_or_fees",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      15,
			Description: "Stated balance must not conflict with the customer's records",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"i thought it was", "thought it was"},
					"es": {"pensé que era"},
				},
			},
		},
		{
			ID:          "third_party_disclosure_violation",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityCritical,
			Weight:      40,
			Description: "Account details must not be disclosed to a third party",
			Detect: Detection{
				Strategy:  StrategyOrdering,
				Forbidden: true,
				First: PhraseSet{
					"en": {"calling for my", "calling for his", "calling for her", "can you tell me what he owes"},
					"es": {"llamo por mi hermano"},
				},
				Second: PhraseSet{
					"en": {"owe", "balance", "account"},
					"es": {"debe", "saldo", "cuenta"},
				},
				SecondSpeaker: models.SpeakerAgent,
			},
		},
		{
			ID:          "promising_outside_policy_authority",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      15,
			Description: "No waivers or exceptions promised without authority",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"waive", "i might be able to", "exception"},
					"es": {"podría hacer una excepción"},
				},
			},
		},

		// RAM (dealer relationship) compliance
		{
			ID:          "advising_policy_bypass",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityCritical,
			Weight:      40,
			Description: "Agent must not advise bypassing documentation policy",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"work around", "workaround", "skip", "we've made exceptions"},
					"es": {"excepciones", "omitir", "podemos saltarnos"},
				},
			},
		},
		{
			ID:          "contradicting_underwriting_rules",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityHigh,
			Weight:      25,
			Description: "Agent must not contradict underwriting guidance",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"they say that but", "we've approved higher", "push it through", "underwriting usually wants but"},
					"es": {"lo aprobamos más alto", "lo empujamos"},
				},
			},
		},
		{
			ID:          "incorrect_documentation_guidance",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityHigh,
			Weight:      25,
			Description: "Documentation guidance must match the stip sheet",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"you don't need the", "any old form", "doesn't need a signature"},
					"es": {"no necesita el", "cualquier formulario"},
				},
			},
		},
		{
			ID:          "overpromising_turnaround_time",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      15,
			Description: "No unqualified turnaround promises",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"end of day today", "by today"},
					"es": {"hoy mismo", "para hoy"},
				},
			},
		},
		{
			ID:          "no_confirmation_of_understanding",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityLow,
			Weight:      5,
			Description: "Agent should confirm the dealer understood the guidance",
			Detect: Detection{
				Strategy: StrategyPresence,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"did that work", "do you see", "got it", "understand"},
					"es": {"¿le apareció", "¿funciona", "entendió"},
				},
			},
		},
		{
			ID:          "no_recap",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      15,
			Description: "Closing must recap next steps",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentClosing,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"next step", "summarize", "confirm", "document", "stip", "upload"},
					"es": {"resumen", "próximo", "documento"},
				},
			},
		},
		{
			ID:          "transactional_tone_harming_relationship",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityLow,
			Weight:      5,
			Description: "Closing should not be rushed or purely transactional",
			Detect: Detection{
				Strategy:  StrategyPresence,
				Segment:   models.SegmentClosing,
				Speaker:   models.SpeakerAgent,
				Forbidden: true,
				Phrases: PhraseSet{
					"en": {"okay bye", "gotta go"},
					"es": {"adiós, ya"},
				},
			},
		},

		// Tone guardrails shared by both personas
		{
			ID:          "tone_too_casual",
			AppliesTo:   []string{"all"},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      10,
			Description: "Agent tone must stay professional, not casual",
			Detect: Detection{
				Strategy: StrategyLexicon,
				Speaker:  models.SpeakerAgent,
				MaxTurns: 1,
				Lexicon: PhraseSet{
					"en": {"hey ", "dude", "yeah man", "no worries", "gonna", "wanna", "gotta", "kinda", "awesome", "totally", "sure thing", "no problemo"},
					"es": {"de nada", "tranquilo", "dale "},
				},
			},
		},
		{
			ID:          "tone_too_strict",
			AppliesTo:   []string{"all"},
			Category:    CategoryTranscript,
			Severity:    models.SeverityModerate,
			Weight:      10,
			Description: "Agent tone must not be harsh or intimidating",
			Detect: Detection{
				Strategy: StrategyLexicon,
				Speaker:  models.SpeakerAgent,
				MaxTurns: 1,
				Lexicon: PhraseSet{
					"en": {"you need to", "you must", "right now", "no excuses", "listen here", "you have to", "or else", "last chance"},
					"es": {"tiene que", "ahora mismo", "sin excusas"},
				},
			},
		},

		// Positive checks: low-weight required behaviors
		{
			ID:          "has_greeting",
			AppliesTo:   []string{"all"},
			Category:    CategoryTranscript,
			Severity:    models.SeverityLow,
			Weight:      5,
			Description: "Call opens with a proper greeting",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentGreeting,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"thank you", "calling", "this is"},
					"es": {"gracias", "llamar", "soy"},
				},
			},
		},
		{
			ID:          "has_right_party_verification",
			AppliesTo:   []string{models.PersonaCollections},
			Category:    CategoryTranscript,
			Severity:    models.SeverityLow,
			Weight:      5,
			Description: "Caller identity is verified in the greeting",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentGreeting,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"last four", "social", "date of birth", "verify", "confirm"},
					"es": {"últimos cuatro", "seguro social", "verificar", "confirmar"},
				},
			},
		},
		{
			ID:          "has_dealer_verification",
			AppliesTo:   []string{models.PersonaRAM},
			Category:    CategoryTranscript,
			Severity:    models.SeverityLow,
			Weight:      5,
			Description: "Dealer identity is confirmed in the greeting",
			Detect: Detection{
				Strategy: StrategyPresence,
				Segment:  models.SegmentGreeting,
				Speaker:  models.SpeakerAgent,
				Phrases: PhraseSet{
					"en": {"dealer id", "confirm"},
					"es": {"id del concesionario", "confirma"},
				},
			},
		},

		// Process (DPA) rules
		{
			ID:          "high_idle_ratio",
			AppliesTo:   []string{"all"},
			Category:    CategoryProcess,
			Severity:    models.SeverityModerate,
			Weight:      10,
			Description: "Idle time during the call must stay below the configured fraction",
			Detect: Detection{
				Strategy: StrategyThreshold,
				Metric:   MetricIdleRatio,
				Max:      idleMax,
			},
		},
		{
			ID:          "high_dwell",
			AppliesTo:   []string{"all"},
			Category:    CategoryProcess,
			Severity:    models.SeverityModerate,
			Weight:      10,
			Description: "Time stuck on a single screen must stay below the configured limit",
			Detect: Detection{
				Strategy: StrategyThreshold,
				Metric:   MetricMaxDwellSec,
				Max:      dwellMax,
			},
		},
	}

	return NewCatalog(ruleSet)
}
