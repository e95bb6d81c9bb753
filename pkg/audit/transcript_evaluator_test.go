package audit

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callaudit-server/pkg/models"
	"callaudit-server/pkg/rules"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testCatalog(t *testing.T, ruleSet []rules.Rule) *rules.Catalog {
	t.Helper()
	catalog, err := rules.NewCatalog(ruleSet)
	require.NoError(t, err)
	return catalog
}

func agent(segment models.Segment, text string) models.Turn {
	return models.Turn{Speaker: models.SpeakerAgent, Segment: segment, Text: text}
}

func customer(segment models.Segment, text string) models.Turn {
	return models.Turn{Speaker: models.SpeakerCustomer, Segment: segment, Text: text}
}

func transcript(turns ...models.Turn) models.Transcript {
	return models.Transcript{
		ID:        "t-1",
		PersonaID: models.PersonaCollections,
		Language:  "en",
		Turns:     turns,
	}
}

func findingFor(findings []models.Finding, ruleID string) *models.Finding {
	for i := range findings {
		if findings[i].RuleID == ruleID {
			return &findings[i]
		}
	}
	return nil
}

func presenceRule(id string, forbidden bool) rules.Rule {
	return rules.Rule{
		ID:        id,
		AppliesTo: []string{"all"},
		Category:  rules.CategoryTranscript,
		Severity:  models.SeverityHigh,
		Weight:    25,
		Detect: rules.Detection{
			Strategy:  rules.StrategyPresence,
			Segment:   models.SegmentGreeting,
			Speaker:   models.SpeakerAgent,
			Forbidden: forbidden,
			Phrases:   rules.PhraseSet{"en": {"recorded line", "attempt to collect"}},
		},
	}
}

func TestTranscriptEvaluator_PresenceRequired(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("mini_miranda", false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	pass := transcript(agent(models.SegmentGreeting, "This is an attempt to collect a debt."))
	findings := eval.Evaluate(pass)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
	assert.Contains(t, findings[0].Reason, "attempt to collect")
	assert.NotEmpty(t, findings[0].Snippet)

	fail := transcript(agent(models.SegmentGreeting, "Hello, how can I help you today?"))
	findings = eval.Evaluate(fail)
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
	assert.Contains(t, findings[0].Reason, "no required phrase")
}

func TestTranscriptEvaluator_PresenceForbidden(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("no_recording_talk", true)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	fail := transcript(agent(models.SegmentGreeting, "You are on a recorded line."))
	findings := eval.Evaluate(fail)
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
	assert.Contains(t, findings[0].Reason, "disqualifying phrase")

	pass := transcript(agent(models.SegmentGreeting, "Good morning."))
	findings = eval.Evaluate(pass)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func TestTranscriptEvaluator_MatchingIsCaseInsensitive(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("mini_miranda", false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(agent(models.SegmentGreeting, "THIS IS AN ATTEMPT TO COLLECT A DEBT")))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func TestTranscriptEvaluator_SpeakerScope(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("mini_miranda", false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	// The phrase appears only in a customer turn; the agent-scoped rule
	// must not count it.
	findings := eval.Evaluate(transcript(
		agent(models.SegmentGreeting, "Hello."),
		customer(models.SegmentGreeting, "Is this an attempt to collect a debt?"),
	))
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
}

func TestTranscriptEvaluator_SegmentAbsentSkipsRule(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("mini_miranda", false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	// No greeting-labelled turn at all: the rule is inapplicable, not
	// failed.
	findings := eval.Evaluate(transcript(agent(models.SegmentBody, "Your balance is $100.")))
	assert.Empty(t, findings)
}

func TestTranscriptEvaluator_MissingLanguagePhrasesSkipsRule(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{presenceRule("mini_miranda", false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	tr := transcript(agent(models.SegmentGreeting, "Esta es una llamada."))
	tr.Language = "es"
	findings := eval.Evaluate(tr)
	assert.Empty(t, findings)
}

func orderingRule(forbidden bool) rules.Rule {
	return rules.Rule{
		ID:        "verify_before_account",
		AppliesTo: []string{models.PersonaCollections},
		Category:  rules.CategoryTranscript,
		Severity:  models.SeverityCritical,
		Weight:    40,
		Detect: rules.Detection{
			Strategy:  rules.StrategyOrdering,
			Speaker:   models.SpeakerAgent,
			Forbidden: forbidden,
			First:     rules.PhraseSet{"en": {"confirm the last four"}},
			Second:    rules.PhraseSet{"en": {"your balance is"}},
		},
	}
}

func TestTranscriptEvaluator_OrderingPass(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{orderingRule(false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		agent(models.SegmentGreeting, "Can you confirm the last four of your social?"),
		customer(models.SegmentGreeting, "1234."),
		agent(models.SegmentBody, "Thanks. Your balance is $500."),
	))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func TestTranscriptEvaluator_OrderingFailsWhenGateMissing(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{orderingRule(false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "Your balance is $500."),
	))
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
	assert.Contains(t, findings[0].Reason, "without any required preceding phrase")
}

func TestTranscriptEvaluator_OrderingFailsWhenReversed(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{orderingRule(false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "Your balance is $500."),
		agent(models.SegmentBody, "Now, can you confirm the last four of your social?"),
	))
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
}

func TestTranscriptEvaluator_OrderingPassesWhenGatedPhraseAbsent(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{orderingRule(false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	// No account detail discussed at all: nothing to gate.
	findings := eval.Evaluate(transcript(
		agent(models.SegmentGreeting, "Hello, thanks for calling."),
	))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func forbiddenSequenceRule() rules.Rule {
	return rules.Rule{
		ID:        "third_party_disclosure",
		AppliesTo: []string{models.PersonaCollections},
		Category:  rules.CategoryTranscript,
		Severity:  models.SeverityCritical,
		Weight:    40,
		Detect: rules.Detection{
			Strategy:      rules.StrategyOrdering,
			Speaker:       models.SpeakerCustomer,
			SecondSpeaker: models.SpeakerAgent,
			Forbidden:     true,
			First:         rules.PhraseSet{"en": {"calling for my brother"}},
			Second:        rules.PhraseSet{"en": {"the balance is"}},
		},
	}
}

func TestTranscriptEvaluator_ForbiddenSequenceFires(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{forbiddenSequenceRule()})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		customer(models.SegmentBody, "I'm calling for my brother."),
		agent(models.SegmentBody, "Sure, the balance is $2,400."),
	))
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
}

func TestTranscriptEvaluator_ForbiddenSequenceRequiresLaterTurn(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{forbiddenSequenceRule()})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	// The agent declines in an earlier turn; the disclosure phrase never
	// appears after the third-party request.
	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "I can say the balance is only to the account holder."),
		customer(models.SegmentBody, "I'm calling for my brother."),
		agent(models.SegmentBody, "Then I can't share account details."),
	))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func lexiconRule(maxTurns int) rules.Rule {
	return rules.Rule{
		ID:        "tone_too_casual",
		AppliesTo: []string{"all"},
		Category:  rules.CategoryTranscript,
		Severity:  models.SeverityModerate,
		Weight:    10,
		Detect: rules.Detection{
			Strategy: rules.StrategyLexicon,
			Speaker:  models.SpeakerAgent,
			MaxTurns: maxTurns,
			Lexicon:  rules.PhraseSet{"en": {"no worries", "gonna", "awesome"}},
		},
	}
}

func TestTranscriptEvaluator_LexiconWithinLimit(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{lexiconRule(1)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "No worries, I can fix that."),
		agent(models.SegmentBody, "Your payment posted yesterday."),
	))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func TestTranscriptEvaluator_LexiconExceedsLimit(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{lexiconRule(1)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "No worries, I can fix that."),
		agent(models.SegmentBody, "Awesome, gonna get that done."),
	))
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Passed)
	assert.Contains(t, findings[0].Reason, "2 turns")
}

func TestTranscriptEvaluator_LexiconCountsTurnsNotTerms(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{lexiconRule(1)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	// Three terms in a single turn still count as one turn.
	findings := eval.Evaluate(transcript(
		agent(models.SegmentBody, "No worries, awesome, gonna handle it."),
	))
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
}

func TestTranscriptEvaluator_PersonaFiltering(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{orderingRule(false)})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	tr := transcript(agent(models.SegmentBody, "Your balance is $500."))
	tr.PersonaID = models.PersonaRAM
	findings := eval.Evaluate(tr)
	assert.Empty(t, findings, "collections-only rules must not run for ram")
}

func TestTranscriptEvaluator_Deterministic(t *testing.T) {
	catalog := testCatalog(t, []rules.Rule{
		presenceRule("mini_miranda", false),
		orderingRule(false),
		lexiconRule(1),
	})
	eval := NewTranscriptEvaluator(newTestLogger(), catalog)

	tr := transcript(
		agent(models.SegmentGreeting, "This is an attempt to collect a debt. Confirm the last four?"),
		customer(models.SegmentGreeting, "1234."),
		agent(models.SegmentBody, "Your balance is $500. No worries."),
	)

	first := eval.Evaluate(tr)
	second := eval.Evaluate(tr)
	assert.Equal(t, first, second)
}
