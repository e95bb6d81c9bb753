package audit

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/models"
	"callaudit-server/pkg/rules"
)

// snippetMaxLen bounds quoted evidence carried on a finding.
const snippetMaxLen = 200

// TranscriptEvaluator applies persona-applicable transcript rules to a
// transcript's turns. Evaluation is deterministic and side-effect-free:
// the same transcript and catalog always produce the same findings.
type TranscriptEvaluator struct {
	logger  *logrus.Logger
	catalog *rules.Catalog
}

// NewTranscriptEvaluator creates a transcript evaluator over a catalog.
func NewTranscriptEvaluator(logger *logrus.Logger, catalog *rules.Catalog) *TranscriptEvaluator {
	return &TranscriptEvaluator{
		logger:  logger,
		catalog: catalog,
	}
}

// Evaluate runs every applicable transcript rule and returns one
// finding per rule that had a chance to fire. Rules scoped to a segment
// the transcript never enters, or with no phrases for the transcript's
// language, are skipped entirely: no finding, no score contribution.
func (e *TranscriptEvaluator) Evaluate(t models.Transcript) []models.Finding {
	applicable := e.catalog.RulesFor(t.PersonaID, rules.CategoryTranscript)
	findings := make([]models.Finding, 0, len(applicable))

	for _, rule := range applicable {
		if rule.Detect.Segment != "" && !hasSegment(t, rule.Detect.Segment) {
			e.logger.WithFields(logrus.Fields{
				"transcript_id": t.ID,
				"rule_id":       rule.ID,
				"segment":       rule.Detect.Segment,
			}).Debug("Rule skipped, segment not present in transcript")
			continue
		}

		passed, reason, snippet, applies := e.evaluateRule(rule, t)
		if !applies {
			continue
		}

		findings = append(findings, models.Finding{
			TranscriptID: t.ID,
			RuleID:       rule.ID,
			Passed:       passed,
			Severity:     rule.Severity,
			Reason:       reason,
			Snippet:      truncateSnippet(snippet),
			Weight:       rule.Weight,
		})
	}

	return findings
}

// evaluateRule dispatches on the closed strategy set. The final return
// value reports applicability: false means the rule could not fire for
// this transcript and must not appear in the findings.
func (e *TranscriptEvaluator) evaluateRule(rule rules.Rule, t models.Transcript) (passed bool, reason, snippet string, applies bool) {
	switch rule.Detect.Strategy {
	case rules.StrategyPresence:
		return evaluatePresence(rule.Detect, t)
	case rules.StrategyOrdering:
		return evaluateOrdering(rule.Detect, t)
	case rules.StrategyLexicon:
		return evaluateLexicon(rule.Detect, t)
	default:
		// Unknown strategies are rejected at catalog load; treat as
		// inapplicable if one slips through.
		e.logger.WithField("rule_id", rule.ID).Error("Unknown detection strategy at evaluation time")
		return false, "", "", false
	}
}

func evaluatePresence(d rules.Detection, t models.Transcript) (bool, string, string, bool) {
	phrases := d.Phrases.PhrasesFor(t.Language)
	if len(phrases) == 0 {
		return false, "", "", false
	}

	turns := scopedTurns(t, d.Segment, d.Speaker)
	idx, phrase := firstMatch(turns, phrases)

	scope := scopeLabel(d.Segment, d.Speaker)
	if d.Forbidden {
		if idx >= 0 {
			return false, fmt.Sprintf("disqualifying phrase %q found%s", phrase, scope), turns[idx].Text, true
		}
		return true, fmt.Sprintf("no disqualifying phrase found%s", scope), "", true
	}

	if idx >= 0 {
		return true, fmt.Sprintf("required phrase %q present%s", phrase, scope), turns[idx].Text, true
	}
	return false, fmt.Sprintf("no required phrase found%s", scope), "", true
}

func evaluateOrdering(d rules.Detection, t models.Transcript) (bool, string, string, bool) {
	first := d.First.PhrasesFor(t.Language)
	second := d.Second.PhrasesFor(t.Language)
	if len(first) == 0 || len(second) == 0 {
		return false, "", "", false
	}

	secondSpeaker := d.SecondSpeaker
	if secondSpeaker == "" {
		secondSpeaker = d.Speaker
	}

	turns := scopedTurns(t, d.Segment, "")
	firstIdx, firstPhrase := firstSpeakerMatch(turns, first, d.Speaker)
	secondIdx, secondPhrase := firstSpeakerMatch(turns, second, secondSpeaker)

	if d.Forbidden {
		// The First-then-Second sequence itself is the violation. The
		// Second match must fall strictly after First so a request and
		// a refusal in the same turn never fire.
		if firstIdx >= 0 {
			if idx, phrase := firstSpeakerMatchFrom(turns, second, secondSpeaker, firstIdx+1); idx >= 0 {
				return false, fmt.Sprintf("phrase %q follows %q", phrase, firstPhrase), turns[idx].Text, true
			}
		}
		return true, "no gated phrase sequence found", "", true
	}

	if secondIdx < 0 {
		return true, "no gated phrase present", "", true
	}
	if firstIdx < 0 {
		return false, fmt.Sprintf("phrase %q occurs without any required preceding phrase", secondPhrase), turns[secondIdx].Text, true
	}
	if firstIdx > secondIdx {
		return false, fmt.Sprintf("phrase %q occurs before required phrase %q", secondPhrase, firstPhrase), turns[secondIdx].Text, true
	}
	return true, fmt.Sprintf("phrase %q preceded by required phrase %q", secondPhrase, firstPhrase), "", true
}

func evaluateLexicon(d rules.Detection, t models.Transcript) (bool, string, string, bool) {
	terms := d.Lexicon.PhrasesFor(t.Language)
	if len(terms) == 0 {
		return false, "", "", false
	}

	turns := scopedTurns(t, d.Segment, d.Speaker)
	count := 0
	snippet := ""
	for _, turn := range turns {
		if _, phrase := matchText(turn.Text, terms); phrase != "" {
			count++
			if snippet == "" {
				snippet = turn.Text
			}
		}
	}

	if count > d.MaxTurns {
		return false, fmt.Sprintf("%d turns contain negative-tone terms, exceeds limit %d", count, d.MaxTurns), snippet, true
	}
	return true, fmt.Sprintf("%d turns contain negative-tone terms, within limit %d", count, d.MaxTurns), "", true
}

// hasSegment reports whether any turn carries the segment label,
// regardless of speaker.
func hasSegment(t models.Transcript, segment models.Segment) bool {
	for _, turn := range t.Turns {
		if turn.Segment == segment {
			return true
		}
	}
	return false
}

// scopedTurns returns the turns within the rule's segment and speaker
// scope, preserving transcript order.
func scopedTurns(t models.Transcript, segment models.Segment, speaker models.Speaker) []models.Turn {
	var out []models.Turn
	for _, turn := range t.Turns {
		if segment != "" && turn.Segment != segment {
			continue
		}
		if speaker != "" && turn.Speaker != speaker {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// firstMatch returns the index of the first turn containing any phrase,
// and the phrase that matched. Matching is case-insensitive.
func firstMatch(turns []models.Turn, phrases []string) (int, string) {
	for i, turn := range turns {
		if ok, phrase := matchText(turn.Text, phrases); ok {
			return i, phrase
		}
	}
	return -1, ""
}

// firstSpeakerMatch is firstMatch restricted to turns by a speaker. An
// empty speaker matches every turn.
func firstSpeakerMatch(turns []models.Turn, phrases []string, speaker models.Speaker) (int, string) {
	return firstSpeakerMatchFrom(turns, phrases, speaker, 0)
}

func firstSpeakerMatchFrom(turns []models.Turn, phrases []string, speaker models.Speaker, start int) (int, string) {
	for i := start; i < len(turns); i++ {
		if speaker != "" && turns[i].Speaker != speaker {
			continue
		}
		if ok, phrase := matchText(turns[i].Text, phrases); ok {
			return i, phrase
		}
	}
	return -1, ""
}

func matchText(text string, phrases []string) (bool, string) {
	lowered := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lowered, strings.ToLower(p)) {
			return true, p
		}
	}
	return false, ""
}

func scopeLabel(segment models.Segment, speaker models.Speaker) string {
	switch {
	case segment != "" && speaker != "":
		return fmt.Sprintf(" in segment %s (speaker %s)", segment, speaker)
	case segment != "":
		return fmt.Sprintf(" in segment %s", segment)
	case speaker != "":
		return fmt.Sprintf(" (speaker %s)", speaker)
	}
	return ""
}

func truncateSnippet(s string) string {
	if len(s) <= snippetMaxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= snippetMaxLen {
		return s
	}
	return string(runes[:snippetMaxLen])
}
