package synthetic

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callaudit-server/pkg/audit"
	"callaudit-server/pkg/models"
	"callaudit-server/pkg/rules"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestScenarios_CoverBothPersonasAndLanguages(t *testing.T) {
	seen := map[string]bool{}
	ids := map[string]bool{}
	for _, s := range Scenarios() {
		assert.False(t, ids[s.ID], "duplicate scenario id %s", s.ID)
		ids[s.ID] = true
		seen[s.PersonaID+"/"+s.Language] = true
	}

	for _, combo := range []string{"collections/en", "collections/es", "ram/en", "ram/es"} {
		assert.True(t, seen[combo], "no scenario for %s", combo)
	}
}

func TestGenerator_Build(t *testing.T) {
	g := NewGenerator(newTestLogger())

	for _, s := range Scenarios() {
		tr, err := g.Build(s)
		require.NoError(t, err, "scenario %s", s.ID)

		assert.NotEmpty(t, tr.ID)
		assert.Equal(t, s.PersonaID, tr.PersonaID)
		assert.Equal(t, s.Language, tr.Language)
		assert.Equal(t, s.RiskLevel, tr.IntendedRiskLevel)
		assert.Equal(t, s.ID, tr.ScenarioID)
		assert.NotEmpty(t, tr.Turns, "scenario %s has no turns", s.ID)
		assert.False(t, tr.CreatedAt.IsZero())
	}
}

func TestGenerator_Build_UniqueIDs(t *testing.T) {
	g := NewGenerator(newTestLogger())
	s := Scenarios()[0]

	a, err := g.Build(s)
	require.NoError(t, err)
	b, err := g.Build(s)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestGenerator_Build_UnknownBlock(t *testing.T) {
	g := NewGenerator(newTestLogger())

	_, err := g.Build(Scenario{
		ID:        "bogus",
		PersonaID: models.PersonaCollections,
		Language:  "en",
		Blocks:    []string{"greeting_full", "body_does_not_exist"},
	})
	assert.Error(t, err)
}

func TestGenerator_BuildAll(t *testing.T) {
	g := NewGenerator(newTestLogger())

	batch, err := g.BuildAll()
	require.NoError(t, err)
	assert.Len(t, batch, len(Scenarios()))
}

// Every scenario's expected findings must match what the evaluator
// actually produces for its transcript. This keeps the generator and
// the rule catalog honest against each other.
func TestScenarios_ExpectedFindingsMatchEvaluator(t *testing.T) {
	catalog, err := rules.DefaultCatalog(rules.Thresholds{})
	require.NoError(t, err)

	g := NewGenerator(newTestLogger())
	eval := audit.NewTranscriptEvaluator(newTestLogger(), catalog)

	for _, s := range Scenarios() {
		t.Run(s.ID, func(t *testing.T) {
			tr, err := g.Build(s)
			require.NoError(t, err)

			failed := map[string]bool{}
			for _, f := range eval.Evaluate(*tr) {
				if !f.Passed {
					failed[f.RuleID] = true
				}
			}

			expected := map[string]bool{}
			for _, id := range s.ExpectedFindings {
				expected[id] = true
			}

			for id := range expected {
				assert.True(t, failed[id], "scenario %s: expected failure %s did not fire", s.ID, id)
			}
			for id := range failed {
				assert.True(t, expected[id], "scenario %s: unexpected failure %s", s.ID, id)
			}
		})
	}
}

func TestScenarios_CleanScenariosHaveNoExpectedFindings(t *testing.T) {
	for _, s := range Scenarios() {
		if s.RiskLevel == "low" {
			assert.Empty(t, s.ExpectedFindings, "scenario %s", s.ID)
		}
	}
}
