package summary

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeProvider struct {
	name          string
	initErr       error
	text          string
	err           error
	calls         int
	gotTranscript *models.Transcript
}

func (p *fakeProvider) Initialize() error { return p.initErr }
func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) Summarize(ctx context.Context, transcript *models.Transcript, run *models.AuditRun, findings []models.Finding) (string, error) {
	p.calls++
	p.gotTranscript = transcript
	return p.text, p.err
}

func testRun() *models.AuditRun {
	return &models.AuditRun{
		TranscriptID: "t-1",
		Score:        37.5,
		SeverityBand: models.BandModerate,
	}
}

func testTranscript() *models.Transcript {
	return &models.Transcript{
		ID:        "t-1",
		PersonaID: "collections_agent",
		Language:  "en",
		Turns: []models.Turn{
			{Speaker: models.SpeakerAgent, Text: "Hello, this is Riley on a recorded line.", Segment: models.SegmentGreeting},
			{Speaker: models.SpeakerCustomer, Text: "Hi, what is this about?"},
		},
	}
}

func TestProviderManager_EmptyChain(t *testing.T) {
	m := NewProviderManager(newTestLogger())

	_, err := m.Summarize(context.Background(), testTranscript(), testRun(), nil)
	assert.True(t, errors.IsAny(err, errors.ErrNoProviderAvailable))
}

func TestProviderManager_RegisterProvider_InitFailureSkips(t *testing.T) {
	m := NewProviderManager(newTestLogger())

	bad := &fakeProvider{name: "bad", initErr: errors.New("no api key")}
	assert.Error(t, m.RegisterProvider(bad))
	assert.Empty(t, m.Providers())

	good := &fakeProvider{name: "good", text: "summary"}
	require.NoError(t, m.RegisterProvider(good))
	assert.Equal(t, []string{"good"}, m.Providers())
}

func TestProviderManager_Summarize_FirstSuccessWins(t *testing.T) {
	m := NewProviderManager(newTestLogger())
	first := &fakeProvider{name: "first", text: "from first"}
	second := &fakeProvider{name: "second", text: "from second"}
	require.NoError(t, m.RegisterProvider(first))
	require.NoError(t, m.RegisterProvider(second))

	text, err := m.Summarize(context.Background(), testTranscript(), testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, "from first", text)
	assert.Equal(t, 0, second.calls, "second provider not consulted")
}

func TestProviderManager_Summarize_FallsThroughOnError(t *testing.T) {
	m := NewProviderManager(newTestLogger())
	failing := &fakeProvider{name: "llm", err: errors.New("upstream 500")}
	fallback := &fakeProvider{name: "rule_based", text: "Moderate: one failure."}
	require.NoError(t, m.RegisterProvider(failing))
	require.NoError(t, m.RegisterProvider(fallback))

	text, err := m.Summarize(context.Background(), testTranscript(), testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Moderate: one failure.", text)
	assert.Equal(t, 1, failing.calls)
}

func TestProviderManager_Summarize_EmptyTextIsFailure(t *testing.T) {
	m := NewProviderManager(newTestLogger())
	empty := &fakeProvider{name: "empty"}
	fallback := &fakeProvider{name: "rule_based", text: "text"}
	require.NoError(t, m.RegisterProvider(empty))
	require.NoError(t, m.RegisterProvider(fallback))

	text, err := m.Summarize(context.Background(), testTranscript(), testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, "text", text)
}

func TestProviderManager_Summarize_ForwardsTranscript(t *testing.T) {
	m := NewProviderManager(newTestLogger())
	provider := &fakeProvider{name: "llm", text: "summary"}
	require.NoError(t, m.RegisterProvider(provider))

	transcript := testTranscript()
	_, err := m.Summarize(context.Background(), transcript, testRun(), nil)
	require.NoError(t, err)

	require.NotNil(t, provider.gotTranscript)
	assert.Equal(t, transcript.ID, provider.gotTranscript.ID)
	assert.Len(t, provider.gotTranscript.Turns, 2)
}

func TestProviderManager_Summarize_AllFail(t *testing.T) {
	m := NewProviderManager(newTestLogger())
	require.NoError(t, m.RegisterProvider(&fakeProvider{name: "a", err: errors.New("down")}))
	require.NoError(t, m.RegisterProvider(&fakeProvider{name: "b", err: errors.ErrSummaryUnavailable}))

	_, err := m.Summarize(context.Background(), testTranscript(), testRun(), nil)
	assert.True(t, errors.IsAny(err, errors.ErrSummaryUnavailable))
}

func TestRuleBasedProvider_AlwaysProduces(t *testing.T) {
	p := NewRuleBasedProvider(newTestLogger())
	require.NoError(t, p.Initialize())
	assert.Equal(t, "rule_based", p.Name())

	run := testRun()
	findings := []models.Finding{
		{RuleID: "missing_mini_miranda", Passed: false, Severity: models.SeverityCritical, Reason: "no required phrase found in segment greeting"},
		{RuleID: "has_greeting", Passed: true, Severity: models.SeverityLow, Reason: "required phrase present"},
	}

	text, err := p.Summarize(context.Background(), nil, run, findings)
	require.NoError(t, err)
	assert.Equal(t, "Moderate: no required phrase found in segment greeting.", text)

	text, err = p.Summarize(context.Background(), nil, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "Moderate: no rule failures.", text)
}
