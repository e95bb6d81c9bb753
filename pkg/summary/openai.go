package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/models"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
	openAITimeout      = 30 * time.Second
)

// OpenAIProvider generates outcome summaries through the OpenAI chat
// completions API.
type OpenAIProvider struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI summary provider.
func NewOpenAIProvider(logger *logrus.Logger, model string) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		logger: logger,
		apiURL: defaultOpenAIURL,
		model:  model,
		client: &http.Client{Timeout: openAITimeout},
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Initialize reads the API key from the environment.
func (p *OpenAIProvider) Initialize() error {
	p.apiKey = os.Getenv("OPENAI_API_KEY")
	if p.apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	p.logger.Info("OpenAI summary provider initialized successfully")
	return nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize asks the model for a two-to-three sentence narrative of the
// audit outcome, grounded in the transcript text.
func (p *OpenAIProvider) Summarize(ctx context.Context, transcript *models.Transcript, run *models.AuditRun, findings []models.Finding) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a QA supervisor reviewing contact-center call audits. Summarize audit outcomes factually in two to three sentences. Do not invent findings."},
			{Role: "user", Content: buildPrompt(transcript, run, findings)},
		},
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create OpenAI request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request to OpenAI API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI API returned non-200 status code: %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode OpenAI response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty summary in OpenAI response")
	}

	p.logger.WithFields(logrus.Fields{
		"transcript_id": run.TranscriptID,
		"run_id":        run.ID,
	}).Debug("OpenAI summary received")
	return text, nil
}

func buildPrompt(transcript *models.Transcript, run *models.AuditRun, findings []models.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Audit of transcript %s: score %.1f, severity band %s.\n",
		run.TranscriptID, run.Score, run.SeverityBand)

	if transcript != nil && len(transcript.Turns) > 0 {
		sb.WriteString("\nTranscript:\n")
		for _, turn := range transcript.Turns {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Speaker, turn.Text)
		}
		sb.WriteString("\nFindings:\n")
	}

	failed := 0
	for _, f := range findings {
		if !f.Passed {
			failed++
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Severity, f.RuleID, f.Reason)
		}
	}
	if failed == 0 {
		sb.WriteString("No rules failed.\n")
	}
	sb.WriteString("Write a brief summary of this audit outcome for a QA supervisor.")
	return sb.String()
}
