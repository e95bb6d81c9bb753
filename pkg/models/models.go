package models

import (
	"math"
	"time"
)

// Severity classifies how serious a rule violation is. The set is
// ordered; Critical is the maximal value and carries override power in
// banding (a single failed critical finding forces the critical band).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a member of the fixed severity set.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Band is the coarse outcome category for a scored audit run.
type Band string

const (
	BandGood     Band = "good"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// Segment is the coarse call phase a turn belongs to. Rules use it to
// scope their search window.
type Segment string

const (
	SegmentGreeting Segment = "greeting"
	SegmentBody     Segment = "body"
	SegmentClosing  Segment = "closing"
)

// Persona identifiers for the simulated agent roles.
const (
	PersonaCollections = "collections"
	PersonaRAM         = "ram"
)

// Turn is one utterance in a transcript. Turns are ordered and order is
// semantically meaningful (ordering rules depend on it).
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Segment Segment `json:"segment,omitempty"`
}

// Transcript is the unit of audit. It is created once by the generator
// (or a test fixture) and immutable afterwards; re-evaluation appends
// new audit runs instead of mutating it.
//
// IntendedRiskLevel and ExpectedFindings are generation ground truth
// used only for validation and testing. Evaluators never read them.
type Transcript struct {
	ID                string    `json:"id"`
	PersonaID         string    `json:"persona_id"`
	Language          string    `json:"language"` // "en" | "es"
	IntendedRiskLevel string    `json:"intended_risk_level"`
	ScenarioID        string    `json:"scenario_id"`
	ExpectedFindings  []string  `json:"expected_findings"`
	Turns             []Turn    `json:"turns"`
	CreatedAt         time.Time `json:"created_at"`
}

// DPAEvent is one raw desktop-activity observation: the agent landed on
// a screen at a point in time relative to call start.
type DPAEvent struct {
	TranscriptID string  `json:"transcript_id"`
	TimestampSec float64 `json:"timestamp_sec"`
	ScreenID     string  `json:"screen_id"`
}

// DPAMetrics is the derived telemetry summary for one transcript.
// IdleRatio is always recomputed from IdleSec/CallDurationSec; a stored
// ratio that disagrees with the recomputed value marks the metrics
// record as invalid.
type DPAMetrics struct {
	TranscriptID    string             `json:"transcript_id"`
	CallDurationSec float64            `json:"call_duration_sec"`
	IdleSec         float64            `json:"idle_sec"`
	IdleRatio       float64            `json:"idle_ratio"`
	MaxDwellSec     float64            `json:"max_dwell_sec"`
	DwellByScreen   map[string]float64 `json:"dwell_by_screen"`
}

// Finding is the result of evaluating one rule against one transcript
// (plus metrics). Passed=true means the rule's condition was satisfied,
// i.e. no violation. Weight is copied from the rule at evaluation time
// so the record stays auditable if the catalog later changes.
type Finding struct {
	ID           int64    `json:"id,omitempty"`
	TranscriptID string   `json:"transcript_id"`
	RuleID       string   `json:"rule_id"`
	Passed       bool     `json:"passed"`
	Severity     Severity `json:"severity"`
	Reason       string   `json:"reason"`
	Snippet      string   `json:"snippet,omitempty"`
	Weight       float64  `json:"weight"`
}

// AuditRun is one scoring pass over one transcript. Multiple runs may
// exist per transcript; consumers read the latest.
type AuditRun struct {
	ID             int64     `json:"id,omitempty"`
	TranscriptID   string    `json:"transcript_id"`
	Score          float64   `json:"score"`
	SeverityBand   Band      `json:"severity_band"`
	HasCritical    bool      `json:"has_critical"`
	OutcomeSummary string    `json:"outcome_summary,omitempty"`
	RunAt          time.Time `json:"run_at"`
}

// Override is a reviewer's suppression of a finding or whole
// transcript. It never mutates the finding or audit run; it is
// consulted only when building effective views, and is void once
// ExpiresAt is in the past.
type Override struct {
	ID           int64      `json:"id,omitempty"`
	TranscriptID string     `json:"transcript_id"`
	FindingID    *int64     `json:"finding_id,omitempty"` // nil = whole transcript
	OverriddenBy string     `json:"overridden_by"`
	Reason       string     `json:"reason"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the override is in effect at the given time.
func (o Override) Active(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// DisplayScore rounds a raw score to one decimal place for
// presentation. Banding always compares the unrounded value.
func DisplayScore(score float64) float64 {
	return math.Round(score*10) / 10
}
