package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"callaudit-server/pkg/audit"
	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
)

// AuditView is the presentation form of one audit run: the stored run
// plus the override-adjusted failure list. Overrides never change the
// stored score or band, only this view.
type AuditView struct {
	Run             models.AuditRun `json:"run"`
	PersonaID       string          `json:"persona_id"`
	ScenarioID      string          `json:"scenario_id,omitempty"`
	FailedRules     []string        `json:"failed_rules"`
	EffectiveFailed []string        `json:"effective_failed"`
	Actionable      bool            `json:"actionable"`
}

// auditsHandler lists the latest audit run per transcript. With
// ?actionable=true only runs that still need reviewer attention are
// returned.
func (s *Server) auditsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runs, err := s.store.ListLatestAuditRuns()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list audit runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list audit runs")
		return
	}

	actionableOnly := r.URL.Query().Get("actionable") == "true"
	now := time.Now().UTC()

	views := make([]AuditView, 0, len(runs))
	for _, run := range runs {
		view, err := s.buildAuditView(run, now)
		if err != nil {
			s.logger.WithError(err).WithField("transcript_id", run.TranscriptID).Warn("Failed to build audit view")
			continue
		}
		if actionableOnly && !view.Actionable {
			continue
		}
		views = append(views, view)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"audits": views,
		"count":  len(views),
	})
}

func (s *Server) buildAuditView(run models.AuditRun, now time.Time) (AuditView, error) {
	findings, err := s.store.GetFindings(run.TranscriptID)
	if err != nil {
		return AuditView{}, err
	}
	overrides, err := s.store.GetOverrides(run.TranscriptID)
	if err != nil {
		return AuditView{}, err
	}

	var personaID, scenarioID string
	if t, err := s.store.GetTranscript(run.TranscriptID); err == nil {
		personaID = t.PersonaID
		scenarioID = t.ScenarioID
	}

	wholeTranscript := false
	suppressed := make(map[int64]bool)
	for _, o := range overrides {
		if !o.Active(now) {
			continue
		}
		if o.FindingID == nil {
			wholeTranscript = true
		} else {
			suppressed[*o.FindingID] = true
		}
	}

	failed := make([]string, 0)
	effective := make([]string, 0)
	for _, f := range findings {
		if f.Passed {
			continue
		}
		failed = append(failed, f.RuleID)
		if wholeTranscript || suppressed[f.ID] {
			continue
		}
		effective = append(effective, f.RuleID)
	}

	// A run needs attention when it carries a critical failure or its
	// score reaches the configured threshold. Only a whole-transcript
	// override suppresses it; finding-level overrides trim the
	// effective list without changing actionability.
	actionable := (run.HasCritical || run.Score >= s.scoreThreshold) && !wholeTranscript

	if run.OutcomeSummary == "" {
		run.OutcomeSummary = audit.FallbackSummary(&run, findings)
	}

	return AuditView{
		Run:             run,
		PersonaID:       personaID,
		ScenarioID:      scenarioID,
		FailedRules:     failed,
		EffectiveFailed: effective,
		Actionable:      actionable,
	}, nil
}

// transcriptHandler serves GET /api/transcripts/{id}: the transcript,
// its findings, its latest run and any overrides.
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, "transcript id required")
		return
	}

	transcript, err := s.store.GetTranscript(id)
	if err != nil {
		if errors.IsAny(err, errors.ErrTranscriptNotFound) {
			s.writeError(w, http.StatusNotFound, "transcript not found")
			return
		}
		s.logger.WithError(err).WithField("transcript_id", id).Error("Failed to load transcript")
		s.writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	findings, err := s.store.GetFindings(id)
	if err != nil {
		s.logger.WithError(err).WithField("transcript_id", id).Error("Failed to load findings")
		s.writeError(w, http.StatusInternalServerError, "failed to load findings")
		return
	}

	payload := map[string]interface{}{
		"transcript": transcript,
		"findings":   findings,
	}

	if run, err := s.store.GetLatestAuditRun(id); err == nil {
		if run.OutcomeSummary == "" {
			run.OutcomeSummary = audit.FallbackSummary(run, findings)
		}
		payload["latest_run"] = run
	} else if !errors.IsAny(err, errors.ErrNotFound) {
		s.logger.WithError(err).WithField("transcript_id", id).Warn("Failed to load latest run")
	}

	if overrides, err := s.store.GetOverrides(id); err == nil {
		payload["overrides"] = overrides
	}

	s.writeJSON(w, http.StatusOK, payload)
}

type overrideRequest struct {
	TranscriptID string     `json:"transcript_id"`
	FindingID    *int64     `json:"finding_id,omitempty"`
	Reason       string     `json:"reason"`
	OverriddenBy string     `json:"overridden_by"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// overridesHandler serves POST /api/overrides, recording a reviewer
// override against a transcript or a single finding.
func (s *Server) overridesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TranscriptID == "" {
		s.writeError(w, http.StatusBadRequest, "transcript_id is required")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		s.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if strings.TrimSpace(req.OverriddenBy) == "" {
		s.writeError(w, http.StatusBadRequest, "overridden_by is required")
		return
	}

	if _, err := s.store.GetTranscript(req.TranscriptID); err != nil {
		if errors.IsAny(err, errors.ErrTranscriptNotFound) {
			s.writeError(w, http.StatusNotFound, "transcript not found")
			return
		}
		s.logger.WithError(err).Error("Failed to check transcript for override")
		s.writeError(w, http.StatusInternalServerError, "failed to record override")
		return
	}

	override := &models.Override{
		TranscriptID: req.TranscriptID,
		FindingID:    req.FindingID,
		Reason:       req.Reason,
		OverriddenBy: req.OverriddenBy,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    req.ExpiresAt,
	}

	if err := s.store.AddOverride(override); err != nil {
		s.logger.WithError(err).WithField("transcript_id", req.TranscriptID).Error("Failed to record override")
		s.writeError(w, http.StatusInternalServerError, "failed to record override")
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"transcript_id": override.TranscriptID,
		"override_id":   override.ID,
		"overridden_by": override.OverriddenBy,
	}).Info("Override recorded")

	s.writeJSON(w, http.StatusCreated, override)
}
