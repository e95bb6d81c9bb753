package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id                  TEXT PRIMARY KEY,
	persona_id          TEXT NOT NULL,
	language            TEXT NOT NULL,
	intended_risk_level TEXT NOT NULL,
	scenario_id         TEXT NOT NULL,
	expected_findings   TEXT NOT NULL,
	turns               TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dpa_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id TEXT NOT NULL,
	screen        TEXT NOT NULL,
	timestamp_sec REAL NOT NULL,
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id)
);

CREATE TABLE IF NOT EXISTS dpa_metrics (
	transcript_id     TEXT PRIMARY KEY,
	call_duration_sec REAL NOT NULL,
	idle_sec          REAL NOT NULL,
	idle_ratio        REAL NOT NULL,
	max_dwell_sec     REAL NOT NULL,
	dwell_by_screen   TEXT NOT NULL,
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id)
);

CREATE TABLE IF NOT EXISTS findings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	passed        INTEGER NOT NULL,
	severity      TEXT NOT NULL,
	reason        TEXT NOT NULL,
	snippet       TEXT NOT NULL,
	weight        REAL NOT NULL,
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id)
);

CREATE TABLE IF NOT EXISTS audit_runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id   TEXT NOT NULL,
	score           REAL NOT NULL,
	severity_band   TEXT NOT NULL,
	has_critical    INTEGER NOT NULL,
	outcome_summary TEXT NOT NULL,
	run_at          TEXT NOT NULL,
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id)
);

CREATE TABLE IF NOT EXISTS overrides (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id TEXT NOT NULL,
	finding_id    INTEGER,
	reason        TEXT NOT NULL,
	overridden_by TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	expires_at    TEXT,
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id)
);

CREATE INDEX IF NOT EXISTS idx_findings_transcript ON findings(transcript_id);
CREATE INDEX IF NOT EXISTS idx_audit_runs_transcript ON audit_runs(transcript_id);
CREATE INDEX IF NOT EXISTS idx_overrides_transcript ON overrides(transcript_id);
`

// Store persists transcripts, desktop telemetry, findings, audit runs
// and overrides in SQLite.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewStore opens the database at path and applies the schema. The
// in-memory DSN ":memory:" is accepted for tests.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database", map[string]interface{}{"path": path})
	}
	// Single writer connection. SQLite serializes writes anyway, and a
	// pool of connections would each see a distinct ":memory:" database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set journal mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	logger.WithField("path", path).Info("Database initialized")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveTranscript inserts or replaces a transcript.
func (s *Store) SaveTranscript(t *models.Transcript) error {
	turnsJSON, err := json.Marshal(t.Turns)
	if err != nil {
		return errors.Wrap(err, "marshal turns")
	}
	expectedJSON, err := json.Marshal(t.ExpectedFindings)
	if err != nil {
		return errors.Wrap(err, "marshal expected findings")
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO transcripts
		 (id, persona_id, language, intended_risk_level, scenario_id, expected_findings, turns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PersonaID, t.Language, t.IntendedRiskLevel, t.ScenarioID,
		string(expectedJSON), string(turnsJSON), t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(errors.ErrPersistenceFailure, "save transcript",
			map[string]interface{}{"transcript_id": t.ID, "cause": err.Error()})
	}
	return nil
}

// GetTranscript loads a transcript by ID.
func (s *Store) GetTranscript(id string) (*models.Transcript, error) {
	var t models.Transcript
	var expectedJSON, turnsJSON, createdStr string

	err := s.db.QueryRow(
		`SELECT id, persona_id, language, intended_risk_level, scenario_id, expected_findings, turns, created_at
		 FROM transcripts WHERE id = ?`, id,
	).Scan(&t.ID, &t.PersonaID, &t.Language, &t.IntendedRiskLevel, &t.ScenarioID,
		&expectedJSON, &turnsJSON, &createdStr)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrTranscriptNotFound, "get transcript",
			map[string]interface{}{"transcript_id": id})
	}
	if err != nil {
		return nil, errors.Wrap(err, "get transcript", map[string]interface{}{"transcript_id": id})
	}

	if err := json.Unmarshal([]byte(expectedJSON), &t.ExpectedFindings); err != nil {
		return nil, errors.Wrap(err, "unmarshal expected findings")
	}
	if err := json.Unmarshal([]byte(turnsJSON), &t.Turns); err != nil {
		return nil, errors.Wrap(err, "unmarshal turns")
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &t, nil
}

// ListTranscriptIDs returns all transcript IDs ordered by creation time.
func (s *Store) ListTranscriptIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM transcripts ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list transcripts")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan transcript id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveDPA stores the raw desktop events and derived metrics for a
// transcript in one transaction, replacing any prior telemetry.
func (s *Store) SaveDPA(transcriptID string, events []models.DPAEvent, m *models.DPAMetrics) error {
	dwellJSON, err := json.Marshal(m.DwellByScreen)
	if err != nil {
		return errors.Wrap(err, "marshal dwell map")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM dpa_events WHERE transcript_id = ?`, transcriptID); err != nil {
		return errors.Wrap(err, "clear prior events")
	}
	for _, ev := range events {
		if _, err := tx.Exec(
			`INSERT INTO dpa_events (transcript_id, screen, timestamp_sec) VALUES (?, ?, ?)`,
			transcriptID, ev.ScreenID, ev.TimestampSec,
		); err != nil {
			return errors.Wrap(err, "insert event")
		}
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO dpa_metrics
		 (transcript_id, call_duration_sec, idle_sec, idle_ratio, max_dwell_sec, dwell_by_screen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		transcriptID, m.CallDurationSec, m.IdleSec, m.IdleRatio, m.MaxDwellSec, string(dwellJSON),
	); err != nil {
		return errors.Wrap(err, "insert metrics")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrPersistenceFailure, "commit telemetry",
			map[string]interface{}{"transcript_id": transcriptID, "cause": err.Error()})
	}
	return nil
}

// GetDPAMetrics loads derived telemetry metrics for a transcript. A
// transcript with no telemetry returns ErrNotFound.
func (s *Store) GetDPAMetrics(transcriptID string) (*models.DPAMetrics, error) {
	var m models.DPAMetrics
	var dwellJSON string

	err := s.db.QueryRow(
		`SELECT transcript_id, call_duration_sec, idle_sec, idle_ratio, max_dwell_sec, dwell_by_screen
		 FROM dpa_metrics WHERE transcript_id = ?`, transcriptID,
	).Scan(&m.TranscriptID, &m.CallDurationSec, &m.IdleSec, &m.IdleRatio, &m.MaxDwellSec, &dwellJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "get telemetry metrics",
			map[string]interface{}{"transcript_id": transcriptID})
	}
	if err != nil {
		return nil, errors.Wrap(err, "get telemetry metrics")
	}

	if err := json.Unmarshal([]byte(dwellJSON), &m.DwellByScreen); err != nil {
		return nil, errors.Wrap(err, "unmarshal dwell map")
	}
	return &m, nil
}

// SaveAuditResult persists the findings and the audit run for a
// transcript atomically. Prior findings for the transcript are
// replaced so re-auditing does not accumulate duplicates; runs are
// appended and the latest one is authoritative.
func (s *Store) SaveAuditResult(findings []models.Finding, run *models.AuditRun) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM findings WHERE transcript_id = ?`, run.TranscriptID); err != nil {
		return errors.Wrap(err, "clear prior findings")
	}

	for i := range findings {
		res, err := tx.Exec(
			`INSERT INTO findings (transcript_id, rule_id, passed, severity, reason, snippet, weight)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			findings[i].TranscriptID, findings[i].RuleID, boolToInt(findings[i].Passed),
			string(findings[i].Severity), findings[i].Reason, findings[i].Snippet, findings[i].Weight,
		)
		if err != nil {
			return errors.Wrap(err, "insert finding", map[string]interface{}{"rule_id": findings[i].RuleID})
		}
		if id, err := res.LastInsertId(); err == nil {
			findings[i].ID = id
		}
	}

	res, err := tx.Exec(
		`INSERT INTO audit_runs (transcript_id, score, severity_band, has_critical, outcome_summary, run_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.TranscriptID, run.Score, string(run.SeverityBand), boolToInt(run.HasCritical),
		run.OutcomeSummary, run.RunAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "insert audit run")
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrPersistenceFailure, "commit audit result",
			map[string]interface{}{"transcript_id": run.TranscriptID, "cause": err.Error()})
	}

	s.logger.WithFields(logrus.Fields{
		"transcript_id": run.TranscriptID,
		"run_id":        run.ID,
		"findings":      len(findings),
	}).Debug("Saved audit result")
	return nil
}

// GetFindings returns the stored findings for a transcript in insert order.
func (s *Store) GetFindings(transcriptID string) ([]models.Finding, error) {
	rows, err := s.db.Query(
		`SELECT id, transcript_id, rule_id, passed, severity, reason, snippet, weight
		 FROM findings WHERE transcript_id = ? ORDER BY id`, transcriptID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query findings")
	}
	defer rows.Close()

	var out []models.Finding
	for rows.Next() {
		var f models.Finding
		var passed int
		var severity string
		if err := rows.Scan(&f.ID, &f.TranscriptID, &f.RuleID, &passed, &severity,
			&f.Reason, &f.Snippet, &f.Weight); err != nil {
			return nil, errors.Wrap(err, "scan finding")
		}
		f.Passed = passed != 0
		f.Severity = models.Severity(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetLatestAuditRun returns the most recent run for a transcript, or
// ErrNotFound when the transcript was never audited.
func (s *Store) GetLatestAuditRun(transcriptID string) (*models.AuditRun, error) {
	row := s.db.QueryRow(
		`SELECT id, transcript_id, score, severity_band, has_critical, outcome_summary, run_at
		 FROM audit_runs WHERE transcript_id = ? ORDER BY id DESC LIMIT 1`, transcriptID,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "get latest audit run",
			map[string]interface{}{"transcript_id": transcriptID})
	}
	if err != nil {
		return nil, errors.Wrap(err, "get latest audit run")
	}
	return run, nil
}

// ListLatestAuditRuns returns the latest run per transcript, newest first.
func (s *Store) ListLatestAuditRuns() ([]models.AuditRun, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.transcript_id, r.score, r.severity_band, r.has_critical, r.outcome_summary, r.run_at
		 FROM audit_runs r
		 JOIN (SELECT transcript_id, MAX(id) AS max_id FROM audit_runs GROUP BY transcript_id) latest
		   ON r.id = latest.max_id
		 ORDER BY r.id DESC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list audit runs")
	}
	defer rows.Close()

	var out []models.AuditRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan audit run")
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// ListRunsWithoutSummary returns the latest runs whose outcome summary
// is still empty, oldest first. Used by the summary backfill.
func (s *Store) ListRunsWithoutSummary() ([]models.AuditRun, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.transcript_id, r.score, r.severity_band, r.has_critical, r.outcome_summary, r.run_at
		 FROM audit_runs r
		 JOIN (SELECT transcript_id, MAX(id) AS max_id FROM audit_runs GROUP BY transcript_id) latest
		   ON r.id = latest.max_id
		 WHERE r.outcome_summary = ''
		 ORDER BY r.id`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list runs without summary")
	}
	defer rows.Close()

	var out []models.AuditRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan audit run")
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// UpdateOutcomeSummary sets the outcome summary on a stored run.
func (s *Store) UpdateOutcomeSummary(runID int64, summary string) error {
	res, err := s.db.Exec(`UPDATE audit_runs SET outcome_summary = ? WHERE id = ?`, summary, runID)
	if err != nil {
		return errors.Wrap(err, "update outcome summary", map[string]interface{}{"run_id": runID})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(errors.ErrNotFound, "update outcome summary",
			map[string]interface{}{"run_id": runID})
	}
	return nil
}

// AddOverride records a reviewer override. The stored findings and runs
// are never modified; overrides only change how results are presented.
func (s *Store) AddOverride(o *models.Override) error {
	var expiresPtr interface{}
	if o.ExpiresAt != nil {
		expiresPtr = o.ExpiresAt.Format(time.RFC3339Nano)
	}
	var findingPtr interface{}
	if o.FindingID != nil {
		findingPtr = *o.FindingID
	}

	res, err := s.db.Exec(
		`INSERT INTO overrides (transcript_id, finding_id, reason, overridden_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.TranscriptID, findingPtr, o.Reason, o.OverriddenBy,
		o.CreatedAt.Format(time.RFC3339Nano), expiresPtr,
	)
	if err != nil {
		return errors.Wrap(errors.ErrPersistenceFailure, "add override",
			map[string]interface{}{"transcript_id": o.TranscriptID, "cause": err.Error()})
	}
	if id, err := res.LastInsertId(); err == nil {
		o.ID = id
	}
	return nil
}

// GetOverrides returns all overrides recorded for a transcript.
func (s *Store) GetOverrides(transcriptID string) ([]models.Override, error) {
	rows, err := s.db.Query(
		`SELECT id, transcript_id, finding_id, reason, overridden_by, created_at, expires_at
		 FROM overrides WHERE transcript_id = ? ORDER BY id`, transcriptID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query overrides")
	}
	defer rows.Close()

	var out []models.Override
	for rows.Next() {
		var o models.Override
		var findingID sql.NullInt64
		var createdStr string
		var expiresStr sql.NullString
		if err := rows.Scan(&o.ID, &o.TranscriptID, &findingID, &o.Reason, &o.OverriddenBy,
			&createdStr, &expiresStr); err != nil {
			return nil, errors.Wrap(err, "scan override")
		}
		if findingID.Valid {
			v := findingID.Int64
			o.FindingID = &v
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		if expiresStr.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, expiresStr.String); err == nil {
				o.ExpiresAt = &ts
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.AuditRun, error) {
	var run models.AuditRun
	var hasCritical int
	var band string
	var runAtStr string
	if err := row.Scan(&run.ID, &run.TranscriptID, &run.Score, &band, &hasCritical,
		&run.OutcomeSummary, &runAtStr); err != nil {
		return nil, err
	}
	run.SeverityBand = models.Band(band)
	run.HasCritical = hasCritical != 0
	run.RunAt, _ = time.Parse(time.RFC3339Nano, runAtStr)
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
