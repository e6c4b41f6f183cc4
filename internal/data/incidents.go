package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive = "ACTIVE"
	StatusAcked  = "ACKED"
	StatusClosed = "CLOSED"
)

// Incident is one fall-response episode for a camera. At most one ACTIVE
// incident exists per camera; repeat triggers attach to it.
type Incident struct {
	ID              string    `json:"id"`
	CameraID        string    `json:"camera_id"`
	Status          string    `json:"status"`
	Verdict         string    `json:"verdict"`
	SeveritySeed    int       `json:"severity_seed"`
	SeverityCurrent int       `json:"severity_current"`
	RiskScore       float64   `json:"risk_score"`
	TimeDownS       float64   `json:"time_down_s"`
	EscalationStage int       `json:"escalation_stage"`
	Acknowledged    bool      `json:"acknowledged"`
	AckBy           string    `json:"ack_by,omitempty"`
	Confidence      float64   `json:"confidence"`
	ReasonsCurrent  []string  `json:"reasons_current"`
	SummaryText     string    `json:"summary_text,omitempty"`
	PlanVersion     int       `json:"plan_version"`
	Language        string    `json:"language"`
	FramesB64       []string  `json:"frames_b64,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type IncidentModel struct {
	DB DBTX
}

const incidentColumns = `
	id, camera_id, status, verdict, severity_seed, severity_current, risk_score,
	time_down_s, escalation_stage, acknowledged, ack_by, confidence,
	reasons_current, summary_text, plan_version, language, frames_b64,
	created_at, updated_at`

func (m IncidentModel) Create(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Status == "" {
		inc.Status = StatusActive
	}
	if inc.Language == "" {
		inc.Language = "en"
	}

	query := `
		INSERT INTO incidents (
			id, camera_id, status, verdict, severity_seed, severity_current, risk_score,
			time_down_s, escalation_stage, acknowledged, ack_by, confidence,
			reasons_current, summary_text, plan_version, language, frames_b64
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		inc.ID, inc.CameraID, inc.Status, inc.Verdict, inc.SeveritySeed, inc.SeverityCurrent, inc.RiskScore,
		inc.TimeDownS, inc.EscalationStage, inc.Acknowledged, nullString(inc.AckBy), inc.Confidence,
		jsonb(inc.ReasonsCurrent), inc.SummaryText, inc.PlanVersion, inc.Language, jsonb(inc.FramesB64),
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
}

func (m IncidentModel) GetByID(ctx context.Context, id string) (*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	return scanIncident(m.DB.QueryRowContext(ctx, query, id))
}

// GetActiveByCamera returns the camera's ACTIVE incident, if any.
func (m IncidentModel) GetActiveByCamera(ctx context.Context, cameraID string) (*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE camera_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanIncident(m.DB.QueryRowContext(ctx, query, cameraID, StatusActive))
}

// HasActiveForCamera is the cheap existence probe used by the idle gate.
func (m IncidentModel) HasActiveForCamera(ctx context.Context, cameraID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM incidents WHERE camera_id = $1 AND status = $2)`
	var exists bool
	err := m.DB.QueryRowContext(ctx, query, cameraID, StatusActive).Scan(&exists)
	return exists, err
}

type IncidentFilter struct {
	Status      string
	SeverityMin int
	Limit       int
}

func (m IncidentModel) List(ctx context.Context, f IncidentFilter) ([]*Incident, error) {
	where := "WHERE 1=1"
	args := []any{}
	nextArg := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", nextArg)
		args = append(args, f.Status)
		nextArg++
	}
	if f.SeverityMin > 0 {
		where += fmt.Sprintf(" AND severity_current >= $%d", nextArg)
		args = append(args, f.SeverityMin)
		nextArg++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := fmt.Sprintf(`SELECT %s FROM incidents %s ORDER BY created_at DESC LIMIT $%d`,
		incidentColumns, where, nextArg)
	args = append(args, limit)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incs []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incs = append(incs, inc)
	}
	return incs, rows.Err()
}

// ApplyFirstPlan persists the initial grading. Only the first plan may set
// the severity seed and current severity together.
func (m IncidentModel) ApplyFirstPlan(ctx context.Context, id string, version, seed int, verdict string, confidence float64, reasons []string, summary string) error {
	query := `
		UPDATE incidents
		SET plan_version = $1, severity_seed = $2, severity_current = $2, verdict = $3,
		    confidence = $4, reasons_current = $5, summary_text = $6, updated_at = NOW()
		WHERE id = $7`
	return m.exec(ctx, query, version, seed, verdict, confidence, jsonb(reasons), summary, id)
}

// ApplyReplan persists a replanning pass. Replans refresh the narrative but
// never overwrite the seed, verdict or confidence of the standing grade.
func (m IncidentModel) ApplyReplan(ctx context.Context, id string, version int, reasons []string, summary string) error {
	query := `
		UPDATE incidents
		SET plan_version = $1, reasons_current = $2, summary_text = $3, updated_at = NOW()
		WHERE id = $4`
	return m.exec(ctx, query, version, jsonb(reasons), summary, id)
}

// ApplyRegrade persists a verdict/confidence refresh that must not touch the
// severity seed: the strong model's second opinion and replans on repeat
// triggers both land here.
func (m IncidentModel) ApplyRegrade(ctx context.Context, id string, version int, verdict string, confidence float64, reasons []string, summary string) error {
	query := `
		UPDATE incidents
		SET plan_version = $1, verdict = $2, confidence = $3, reasons_current = $4,
		    summary_text = $5, updated_at = NOW()
		WHERE id = $6`
	return m.exec(ctx, query, version, verdict, confidence, jsonb(reasons), summary, id)
}

func (m IncidentModel) UpdateSeverity(ctx context.Context, id string, severity int, timeDownS float64, summary string) error {
	query := `
		UPDATE incidents
		SET severity_current = $1, time_down_s = $2, summary_text = $3, updated_at = NOW()
		WHERE id = $4`
	return m.exec(ctx, query, severity, timeDownS, summary, id)
}

func (m IncidentModel) SetEscalationStage(ctx context.Context, id string, stage int) error {
	query := `UPDATE incidents SET escalation_stage = $1, updated_at = NOW() WHERE id = $2`
	return m.exec(ctx, query, stage, id)
}

func (m IncidentModel) Acknowledge(ctx context.Context, id, ackBy string) error {
	query := `
		UPDATE incidents
		SET acknowledged = TRUE, ack_by = $1, status = $2, updated_at = NOW()
		WHERE id = $3`
	return m.exec(ctx, query, ackBy, StatusAcked, id)
}

// Close marks the incident CLOSED. A non-empty verdict also overwrites the
// stored verdict (false-alarm closes set FALSE_ALARM).
func (m IncidentModel) Close(ctx context.Context, id, verdict string, acknowledged bool) error {
	if verdict != "" {
		query := `
			UPDATE incidents
			SET status = $1, verdict = $2, acknowledged = $3, updated_at = NOW()
			WHERE id = $4`
		return m.exec(ctx, query, StatusClosed, verdict, acknowledged, id)
	}
	query := `UPDATE incidents SET status = $1, updated_at = NOW() WHERE id = $2`
	return m.exec(ctx, query, StatusClosed, id)
}

// AttachFrames replaces the stored evidence frames (callers cap at 4).
func (m IncidentModel) AttachFrames(ctx context.Context, id string, framesB64 []string) error {
	query := `UPDATE incidents SET frames_b64 = $1, updated_at = NOW() WHERE id = $2`
	return m.exec(ctx, query, jsonb(framesB64), id)
}

func (m IncidentModel) exec(ctx context.Context, query string, args ...any) error {
	res, err := m.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var ackBy sql.NullString
	var summary sql.NullString
	var reasons, frames []byte

	err := row.Scan(
		&inc.ID, &inc.CameraID, &inc.Status, &inc.Verdict, &inc.SeveritySeed, &inc.SeverityCurrent, &inc.RiskScore,
		&inc.TimeDownS, &inc.EscalationStage, &inc.Acknowledged, &ackBy, &inc.Confidence,
		&reasons, &summary, &inc.PlanVersion, &inc.Language, &frames,
		&inc.CreatedAt, &inc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if ackBy.Valid {
		inc.AckBy = ackBy.String
	}
	if summary.Valid {
		inc.SummaryText = summary.String
	}
	if err := scanJSON(reasons, &inc.ReasonsCurrent); err != nil {
		return nil, err
	}
	if err := scanJSON(frames, &inc.FramesB64); err != nil {
		return nil, err
	}
	return &inc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
