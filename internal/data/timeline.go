package data

import (
	"context"
	"time"
)

// Event kinds appended to the incident timeline.
const (
	KindTriggerReceived   = "TRIGGER_RECEIVED"
	KindPlanCreated       = "PLAN_CREATED"
	KindPlanApproved      = "PLAN_APPROVED"
	KindPlanFailed        = "PLAN_FAILED"
	KindActionExecuted    = "ACTION_EXECUTED"
	KindSeverityTick      = "SEVERITY_TICK"
	KindReplan            = "REPLAN"
	KindEscalation        = "ESCALATION"
	KindAckReceived       = "ACK_RECEIVED"
	KindClosed            = "CLOSED"
	KindBedAssessment     = "BED_ASSESSMENT"
	KindRiskUpdated       = "RISK_UPDATED"
	KindConfigApplied     = "CONFIG_SUGGESTION_APPLIED"
)

// TimelineEvent is one durable row in an incident's audit trail.
type TimelineEvent struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	CameraID   string         `json:"camera_id"`
	Kind       string         `json:"kind"`
	Timestamp  time.Time      `json:"ts"`
	Payload    map[string]any `json:"payload"`
}

type TimelineModel struct {
	DB DBTX
}

func (m TimelineModel) Create(ctx context.Context, ev *TimelineEvent) error {
	query := `
		INSERT INTO incident_timeline (id, incident_id, camera_id, kind, ts, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := m.DB.ExecContext(ctx, query,
		ev.ID, ev.IncidentID, ev.CameraID, ev.Kind, ev.Timestamp.UTC(), jsonb(ev.Payload))
	return err
}

// ListByIncident returns the timeline oldest first.
func (m TimelineModel) ListByIncident(ctx context.Context, incidentID string) ([]*TimelineEvent, error) {
	query := `
		SELECT id, incident_id, camera_id, kind, ts, payload
		FROM incident_timeline
		WHERE incident_id = $1
		ORDER BY ts ASC`

	rows, err := m.DB.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TimelineEvent
	for rows.Next() {
		var ev TimelineEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.CameraID, &ev.Kind, &ev.Timestamp, &payload); err != nil {
			return nil, err
		}
		if err := scanJSON(payload, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ListRecentByCamera feeds the caregiver chat context window.
func (m TimelineModel) ListRecentByCamera(ctx context.Context, cameraID string, limit int) ([]*TimelineEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, incident_id, camera_id, kind, ts, payload
		FROM incident_timeline
		WHERE camera_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TimelineEvent
	for rows.Next() {
		var ev TimelineEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.CameraID, &ev.Kind, &ev.Timestamp, &payload); err != nil {
			return nil, err
		}
		if err := scanJSON(payload, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
