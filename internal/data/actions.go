package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionLog records one executed (or attempted) plan action.
type ActionLog struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	CameraID   string         `json:"camera_id"`
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`
	Result     string         `json:"result"`
	Timestamp  time.Time      `json:"ts"`
}

type ActionLogModel struct {
	DB DBTX
}

func (m ActionLogModel) Create(ctx context.Context, a *ActionLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO action_logs (id, incident_id, camera_id, action_type, params, result, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := m.DB.ExecContext(ctx, query,
		a.ID, a.IncidentID, a.CameraID, a.ActionType, jsonb(a.Params), a.Result, a.Timestamp.UTC())
	return err
}

func (m ActionLogModel) ListByIncident(ctx context.Context, incidentID string) ([]*ActionLog, error) {
	query := `
		SELECT id, incident_id, camera_id, action_type, params, result, ts
		FROM action_logs
		WHERE incident_id = $1
		ORDER BY ts ASC`

	rows, err := m.DB.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ActionLog
	for rows.Next() {
		var a ActionLog
		var params []byte
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.CameraID, &a.ActionType, &params, &a.Result, &a.Timestamp); err != nil {
			return nil, err
		}
		if err := scanJSON(params, &a.Params); err != nil {
			return nil, err
		}
		logs = append(logs, &a)
	}
	return logs, rows.Err()
}
