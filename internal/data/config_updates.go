package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConfigUpdate records a warehouse-suggested config change applied to an
// idle camera.
type ConfigUpdate struct {
	ID         string         `json:"id"`
	CameraID   string         `json:"camera_id"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	Config     map[string]any `json:"config_json"`
	Applied    bool           `json:"applied"`
	Timestamp  time.Time      `json:"ts"`
}

type ConfigUpdateModel struct {
	DB DBTX
}

func (m ConfigUpdateModel) Create(ctx context.Context, u *ConfigUpdate) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO config_updates (id, camera_id, reason, confidence, config_json, applied, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := m.DB.ExecContext(ctx, query,
		u.ID, u.CameraID, u.Reason, u.Confidence, jsonb(u.Config), u.Applied, u.Timestamp.UTC())
	return err
}

func (m ConfigUpdateModel) ListByCamera(ctx context.Context, cameraID string, limit int) ([]*ConfigUpdate, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, camera_id, reason, confidence, config_json, applied, ts
		FROM config_updates
		WHERE camera_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []*ConfigUpdate
	for rows.Next() {
		var u ConfigUpdate
		var config []byte
		if err := rows.Scan(&u.ID, &u.CameraID, &u.Reason, &u.Confidence, &config, &u.Applied, &u.Timestamp); err != nil {
			return nil, err
		}
		if err := scanJSON(config, &u.Config); err != nil {
			return nil, err
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}
