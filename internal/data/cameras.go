package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Camera is a monitored caregiver camera and its notification policy.
type Camera struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	RoomType       string         `json:"room_type"`
	MonitoringType string         `json:"monitoring_type"` // elderly | babies
	Language       string         `json:"language"`
	VoiceEnabled   bool           `json:"voice_enabled"`
	SMSEnabled     bool           `json:"sms_enabled"`
	QuietHours     string         `json:"quiet_hours"`
	PrimaryContact string         `json:"primary_contact"`
	BackupContact  string         `json:"backup_contact"`
	BedPolygon     [][]float64    `json:"bed_polygon,omitempty"`
	Config         map[string]any `json:"config_json"`
	RiskScore      float64        `json:"risk_score"`
	LastSeen       *time.Time     `json:"last_seen,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, name, room_type, monitoring_type, language, voice_enabled, sms_enabled,
	quiet_hours, primary_contact, backup_contact, bed_polygon, config_json,
	risk_score, last_seen, created_at`

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.RoomType == "" {
		c.RoomType = "bedroom"
	}
	if c.MonitoringType == "" {
		c.MonitoringType = "elderly"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.QuietHours == "" {
		c.QuietHours = "22:00-07:00"
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}

	query := `
		INSERT INTO cameras (
			id, name, room_type, monitoring_type, language, voice_enabled, sms_enabled,
			quiet_hours, primary_contact, backup_contact, bed_polygon, config_json, risk_score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	return m.DB.QueryRowContext(ctx, query,
		c.ID, c.Name, c.RoomType, c.MonitoringType, c.Language, c.VoiceEnabled, c.SMSEnabled,
		c.QuietHours, c.PrimaryContact, c.BackupContact, jsonb(c.BedPolygon), jsonb(c.Config), c.RiskScore,
	).Scan(&c.CreatedAt)
}

func (m CameraModel) GetByID(ctx context.Context, id string) (*Camera, error) {
	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE id = $1`
	row := m.DB.QueryRowContext(ctx, query, id)
	return scanCamera(row)
}

func (m CameraModel) List(ctx context.Context) ([]*Camera, error) {
	query := `SELECT ` + cameraColumns + ` FROM cameras ORDER BY created_at DESC`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cameras []*Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, c)
	}
	return cameras, rows.Err()
}

func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, room_type = $2, monitoring_type = $3, language = $4,
		    voice_enabled = $5, sms_enabled = $6, quiet_hours = $7,
		    primary_contact = $8, backup_contact = $9, bed_polygon = $10, config_json = $11
		WHERE id = $12`

	res, err := m.DB.ExecContext(ctx, query,
		c.Name, c.RoomType, c.MonitoringType, c.Language,
		c.VoiceEnabled, c.SMSEnabled, c.QuietHours,
		c.PrimaryContact, c.BackupContact, jsonb(c.BedPolygon), jsonb(c.Config), c.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m CameraModel) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
	query := `UPDATE cameras SET config_json = $1 WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, jsonb(config), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateRisk stamps the latest prevention-sweep risk score and sighting time.
func (m CameraModel) UpdateRisk(ctx context.Context, id string, risk float64, seenAt time.Time) error {
	query := `UPDATE cameras SET risk_score = $1, last_seen = $2 WHERE id = $3`
	res, err := m.DB.ExecContext(ctx, query, risk, seenAt.UTC(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// rowScanner lets scanCamera serve both QueryRowContext and QueryContext paths.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*Camera, error) {
	var c Camera
	var bedPolygon, config []byte
	var lastSeen sql.NullTime

	err := row.Scan(
		&c.ID, &c.Name, &c.RoomType, &c.MonitoringType, &c.Language, &c.VoiceEnabled, &c.SMSEnabled,
		&c.QuietHours, &c.PrimaryContact, &c.BackupContact, &bedPolygon, &config,
		&c.RiskScore, &lastSeen, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := scanJSON(bedPolygon, &c.BedPolygon); err != nil {
		return nil, err
	}
	if err := scanJSON(config, &c.Config); err != nil {
		return nil, err
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeen = &t
	}
	return &c, nil
}
