package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// AgentNote is a caregiver instruction or agent observation. CameraID is
// empty for global notes that apply to every camera. A note with a nil
// ExpiresAt never expires; otherwise it is active while expires_at > now.
type AgentNote struct {
	ID              string         `json:"id"`
	CameraID        string         `json:"camera_id,omitempty"`
	IncidentID      string         `json:"incident_id,omitempty"`
	Kind            string         `json:"kind"`
	Text            string         `json:"text"`
	Priority        string         `json:"priority"`
	ParsedWatchlist map[string]any `json:"parsed_watchlist,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Timestamp       time.Time      `json:"ts"`
}

type AgentNoteModel struct {
	DB DBTX
}

func (m AgentNoteModel) Create(ctx context.Context, n *AgentNote) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = "medium"
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	var expires sql.NullTime
	if n.ExpiresAt != nil {
		expires = sql.NullTime{Time: n.ExpiresAt.UTC(), Valid: true}
	}
	var watchlist any
	if n.ParsedWatchlist != nil {
		watchlist = jsonb(n.ParsedWatchlist)
	}

	query := `
		INSERT INTO agent_notes (id, camera_id, incident_id, kind, note_text, priority, parsed_watchlist, summary, expires_at, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := m.DB.ExecContext(ctx, query,
		n.ID, nullString(n.CameraID), nullString(n.IncidentID), n.Kind, n.Text,
		n.Priority, watchlist, n.Summary, expires, n.Timestamp.UTC())
	return err
}

const agentNoteColumns = `id, camera_id, incident_id, kind, note_text, priority, parsed_watchlist, summary, expires_at, ts`

// ListByCamera returns a camera's notes newest first, expired ones included.
func (m AgentNoteModel) ListByCamera(ctx context.Context, cameraID string, limit int) ([]*AgentNote, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + agentNoteColumns + `
		FROM agent_notes
		WHERE camera_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgentNotes(rows)
}

// ListActiveForCamera returns the unexpired notes the planner should see for
// a camera: the camera's own notes plus global ones.
func (m AgentNoteModel) ListActiveForCamera(ctx context.Context, cameraID string, limit int) ([]*AgentNote, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + agentNoteColumns + `
		FROM agent_notes
		WHERE (camera_id = $1 OR camera_id IS NULL)
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgentNotes(rows)
}

func collectAgentNotes(rows *sql.Rows) ([]*AgentNote, error) {
	var notes []*AgentNote
	for rows.Next() {
		var (
			n          AgentNote
			cameraID   sql.NullString
			incidentID sql.NullString
			watchlist  []byte
			expires    sql.NullTime
		)
		if err := rows.Scan(&n.ID, &cameraID, &incidentID, &n.Kind, &n.Text,
			&n.Priority, &watchlist, &n.Summary, &expires, &n.Timestamp); err != nil {
			return nil, err
		}
		if cameraID.Valid {
			n.CameraID = cameraID.String
		}
		if incidentID.Valid {
			n.IncidentID = incidentID.String
		}
		if err := scanJSON(watchlist, &n.ParsedWatchlist); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			n.ExpiresAt = &t
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// ChatLog is one side of a caregiver chat exchange.
type ChatLog struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Role          string    `json:"role"` // user | assistant
	MessageText   string    `json:"message_text"`
	CameraID      string    `json:"camera_id,omitempty"`
	ResponseTimeS float64   `json:"response_time_s"`
	Timestamp     time.Time `json:"ts"`
}

type ChatLogModel struct {
	DB DBTX
}

func (m ChatLogModel) Create(ctx context.Context, c *ChatLog) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	// Long model replies are truncated to keep rows bounded.
	text := c.MessageText
	if len(text) > 2000 {
		text = text[:2000]
	}

	query := `
		INSERT INTO chat_logs (id, session_id, role, message_text, camera_id, response_time_s, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := m.DB.ExecContext(ctx, query,
		c.ID, c.SessionID, c.Role, text, nullString(c.CameraID), c.ResponseTimeS, c.Timestamp.UTC())
	return err
}

func (m ChatLogModel) ListBySession(ctx context.Context, sessionID string, limit int) ([]*ChatLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, role, message_text, camera_id, response_time_s, ts
		FROM chat_logs
		WHERE session_id = $1
		ORDER BY ts ASC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ChatLog
	for rows.Next() {
		var c ChatLog
		var cameraID sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.MessageText, &cameraID, &c.ResponseTimeS, &c.Timestamp); err != nil {
			return nil, err
		}
		if cameraID.Valid {
			c.CameraID = cameraID.String
		}
		logs = append(logs, &c)
	}
	return logs, rows.Err()
}
