package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IncidentPlan is one versioned planner output for an incident. Actions are
// stored as the raw JSON the planner produced so the row replays exactly.
type IncidentPlan struct {
	ID              string          `json:"id"`
	IncidentID      string          `json:"incident_id"`
	Version         int             `json:"version"`
	ModelUsed       string          `json:"model_used"` // fast | strong
	Verdict         string          `json:"verdict"`
	SeveritySeed    int             `json:"severity_seed"`
	Confidence      float64         `json:"confidence"`
	Reasons         []string        `json:"reasons"`
	Actions         json.RawMessage `json:"actions"`
	ReplanIntervalS float64         `json:"replan_interval_s"`
	CreatedAt       time.Time       `json:"created_at"`
}

type PlanModel struct {
	DB DBTX
}

func (m PlanModel) Create(ctx context.Context, p *IncidentPlan) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if len(p.Actions) == 0 {
		p.Actions = json.RawMessage("[]")
	}

	query := `
		INSERT INTO incident_plans (
			id, incident_id, version, model_used, verdict, severity_seed,
			confidence, reasons, actions, replan_interval_s
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	return m.DB.QueryRowContext(ctx, query,
		p.ID, p.IncidentID, p.Version, p.ModelUsed, p.Verdict, p.SeveritySeed,
		p.Confidence, jsonb(p.Reasons), []byte(p.Actions), p.ReplanIntervalS,
	).Scan(&p.CreatedAt)
}

// ListByIncident returns plans newest version first.
func (m PlanModel) ListByIncident(ctx context.Context, incidentID string) ([]*IncidentPlan, error) {
	query := `
		SELECT id, incident_id, version, model_used, verdict, severity_seed,
		       confidence, reasons, actions, replan_interval_s, created_at
		FROM incident_plans
		WHERE incident_id = $1
		ORDER BY version DESC`

	rows, err := m.DB.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*IncidentPlan
	for rows.Next() {
		var p IncidentPlan
		var reasons, actions []byte
		if err := rows.Scan(
			&p.ID, &p.IncidentID, &p.Version, &p.ModelUsed, &p.Verdict, &p.SeveritySeed,
			&p.Confidence, &reasons, &actions, &p.ReplanIntervalS, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := scanJSON(reasons, &p.Reasons); err != nil {
			return nil, err
		}
		p.Actions = json.RawMessage(actions)
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// Latest returns the newest plan for an incident, or ErrRecordNotFound.
func (m PlanModel) Latest(ctx context.Context, incidentID string) (*IncidentPlan, error) {
	plans, err := m.ListByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, ErrRecordNotFound
	}
	return plans[0], nil
}
