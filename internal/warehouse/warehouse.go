// Package warehouse mirrors durable rows into the analytics pipeline over
// NATS. Every write is best-effort: the Postgres row is the source of truth
// and a broker outage never surfaces past a log line.
package warehouse

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/metrics"
)

const subjectPrefix = "camguard.warehouse."

// Sink publishes analytics rows. A nil connection degrades every method to
// log-and-skip so the service runs without a broker.
type Sink struct {
	conn *nats.Conn
}

func NewSink(conn *nats.Conn) *Sink {
	return &Sink{conn: conn}
}

func (s *Sink) publish(table string, row map[string]any) {
	if _, ok := row["ts"]; !ok {
		row["ts"] = time.Now().UTC().Format(time.RFC3339)
	}
	row["dt"] = time.Now().UTC().Format("2006-01-02")

	if s == nil || s.conn == nil {
		metrics.WarehouseWrites.WithLabelValues(table, "skipped").Inc()
		return
	}

	payload, err := json.Marshal(row)
	if err != nil {
		log.Printf("warehouse: marshal %s row: %v", table, err)
		metrics.WarehouseWrites.WithLabelValues(table, "error").Inc()
		return
	}
	if err := s.conn.Publish(subjectPrefix+table, payload); err != nil {
		log.Printf("warehouse: publish %s: %v", table, err)
		metrics.WarehouseWrites.WithLabelValues(table, "error").Inc()
		return
	}
	metrics.WarehouseWrites.WithLabelValues(table, "ok").Inc()
}

func (s *Sink) WriteTimelineEvent(ev *data.TimelineEvent) {
	s.publish("timeline", map[string]any{
		"id":          ev.ID,
		"incident_id": ev.IncidentID,
		"camera_id":   ev.CameraID,
		"kind":        ev.Kind,
		"payload":     ev.Payload,
		"ts":          ev.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (s *Sink) WritePlan(p *data.IncidentPlan) {
	s.publish("plans", map[string]any{
		"id":                p.ID,
		"incident_id":       p.IncidentID,
		"version":           p.Version,
		"model_used":        p.ModelUsed,
		"verdict":           p.Verdict,
		"severity_seed":     p.SeveritySeed,
		"confidence":        p.Confidence,
		"reasons":           p.Reasons,
		"actions":           json.RawMessage(p.Actions),
		"replan_interval_s": p.ReplanIntervalS,
	})
}

func (s *Sink) WriteActionLog(a *data.ActionLog) {
	s.publish("actions", map[string]any{
		"id":          a.ID,
		"incident_id": a.IncidentID,
		"camera_id":   a.CameraID,
		"action_type": a.ActionType,
		"params":      a.Params,
		"result":      a.Result,
		"ts":          a.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (s *Sink) WriteAgentLog(n *data.AgentNote) {
	payload := map[string]any{
		"id":          n.ID,
		"camera_id":   n.CameraID,
		"incident_id": n.IncidentID,
		"kind":        n.Kind,
		"text":        n.Text,
		"priority":    n.Priority,
		"summary":     n.Summary,
		"watchlist":   n.ParsedWatchlist,
		"ts":          n.Timestamp.UTC().Format(time.RFC3339),
	}
	if n.ExpiresAt != nil {
		payload["expires_at"] = n.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.publish("agent_notes", payload)
}

func (s *Sink) WriteChatLog(c *data.ChatLog) {
	s.publish("chat", map[string]any{
		"id":              c.ID,
		"session_id":      c.SessionID,
		"role":            c.Role,
		"message_text":    c.MessageText,
		"camera_id":       c.CameraID,
		"response_time_s": c.ResponseTimeS,
		"ts":              c.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (s *Sink) WriteConfigApplied(u *data.ConfigUpdate) {
	s.publish("config_applied", map[string]any{
		"id":          u.ID,
		"camera_id":   u.CameraID,
		"reason":      u.Reason,
		"confidence":  u.Confidence,
		"config_json": u.Config,
		"applied":     u.Applied,
		"ts":          u.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Suggestion is one warehouse-derived config tuning proposal.
type Suggestion struct {
	ID         string         `json:"id"`
	CameraID   string         `json:"camera_id"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	Config     map[string]any `json:"config_json"`
	Timestamp  time.Time      `json:"ts"`
}

// FetchConfigSuggestions asks the analytics side for pending tuning
// proposals via request/reply. No broker or no reply means no suggestions.
func (s *Sink) FetchConfigSuggestions(ctx context.Context, limit int) []Suggestion {
	if s == nil || s.conn == nil {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, _ := json.Marshal(map[string]any{"limit": limit})
	msg, err := s.conn.RequestWithContext(reqCtx, subjectPrefix+"suggestions", req)
	if err != nil {
		return nil
	}

	var suggestions []Suggestion
	if err := json.Unmarshal(msg.Data, &suggestions); err != nil {
		log.Printf("warehouse: bad suggestions reply: %v", err)
		return nil
	}
	return suggestions
}
