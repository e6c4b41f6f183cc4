// Package timeline is the durable audit stream for incidents: every
// externally visible mutation is appended to Postgres, mirrored into a
// bounded ring for warehouse flush, and broadcast to live subscribers.
package timeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/warehouse"
)

// Store is the slice of the timeline repository the logger needs.
type Store interface {
	Create(ctx context.Context, ev *data.TimelineEvent) error
}

type Logger struct {
	store Store
	ring  *Ring
	hub   *Hub
	sink  *warehouse.Sink
}

func NewLogger(store Store, ring *Ring, hub *Hub, sink *warehouse.Sink) *Logger {
	return &Logger{store: store, ring: ring, hub: hub, sink: sink}
}

// Append records one event: durable row first, then ring buffer, then
// broadcast. The durable write failing is returned to the caller; the
// fan-out steps never fail the append.
func (l *Logger) Append(ctx context.Context, incidentID, cameraID, kind string, payload map[string]any) error {
	ev := &data.TimelineEvent{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		CameraID:   cameraID,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}

	if err := l.store.Create(ctx, ev); err != nil {
		log.Printf("timeline: durable append %s failed: %v", kind, err)
		return err
	}

	l.ring.Push(ev)
	l.broadcast(kind, ev.IncidentID, ev.CameraID, ev.Timestamp, payload)
	return nil
}

// BroadcastOnly pushes an ephemeral notification to live subscribers
// without persisting it (e.g. incident_created toasts).
func (l *Logger) BroadcastOnly(kind string, payload map[string]any) {
	l.broadcast(kind, "", "", time.Now().UTC(), payload)
}

func (l *Logger) broadcast(kind, incidentID, cameraID string, ts time.Time, payload map[string]any) {
	msg := map[string]any{
		"type":    kind,
		"ts":      ts.Format(time.RFC3339),
		"payload": payload,
	}
	if incidentID != "" {
		msg["incident_id"] = incidentID
	}
	if cameraID != "" {
		msg["camera_id"] = cameraID
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("timeline: broadcast marshal: %v", err)
		return
	}
	l.hub.Broadcast(raw)
}

// Flush drains the ring into the warehouse. Per-event publish failures are
// absorbed by the sink; draining always completes.
func (l *Logger) Flush(ctx context.Context) int {
	events := l.ring.Drain()
	for _, ev := range events {
		select {
		case <-ctx.Done():
			return len(events)
		default:
		}
		l.sink.WriteTimelineEvent(ev)
	}
	return len(events)
}

func (l *Logger) Hub() *Hub {
	return l.hub
}
