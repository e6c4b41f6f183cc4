// Package agent serves caregiver-facing intelligence: durable agent notes
// and a chat endpoint that answers questions grounded in the camera's
// recent timeline.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/warehouse"
)

var ErrChatUnavailable = errors.New("chat model unavailable")

// TextModel is the single text-only model call chat needs.
type TextModel interface {
	CompleteText(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	notes    data.AgentNoteModel
	chats    data.ChatLogModel
	timeline data.TimelineModel
	cams     *cameras.Service
	model    TextModel
	sink     *warehouse.Sink
}

func NewService(notes data.AgentNoteModel, chats data.ChatLogModel, tl data.TimelineModel, cams *cameras.Service, model TextModel, sink *warehouse.Sink) *Service {
	return &Service{notes: notes, chats: chats, timeline: tl, cams: cams, model: model, sink: sink}
}

// AddNote records a caregiver instruction or agent observation. When a text
// model is configured the instruction is parsed into a structured watchlist;
// parsing failures fall back to the raw text.
func (s *Service) AddNote(ctx context.Context, n *data.AgentNote) error {
	if n.Kind == "" {
		n.Kind = "observation"
	}
	if n.Priority == "" {
		n.Priority = "medium"
	}
	if n.Summary == "" {
		n.Summary = n.Text
	}
	if n.ParsedWatchlist == nil {
		s.parseInstruction(ctx, n)
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return err
	}
	s.sink.WriteAgentLog(n)
	return nil
}

func (s *Service) parseInstruction(ctx context.Context, n *data.AgentNote) {
	fallback := map[string]any{
		"conditions":           []string{n.Text},
		"risk_factors":         []string{},
		"special_instructions": []string{},
		"urgency":              n.Priority,
	}
	if s.model == nil {
		n.ParsedWatchlist = fallback
		return
	}

	prompt := fmt.Sprintf(
		"Parse this caregiver monitoring instruction into JSON with keys "+
			"\"summary\" (one sentence) and \"parsed_watchlist\" (object with "+
			"\"conditions\", \"risk_factors\", \"special_instructions\" string arrays "+
			"and an \"urgency\" string). Reply with JSON only.\n\nInstruction: %s", n.Text)
	raw, err := s.model.CompleteText(ctx, prompt)
	if err != nil {
		n.ParsedWatchlist = fallback
		return
	}

	var parsed struct {
		Summary         string         `json:"summary"`
		ParsedWatchlist map[string]any `json:"parsed_watchlist"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil || parsed.ParsedWatchlist == nil {
		n.ParsedWatchlist = fallback
		return
	}
	if parsed.Summary != "" {
		n.Summary = parsed.Summary
	}
	n.ParsedWatchlist = parsed.ParsedWatchlist
}

// Models sometimes wrap JSON replies in markdown fences despite the prompt.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func (s *Service) ListNotes(ctx context.Context, cameraID string, limit int) ([]*data.AgentNote, error) {
	return s.notes.ListByCamera(ctx, cameraID, limit)
}

type ChatReply struct {
	Reply         string  `json:"reply"`
	SessionID     string  `json:"session_id"`
	ResponseTimeS float64 `json:"response_time_s"`
}

// Chat answers one caregiver message. Context is the camera snapshot plus
// its recent timeline; both sides of the exchange are logged.
func (s *Service) Chat(ctx context.Context, sessionID, cameraID, message string) (*ChatReply, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	start := time.Now()

	prompt := s.buildPrompt(ctx, cameraID, message)
	reply, err := s.model.CompleteText(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChatUnavailable, err)
	}
	elapsed := time.Since(start).Seconds()

	_ = s.chats.Create(ctx, &data.ChatLog{SessionID: sessionID, Role: "user", MessageText: message, CameraID: cameraID})
	assistant := &data.ChatLog{SessionID: sessionID, Role: "assistant", MessageText: reply, CameraID: cameraID, ResponseTimeS: elapsed}
	_ = s.chats.Create(ctx, assistant)
	s.sink.WriteChatLog(assistant)

	return &ChatReply{Reply: reply, SessionID: sessionID, ResponseTimeS: elapsed}, nil
}

func (s *Service) buildPrompt(ctx context.Context, cameraID, message string) string {
	var b strings.Builder
	b.WriteString("You are the CamGuard caregiver assistant. Answer briefly and factually ")
	b.WriteString("from the monitoring context below. If the context does not cover the ")
	b.WriteString("question, say so rather than guessing.\n\n")

	if cameraID != "" {
		if cam, err := s.cams.Get(ctx, cameraID); err == nil {
			fmt.Fprintf(&b, "Camera: %s (room: %s, monitoring: %s, risk score: %.2f)\n",
				cam.Name, cam.RoomType, cam.MonitoringType, cam.RiskScore)
		}
		if events, err := s.timeline.ListRecentByCamera(ctx, cameraID, 20); err == nil && len(events) > 0 {
			b.WriteString("Recent events (newest first):\n")
			for _, ev := range events {
				fmt.Fprintf(&b, "- %s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Kind)
			}
		}
	}

	fmt.Fprintf(&b, "\nCaregiver question: %s\n", message)
	return b.String()
}
