package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/camguard/internal/agent"
	"github.com/technosupport/camguard/internal/data"
)

type AgentHandler struct {
	Service *agent.Service
}

func NewAgentHandler(svc *agent.Service) *AgentHandler {
	return &AgentHandler{Service: svc}
}

// POST /agent/notes
// An empty camera_id makes the note global. ttl_minutes of zero means the
// note never expires.
func (h *AgentHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID   string `json:"camera_id"`
		IncidentID string `json:"incident_id"`
		Kind       string `json:"kind"`
		Text       string `json:"text"`
		Priority   string `json:"priority"`
		TTLMinutes int    `json:"ttl_minutes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	note := &data.AgentNote{
		CameraID:   req.CameraID,
		IncidentID: req.IncidentID,
		Kind:       req.Kind,
		Text:       req.Text,
		Priority:   req.Priority,
	}
	if req.TTLMinutes > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.TTLMinutes) * time.Minute)
		note.ExpiresAt = &expires
	}
	if err := h.Service.AddNote(r.Context(), note); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save note")
		return
	}
	respondJSON(w, http.StatusCreated, note)
}

// GET /agent/notes?camera_id=&limit=
func (h *AgentHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	notes, err := h.Service.ListNotes(r.Context(), cameraID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if notes == nil {
		notes = []*data.AgentNote{}
	}
	respondJSON(w, http.StatusOK, notes)
}

// POST /agent/chat
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		CameraID  string `json:"camera_id"`
		Message   string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.Service.Chat(r.Context(), req.SessionID, req.CameraID, req.Message)
	if errors.Is(err, agent.ErrChatUnavailable) {
		respondError(w, http.StatusBadGateway, "chat model unavailable")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat failed")
		return
	}
	respondJSON(w, http.StatusOK, reply)
}
