package api

import (
	"errors"
	"net/http"

	"github.com/technosupport/camguard/internal/accessibility"
	"github.com/technosupport/camguard/internal/incidents"
)

type AccessibilityHandler struct {
	Speech    *accessibility.Service
	Incidents *incidents.Service
}

func NewAccessibilityHandler(speech *accessibility.Service, incs *incidents.Service) *AccessibilityHandler {
	return &AccessibilityHandler{Speech: speech, Incidents: incs}
}

// POST /accessibility/speak
func (h *AccessibilityHandler) Speak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IncidentID string `json:"incident_id"`
		Language   string `json:"language"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IncidentID == "" {
		respondError(w, http.StatusBadRequest, "incident_id is required")
		return
	}

	inc, err := h.Incidents.Get(r.Context(), req.IncidentID)
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}

	summary := inc.SummaryText
	if summary == "" {
		summary = incidents.Summary(inc)
	}
	language := req.Language
	if language == "" {
		language = inc.Language
	}

	audio, err := h.Speech.Speak(r.Context(), summary, language)
	if errors.Is(err, accessibility.ErrNotConfigured) {
		respondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
