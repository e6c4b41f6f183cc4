package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/camguard/internal/incidents"
	"github.com/technosupport/camguard/internal/notify"
)

// TwilioHandler serves the voice-call webhooks: the DTMF menu and the
// keypress dispatch. Responses are TwiML XML.
type TwilioHandler struct {
	Service       *incidents.Service
	PublicBaseURL string
}

func NewTwilioHandler(svc *incidents.Service, publicBaseURL string) *TwilioHandler {
	return &TwilioHandler{Service: svc, PublicBaseURL: publicBaseURL}
}

func respondTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// POST /twilio/voice/{incident_id}
func (h *TwilioHandler) Voice(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incident_id")
	if _, err := h.Service.Get(r.Context(), incidentID); err != nil {
		respondTwiML(w, notify.SayTwiML("Incident not found."))
		return
	}
	respondTwiML(w, notify.VoiceMenuTwiML(h.PublicBaseURL, incidentID, ""))
}

// POST /twilio/dtmf/{incident_id}
func (h *TwilioHandler) DTMF(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incident_id")
	digit := r.FormValue("Digits")

	var err error
	var say string

	switch digit {
	case "1":
		_, err = h.Service.Ack(r.Context(), incidentID, "voice_dtmf", true, map[string]any{"digit": "1"})
		say = "Acknowledged. Escalation cancelled. Thank you."
	case "2":
		// Caregiver will call themselves: escalation pauses but the contact
		// budget stays spent.
		_, err = h.Service.Ack(r.Context(), incidentID, "voice_dtmf_will_call", false, map[string]any{"digit": "2"})
		say = "Noted. You will call the monitored person. Escalation paused."
	case "3":
		_, err = h.Service.Escalate(r.Context(), incidentID, map[string]any{"digit": "3"})
		say = "Escalating to backup contact now."
	case "4":
		_, err = h.Service.FalseAlarm(r.Context(), incidentID, "false_alarm_dtmf", map[string]any{"digit": "4"})
		say = "Marked as false alarm. Incident closed."
	default:
		respondTwiML(w, notify.SayTwiML("Invalid option. Goodbye."))
		return
	}

	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondTwiML(w, notify.SayTwiML("Incident not found."))
		return
	}
	if err != nil {
		respondTwiML(w, notify.SayTwiML("Something went wrong. Goodbye."))
		return
	}
	respondTwiML(w, notify.SayTwiML(say))
}
