package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/incidents"
)

type IncidentHandler struct {
	Service *incidents.Service
	Store   data.IncidentModel
	Plans   data.PlanModel
	Events  data.TimelineModel
}

func NewIncidentHandler(svc *incidents.Service, store data.IncidentModel, plans data.PlanModel, events data.TimelineModel) *IncidentHandler {
	return &IncidentHandler{Service: svc, Store: store, Plans: plans, Events: events}
}

// GET /incidents?status=&severity_min=&limit=
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := data.IncidentFilter{
		Status: strings.ToUpper(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("severity_min"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.SeverityMin = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	incs, err := h.Store.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if incs == nil {
		incs = []*data.Incident{}
	}
	respondJSON(w, http.StatusOK, incs)
}

// GET /incidents/{id}
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// POST /incidents/{id}/ack
func (h *IncidentHandler) Ack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AckBy string `json:"ack_by"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.AckBy == "" {
		req.AckBy = "api"
	}

	inc, err := h.Service.Ack(r.Context(), chi.URLParam(r, "id"), req.AckBy, true)
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to acknowledge")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":      "acknowledged",
		"incident_id": inc.ID,
	})
}

// POST /incidents/{id}/false-alarm
func (h *IncidentHandler) FalseAlarm(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Service.FalseAlarm(r.Context(), chi.URLParam(r, "id"), "")
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to close incident")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":      "closed",
		"reason":      "false_alarm",
		"incident_id": inc.ID,
	})
}

// GET /incidents/{id}/timeline
func (h *IncidentHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.ListByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	if events == nil {
		events = []*data.TimelineEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

// GET /incidents/{id}/plans
func (h *IncidentHandler) PlanHistory(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Plans.ListByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load plans")
		return
	}
	if plans == nil {
		plans = []*data.IncidentPlan{}
	}
	respondJSON(w, http.StatusOK, plans)
}

// GET /incidents/{id}/frames
func (h *IncidentHandler) Frames(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	frames := inc.FramesB64
	if frames == nil {
		frames = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.ID,
		"frames_b64":  frames,
	})
}

// GET /incidents/{id}/summary
func (h *IncidentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
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

	var steps any = []any{}
	if latest, err := h.Plans.Latest(r.Context(), inc.ID); err == nil {
		steps = latest.Actions
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"incident_id":      inc.ID,
		"summary":          summary,
		"steps":            steps,
		"reasons":          inc.ReasonsCurrent,
		"language":         inc.Language,
		"verdict":          inc.Verdict,
		"severity_current": inc.SeverityCurrent,
		"time_down_s":      inc.TimeDownS,
		"escalation_stage": inc.EscalationStage,
		"acknowledged":     inc.Acknowledged,
	})
}
