package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/triggers"
)

type TriggerHandler struct {
	Router *triggers.Router
}

func NewTriggerHandler(router *triggers.Router) *TriggerHandler {
	return &TriggerHandler{Router: router}
}

type visionRequest struct {
	CameraID  string `json:"camera_id"`
	FrameB64  string `json:"frame_b64"`
	LabelHint string `json:"label_hint"`
}

// POST /vision/fall
func (h *TriggerHandler) VisionFall(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	inc, created, err := h.Router.VisionFall(r.Context(), req.CameraID, req.FrameB64)
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.ID,
		"created":     created,
		"status":      inc.Status,
	})
}

// POST /vision/edge
func (h *TriggerHandler) VisionEdge(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	inc, created, err := h.Router.VisionEdge(r.Context(), req.CameraID, req.FrameB64)
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.ID,
		"created":     created,
		"status":      inc.Status,
	})
}

// POST /telemetry/fall
func (h *TriggerHandler) TelemetryFall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID       string   `json:"camera_id"`
		MotionEnergy   float64  `json:"motion_energy"`
		StillnessScore float64  `json:"stillness_score"`
		FramesB64      []string `json:"frames_b64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	inc, created, err := h.Router.TelemetryFall(r.Context(), req.CameraID, req.MotionEnergy, req.StillnessScore, req.FramesB64)
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.ID,
		"created":     created,
		"status":      inc.Status,
	})
}

// POST /telemetry/prevention
func (h *TriggerHandler) Prevention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID    string   `json:"camera_id"`
		FramesB64   []string `json:"frames_b64"`
		CurrentHour *int     `json:"current_hour"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	hour := time.Now().Hour()
	if req.CurrentHour != nil {
		hour = *req.CurrentHour
	}

	risk, err := h.Router.Prevention(r.Context(), req.CameraID, req.FramesB64, hour)
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to run prevention sweep")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_id":  req.CameraID,
		"risk_score": risk,
	})
}
