package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
)

type CameraHandler struct {
	Service *cameras.Service
}

func NewCameraHandler(svc *cameras.Service) *CameraHandler {
	return &CameraHandler{Service: svc}
}

// POST /cameras
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cam data.Camera
	if !decodeJSON(w, r, &cam) {
		return
	}
	if cam.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.Service.Create(r.Context(), &cam); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create camera")
		return
	}
	respondJSON(w, http.StatusCreated, cam)
}

// GET /cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	cams, err := h.Service.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list cameras")
		return
	}
	if cams == nil {
		cams = []*data.Camera{}
	}
	respondJSON(w, http.StatusOK, cams)
}

// GET /cameras/{id}
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	cam, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load camera")
		return
	}
	respondJSON(w, http.StatusOK, cam)
}

// PATCH /cameras/{id}
func (h *CameraHandler) Update(w http.ResponseWriter, r *http.Request) {
	cam, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load camera")
		return
	}

	// Decode onto a copy of the current row so omitted fields keep their
	// values.
	updated := *cam
	if !decodeJSON(w, r, &updated) {
		return
	}
	updated.ID = cam.ID

	if err := h.Service.Update(r.Context(), &updated); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update camera")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// GET /cameras/{id}/config
func (h *CameraHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cam, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load camera")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_id":   cam.ID,
		"config_json": cam.Config,
	})
}

// PUT /cameras/{id}/config
func (h *CameraHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var config map[string]any
	if !decodeJSON(w, r, &config) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Service.UpdateConfig(r.Context(), id, config); err != nil {
		if errors.Is(err, cameras.ErrCameraNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update config")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_id":   id,
		"config_json": config,
	})
}

// GET /cameras/{id}/onboarding
func (h *CameraHandler) OnboardingStatus(w http.ResponseWriter, r *http.Request) {
	cam, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load camera")
		return
	}
	complete := cam.MonitoringType != "" && cam.PrimaryContact != ""
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_id":       cam.ID,
		"complete":        complete,
		"monitoring_type": cam.MonitoringType,
		"primary_contact": cam.PrimaryContact,
		"backup_contact":  cam.BackupContact,
	})
}

// POST /cameras/{id}/onboarding
func (h *CameraHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MonitoringType string `json:"monitoring_type"`
		PrimaryContact string `json:"primary_contact"`
		BackupContact  string `json:"backup_contact"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	cam, err := h.Service.Onboard(r.Context(), chi.URLParam(r, "id"), req.MonitoringType, req.PrimaryContact, req.BackupContact)
	if errors.Is(err, cameras.ErrCameraNotFound) {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to apply onboarding")
		return
	}
	respondJSON(w, http.StatusOK, cam)
}

// PUT /cameras/{id}/policy
func (h *CameraHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var policy data.NotificationPolicy
	if !decodeJSON(w, r, &policy) {
		return
	}
	policy.CameraID = chi.URLParam(r, "id")

	if _, err := h.Service.Get(r.Context(), policy.CameraID); err != nil {
		if errors.Is(err, cameras.ErrCameraNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load camera")
		return
	}
	if err := h.Service.SetPolicy(r.Context(), &policy); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save policy")
		return
	}
	respondJSON(w, http.StatusOK, policy)
}
