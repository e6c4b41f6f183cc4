package api

import (
	"net/http"
	"time"

	"github.com/technosupport/camguard/internal/tokens"
)

type TokenHandler struct {
	Tokens *tokens.Manager
}

func NewTokenHandler(mgr *tokens.Manager) *TokenHandler {
	return &TokenHandler{Tokens: mgr}
}

// POST /tokens/stream
func (h *TokenHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject  string `json:"subject"`
		CameraID string `json:"camera_id"`
		TTLS     int    `json:"ttl_s"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Subject == "" {
		req.Subject = "caregiver"
	}

	ttl := time.Duration(req.TTLS) * time.Second
	token, err := h.Tokens.GenerateStreamToken(req.Subject, req.CameraID, ttl)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}
