package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/camguard/internal/health"
	"github.com/technosupport/camguard/internal/middleware"
	"github.com/technosupport/camguard/internal/ratelimit"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Incidents     *IncidentHandler
	Cameras       *CameraHandler
	Triggers      *TriggerHandler
	Twilio        *TwilioHandler
	Agent         *AgentHandler
	Accessibility *AccessibilityHandler
	WS            *WSHandler
	Tokens        *TokenHandler

	Health *health.Checker

	// Limiter may be nil (no Redis); trigger and webhook routes then run
	// unthrottled.
	Limiter     *ratelimit.Limiter
	TriggerRate ratelimit.Config
}

// NewRouter assembles the full HTTP surface.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	r.Use(middleware.Metrics)

	throttled := func(next http.Handler) http.Handler { return next }
	if h.Limiter != nil {
		throttled = middleware.RateLimit(h.Limiter, h.TriggerRate, true)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		st := h.Health.Check(req.Context())
		code := http.StatusOK
		if st.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, st)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Trigger ingest, rate limited per IP, fail-open.
	r.Group(func(r chi.Router) {
		r.Use(throttled)
		r.Post("/vision/fall", h.Triggers.VisionFall)
		r.Post("/vision/edge", h.Triggers.VisionEdge)
		r.Post("/telemetry/fall", h.Triggers.TelemetryFall)
		r.Post("/telemetry/prevention", h.Triggers.Prevention)
	})

	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.Incidents.List)
		r.Get("/{id}", h.Incidents.Get)
		r.Post("/{id}/ack", h.Incidents.Ack)
		r.Post("/{id}/false-alarm", h.Incidents.FalseAlarm)
		r.Get("/{id}/timeline", h.Incidents.Timeline)
		r.Get("/{id}/plans", h.Incidents.PlanHistory)
		r.Get("/{id}/frames", h.Incidents.Frames)
		r.Get("/{id}/summary", h.Incidents.Summary)
	})

	r.Route("/cameras", func(r chi.Router) {
		r.Post("/", h.Cameras.Create)
		r.Get("/", h.Cameras.List)
		r.Get("/{id}", h.Cameras.Get)
		r.Patch("/{id}", h.Cameras.Update)
		r.Get("/{id}/config", h.Cameras.GetConfig)
		r.Put("/{id}/config", h.Cameras.PutConfig)
		r.Get("/{id}/onboarding", h.Cameras.OnboardingStatus)
		r.Post("/{id}/onboarding", h.Cameras.Onboard)
		r.Put("/{id}/policy", h.Cameras.PutPolicy)
	})

	// Twilio webhooks, same throttling posture as triggers.
	r.Group(func(r chi.Router) {
		r.Use(throttled)
		r.Post("/twilio/voice/{incident_id}", h.Twilio.Voice)
		r.Post("/twilio/dtmf/{incident_id}", h.Twilio.DTMF)
	})

	r.Route("/agent", func(r chi.Router) {
		r.Post("/notes", h.Agent.AddNote)
		r.Get("/notes", h.Agent.ListNotes)
		r.Post("/chat", h.Agent.Chat)
	})

	r.Post("/accessibility/speak", h.Accessibility.Speak)
	r.Post("/tokens/stream", h.Tokens.Stream)
	r.Get("/ws/timeline", h.WS.Timeline)

	return r
}
