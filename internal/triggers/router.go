// Package triggers routes vision callbacks and telemetry into the incident
// path or the prevention path, deduplicating against the camera's ACTIVE
// incident so a burst of triggers yields exactly one incident.
package triggers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/executor"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/incidents"
	"github.com/technosupport/camguard/internal/metrics"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/severity"
	"github.com/technosupport/camguard/internal/timeline"
)

const maxStoredFrames = 4

// Planner is the adapter surface the router needs beyond the incident flow.
type Planner interface {
	PlanIncident(ctx context.Context, req planner.IncidentRequest) (planner.Plan, bool)
	AssessBed(ctx context.Context, framesB64 []string, bedPolygon [][]float64, roomType string) planner.BedAssessment
}

type Router struct {
	store   data.IncidentModel
	svc     *incidents.Service
	cams    *cameras.Service
	planner Planner
	guard   *guard.Guard
	exec    *executor.Executor
	logger  *timeline.Logger
}

func NewRouter(store data.IncidentModel, svc *incidents.Service, cams *cameras.Service, pln Planner, g *guard.Guard, exec *executor.Executor, logger *timeline.Logger) *Router {
	return &Router{store: store, svc: svc, cams: cams, planner: pln, guard: g, exec: exec, logger: logger}
}

// VisionFall handles a vision-confirmed fall callback. Returns the incident
// and whether it was newly created.
func (r *Router) VisionFall(ctx context.Context, cameraID, frameB64 string) (*data.Incident, bool, error) {
	cam, err := r.cams.Get(ctx, cameraID)
	if err != nil {
		return nil, false, err
	}

	label := subjectLabel(cam)
	reasons := []string{
		fmt.Sprintf("%s detected on the floor", label),
		"Fall detected by vision system",
	}
	payload := map[string]any{"source": "vision", "type": "fall", "label": label}

	return r.route(ctx, cam, frameB64, seed{
		verdict:    planner.VerdictConfirmedFall,
		severity:   4,
		risk:       0.9,
		confidence: 0.8,
		reasons:    reasons,
		motion:     0.5,
		stillness:  0.8,
	}, payload, "vision_fall")
}

// VisionEdge handles a bed-edge warning callback.
func (r *Router) VisionEdge(ctx context.Context, cameraID, frameB64 string) (*data.Incident, bool, error) {
	cam, err := r.cams.Get(ctx, cameraID)
	if err != nil {
		return nil, false, err
	}

	label := subjectLabel(cam)
	reasons := []string{
		fmt.Sprintf("%s is at the edge of the bed", label),
		"Edge proximity detected by vision system",
	}
	payload := map[string]any{"source": "vision", "type": "edge_warning", "label": label}

	return r.route(ctx, cam, frameB64, seed{
		verdict:    planner.VerdictPossibleFall,
		severity:   3,
		risk:       0.6,
		confidence: 0.65,
		reasons:    reasons,
		motion:     0.4,
		stillness:  0.5,
	}, payload, "vision_edge")
}

// TelemetryFall handles the motion-heuristic fall trigger. Confidence is
// left to the planner's first grading.
func (r *Router) TelemetryFall(ctx context.Context, cameraID string, motion, stillness float64, framesB64 []string) (*data.Incident, bool, error) {
	cam, err := r.cams.Get(ctx, cameraID)
	if err != nil {
		return nil, false, err
	}

	payload := map[string]any{
		"trigger_kind":    "FALL_TRIGGER",
		"motion_energy":   motion,
		"stillness_score": stillness,
	}
	frame := ""
	if len(framesB64) > 0 {
		frame = framesB64[len(framesB64)-1]
	}

	return r.route(ctx, cam, frame, seed{
		verdict:   planner.VerdictPossibleFall,
		severity:  3,
		risk:      0.8,
		reasons:   []string{"Motion spike followed by stillness"},
		motion:    motion,
		stillness: stillness,
		frames:    framesB64,
	}, payload, "telemetry_fall")
}

type seed struct {
	verdict    string
	severity   int
	risk       float64
	confidence float64
	reasons    []string
	motion     float64
	stillness  float64
	frames     []string
}

func (r *Router) route(ctx context.Context, cam *data.Camera, frameB64 string, sd seed, payload map[string]any, source string) (*data.Incident, bool, error) {
	// Dedup: a camera with an ACTIVE incident never gets a second one. The
	// trigger's frames attach to the running incident instead.
	existing, err := r.store.GetActiveByCamera(ctx, cam.ID)
	if err == nil {
		metrics.TriggersRouted.WithLabelValues(source, "attached").Inc()
		r.attach(ctx, existing, frameB64, sd.frames, payload)
		// Telemetry carries fresh motion numbers, so it re-plans the running
		// incident without touching its severity seed. Vision attaches
		// frames only.
		if source == "telemetry_fall" {
			r.svc.ReplanAttached(ctx, existing, cam, sd.motion, sd.stillness)
		}
		return existing, false, nil
	}
	if err != data.ErrRecordNotFound {
		return nil, false, err
	}

	frames := sd.frames
	if frameB64 != "" {
		frames = append(frames, frameB64)
	}
	if len(frames) > maxStoredFrames {
		frames = frames[len(frames)-maxStoredFrames:]
	}

	inc := &data.Incident{
		CameraID:        cam.ID,
		Status:          data.StatusActive,
		Verdict:         sd.verdict,
		SeveritySeed:    sd.severity,
		SeverityCurrent: sd.severity,
		RiskScore:       sd.risk,
		Confidence:      sd.confidence,
		ReasonsCurrent:  sd.reasons,
		Language:        cam.Language,
		FramesB64:       frames,
	}
	if err := r.store.Create(ctx, inc); err != nil {
		return nil, false, err
	}
	metrics.TriggersRouted.WithLabelValues(source, "created").Inc()

	_ = r.logger.Append(ctx, inc.ID, cam.ID, data.KindTriggerReceived, payload)
	r.logger.BroadcastOnly("INCIDENT_CREATED", map[string]any{
		"type":         "incident_created",
		"incident_id":  inc.ID,
		"camera_id":    cam.ID,
		"severity":     inc.SeverityCurrent,
		"verdict":      inc.Verdict,
		"message":      fmt.Sprintf("Incident on camera %s", cam.Name),
		"threat_level": threatLevel(inc.SeverityCurrent),
	})

	r.svc.RunFirstPlan(ctx, inc, cam, sd.motion, sd.stillness)
	return inc, true, nil
}

func (r *Router) attach(ctx context.Context, inc *data.Incident, frameB64 string, extraFrames []string, payload map[string]any) {
	frames := inc.FramesB64
	frames = append(frames, extraFrames...)
	if frameB64 != "" {
		frames = append(frames, frameB64)
	}
	if len(frames) > maxStoredFrames {
		frames = frames[len(frames)-maxStoredFrames:]
	}
	if err := r.store.AttachFrames(ctx, inc.ID, frames); err != nil {
		log.Printf("triggers: attach frames to %s: %v", inc.ID, err)
	}
	inc.FramesB64 = frames

	payload["attached_to_active"] = true
	_ = r.logger.Append(ctx, inc.ID, inc.CameraID, data.KindTriggerReceived, payload)
}

// Prevention runs one prevention sweep for a camera: assess bed posture,
// refresh the risk score, and when risk crosses the high threshold, plan
// and execute light-touch monitoring actions (no controller is started).
func (r *Router) Prevention(ctx context.Context, cameraID string, framesB64 []string, hour int) (float64, error) {
	cam, err := r.cams.Get(ctx, cameraID)
	if err != nil {
		return 0, err
	}
	metrics.TriggersRouted.WithLabelValues("prevention", "swept").Inc()

	assessment := r.planner.AssessBed(ctx, framesB64, cam.BedPolygon, cam.RoomType)
	risk := severity.RiskScore(assessment.BedState, assessment.Stability, hour)

	if err := r.cams.UpdateRisk(ctx, cam.ID, risk, time.Now().UTC()); err != nil {
		log.Printf("triggers: persist risk for %s: %v", cam.ID, err)
	}

	sweepID := fmt.Sprintf("prev-%s-%s", shortID(cam.ID), uuid.New().String()[:8])
	_ = r.logger.Append(ctx, sweepID, cam.ID, data.KindBedAssessment, map[string]any{
		"bed_state":  assessment.BedState,
		"stability":  assessment.Stability,
		"confidence": assessment.Confidence,
		"notes":      assessment.Notes,
	})
	_ = r.logger.Append(ctx, sweepID, cam.ID, data.KindRiskUpdated, map[string]any{"risk_score": risk})

	threshold := cameras.ConfigFloat(cam, cameras.KeyRiskThresholdHigh, 0.7)
	if risk < threshold {
		return risk, nil
	}

	policy := r.cams.Policy(ctx, cam)
	plan, fellBack := r.planner.PlanIncident(ctx, planner.IncidentRequest{
		FramesB64:    framesB64,
		RoomType:     cam.RoomType,
		PolicyText:   cameras.PolicyText(cam, policy),
		Mode:         "prevention",
		VoiceEnabled: policy.VoiceEnabled,
	})
	if fellBack {
		metrics.PlanFallbacks.Inc()
	}

	_ = r.logger.Append(ctx, sweepID, cam.ID, data.KindPlanCreated, map[string]any{
		"model": "fast",
		"plan": map[string]any{
			"verdict":    plan.Verdict,
			"confidence": plan.Confidence,
			"reasons":    plan.Reasons,
			"actions":    plan.Actions,
		},
	})

	caps := guard.CameraCaps{
		VoiceEnabled:     policy.VoiceEnabled,
		SMSEnabled:       policy.SMSEnabled,
		CooldownContactS: policy.CooldownContactS,
		MaxPrimaryCalls:  policy.MaxPrimaryCallAttempts,
	}
	decisions := r.guard.Review(cam.ID, plan.Actions, caps, false, 0)
	_ = r.logger.Append(ctx, sweepID, cam.ID, data.KindPlanApproved, map[string]any{"decisions": decisions})

	r.exec.Execute(ctx, executor.IncidentRef{
		IncidentID:     sweepID,
		CameraID:       cam.ID,
		PrimaryContact: cam.PrimaryContact,
		BackupContact:  cam.BackupContact,
	}, guard.Approved(plan.Actions, decisions), fmt.Sprintf("Risk score elevated to %.2f", risk))

	return risk, nil
}

func subjectLabel(cam *data.Camera) string {
	if cam.MonitoringType == "babies" {
		return "Baby"
	}
	return "Person"
}

func threatLevel(sev int) string {
	switch {
	case sev >= 4:
		return "high"
	case sev == 3:
		return "medium"
	default:
		return "low"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
