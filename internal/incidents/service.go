// Package incidents owns the live incident lifecycle: the first plan after
// a trigger, the per-incident controller loop (replan + severity tick), the
// one-shot strong verification, and the ack / false-alarm terminal flows.
package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/executor"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/metrics"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/warehouse"
)

var ErrIncidentNotFound = errors.New("incident not found")

// Planner is the adapter surface the service drives. Tests substitute a
// canned implementation.
type Planner interface {
	PlanIncident(ctx context.Context, req planner.IncidentRequest) (planner.Plan, bool)
	PlanStrong(ctx context.Context, framesB64 []string, motion, stillness float64, current planner.Plan, state planner.IncidentState) (planner.Plan, error)
}

type Service struct {
	incidents data.IncidentModel
	plans     data.PlanModel
	notes     data.AgentNoteModel
	cams      *cameras.Service
	planner   Planner
	guard     *guard.Guard
	exec      *executor.Executor
	logger    *timeline.Logger
	sink      *warehouse.Sink
	registry  *Registry
}

func NewService(
	incidents data.IncidentModel,
	plans data.PlanModel,
	notes data.AgentNoteModel,
	cams *cameras.Service,
	pln Planner,
	g *guard.Guard,
	exec *executor.Executor,
	logger *timeline.Logger,
	sink *warehouse.Sink,
	registry *Registry,
) *Service {
	return &Service{
		incidents: incidents,
		plans:     plans,
		notes:     notes,
		cams:      cams,
		planner:   pln,
		guard:     g,
		exec:      exec,
		logger:    logger,
		sink:      sink,
		registry:  registry,
	}
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Get(ctx context.Context, id string) (*data.Incident, error) {
	inc, err := s.incidents.GetByID(ctx, id)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil, ErrIncidentNotFound
	}
	return inc, err
}

// RunFirstPlan drives the full observe→plan→guard→execute pass for a fresh
// incident and starts its controller. The motion/stillness values come from
// the trigger when available.
func (s *Service) RunFirstPlan(ctx context.Context, inc *data.Incident, cam *data.Camera, motion, stillness float64) {
	policy := s.cams.Policy(ctx, cam)

	plan, fellBack := s.planner.PlanIncident(ctx, planner.IncidentRequest{
		FramesB64:    inc.FramesB64,
		MotionEnergy: motion,
		Stillness:    stillness,
		RoomType:     cam.RoomType,
		PolicyText:   cameras.PolicyText(cam, policy),
		State:        s.plannerState(inc),
		AgentNotes:   s.activeNotes(ctx, cam.ID),
		Mode:         "incident",
		VoiceEnabled: policy.VoiceEnabled,
	})
	if fellBack {
		metrics.PlanFallbacks.Inc()
	}

	version := inc.PlanVersion + 1
	inc.PlanVersion = version
	inc.SeveritySeed = plan.SeveritySeed
	inc.SeverityCurrent = plan.SeveritySeed
	inc.Verdict = plan.Verdict
	inc.Confidence = plan.Confidence
	inc.ReasonsCurrent = plan.Reasons
	inc.SummaryText = Summary(inc)

	if err := s.incidents.ApplyFirstPlan(ctx, inc.ID, version, plan.SeveritySeed, plan.Verdict, plan.Confidence, plan.Reasons, inc.SummaryText); err != nil {
		log.Printf("incidents: persist first plan for %s: %v", inc.ID, err)
		s.emitPlanFailed(ctx, inc, fmt.Sprintf("persist first plan: %v", err))
		return
	}

	s.persistPlanRow(ctx, inc, plan, "fast", version)
	s.emit(ctx, inc, data.KindPlanCreated, map[string]any{
		"model":   "fast",
		"version": version,
		"plan":    planPayload(plan),
	})

	decisions := s.guard.Review(cam.ID, plan.Actions, capsFrom(policy), inc.Acknowledged, inc.EscalationStage)
	s.emit(ctx, inc, data.KindPlanApproved, map[string]any{"decisions": decisions})

	s.exec.Execute(ctx, s.ref(inc, cam), guard.Approved(plan.Actions, decisions), inc.SummaryText)

	if planner.NeedsStrongVerify(plan) {
		s.spawnStrongVerify(inc.ID, plan, motion, stillness)
	}

	s.StartController(inc, replanInterval(plan))
}

// ReplanAttached re-plans a running incident after a repeat trigger attached
// fresh motion numbers to it. The severity seed set by the first plan is
// preserved; only the verdict, confidence and narrative refresh. The
// incident's controller keeps running on its own cadence.
func (s *Service) ReplanAttached(ctx context.Context, inc *data.Incident, cam *data.Camera, motion, stillness float64) {
	policy := s.cams.Policy(ctx, cam)

	plan, fellBack := s.planner.PlanIncident(ctx, planner.IncidentRequest{
		FramesB64:    inc.FramesB64,
		MotionEnergy: motion,
		Stillness:    stillness,
		RoomType:     cam.RoomType,
		PolicyText:   cameras.PolicyText(cam, policy),
		State:        s.plannerState(inc),
		AgentNotes:   s.activeNotes(ctx, cam.ID),
		Mode:         "incident",
		VoiceEnabled: policy.VoiceEnabled,
	})
	if fellBack {
		metrics.PlanFallbacks.Inc()
	}

	version := inc.PlanVersion + 1
	inc.PlanVersion = version
	inc.Verdict = plan.Verdict
	inc.Confidence = plan.Confidence
	inc.ReasonsCurrent = plan.Reasons
	inc.SummaryText = Summary(inc)

	if err := s.incidents.ApplyRegrade(ctx, inc.ID, version, plan.Verdict, plan.Confidence, plan.Reasons, inc.SummaryText); err != nil {
		log.Printf("incidents: persist attach replan for %s: %v", inc.ID, err)
		s.emitPlanFailed(ctx, inc, fmt.Sprintf("persist attach replan: %v", err))
		return
	}

	s.persistPlanRow(ctx, inc, plan, "fast", version)
	s.emit(ctx, inc, data.KindPlanCreated, map[string]any{
		"model":   "fast",
		"version": version,
		"plan":    planPayload(plan),
	})

	decisions := s.guard.Review(cam.ID, plan.Actions, capsFrom(policy), inc.Acknowledged, inc.EscalationStage)
	s.emit(ctx, inc, data.KindPlanApproved, map[string]any{"decisions": decisions})

	s.exec.Execute(ctx, s.ref(inc, cam), guard.Approved(plan.Actions, decisions), inc.SummaryText)

	if planner.NeedsStrongVerify(plan) {
		s.spawnStrongVerify(inc.ID, plan, motion, stillness)
	}
}

// StartController spins up (or replaces) the incident's control loop.
func (s *Service) StartController(inc *data.Incident, interval time.Duration) {
	s.registry.start(newController(s, inc.ID, inc.CameraID, interval))
}

// Ack transitions an ACTIVE incident to ACKED. Acking an already terminal
// incident is a successful no-op. resetGuard is false for the "caregiver
// will call" DTMF path, which pauses escalation without reopening the
// contact budget.
func (s *Service) Ack(ctx context.Context, id, ackBy string, resetGuard bool, extra ...map[string]any) (*data.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Status != data.StatusActive {
		return inc, nil
	}

	if err := s.incidents.Acknowledge(ctx, id, ackBy); err != nil {
		return nil, err
	}
	inc.Status = data.StatusAcked
	inc.Acknowledged = true
	inc.AckBy = ackBy

	s.registry.Cancel(id)
	if resetGuard {
		s.guard.Reset(inc.CameraID)
	}
	s.emit(ctx, inc, data.KindAckReceived, merge(map[string]any{"ack_by": ackBy}, extra))
	return inc, nil
}

// FalseAlarm closes the incident with the FALSE_ALARM verdict.
func (s *Service) FalseAlarm(ctx context.Context, id, reason string, extra ...map[string]any) (*data.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Status == data.StatusClosed {
		return inc, nil
	}

	if err := s.incidents.Close(ctx, id, planner.VerdictFalseAlarm, true); err != nil {
		return nil, err
	}
	inc.Status = data.StatusClosed
	inc.Verdict = planner.VerdictFalseAlarm
	inc.Acknowledged = true

	s.registry.Cancel(id)
	s.guard.Reset(inc.CameraID)
	if reason == "" {
		reason = "false_alarm"
	}
	s.emit(ctx, inc, data.KindClosed, merge(map[string]any{"reason": reason}, extra))
	return inc, nil
}

// Escalate bumps the escalation stage directly (DTMF option 3), capped at
// the guard's maximum.
func (s *Service) Escalate(ctx context.Context, id string, extra ...map[string]any) (*data.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.EscalationStage >= 2 {
		return inc, nil
	}

	inc.EscalationStage++
	if err := s.incidents.SetEscalationStage(ctx, id, inc.EscalationStage); err != nil {
		return nil, err
	}
	metrics.Escalations.Inc()
	s.emit(ctx, inc, data.KindEscalation, merge(map[string]any{"stage": inc.EscalationStage}, extra))
	return inc, nil
}

// spawnStrongVerify runs the one-shot second opinion in the background.
// It only re-grades: no actions execute from this path.
func (s *Service) spawnStrongVerify(incidentID string, current planner.Plan, motion, stillness float64) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("incidents: strong verify panic for %s: %v", incidentID, r)
			}
		}()
		s.strongVerify(context.Background(), incidentID, current, motion, stillness)
	}()
}

func (s *Service) strongVerify(ctx context.Context, incidentID string, current planner.Plan, motion, stillness float64) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil || inc.Status != data.StatusActive {
		return
	}

	refined, err := s.planner.PlanStrong(ctx, inc.FramesB64, motion, stillness, current, s.plannerState(inc))
	if err != nil {
		log.Printf("incidents: strong verify for %s aborted: %v", incidentID, err)
		return
	}

	version := inc.PlanVersion + 1
	inc.PlanVersion = version
	inc.Verdict = refined.Verdict
	inc.Confidence = refined.Confidence
	inc.ReasonsCurrent = refined.Reasons
	inc.SummaryText = Summary(inc)

	if err := s.incidents.ApplyRegrade(ctx, incidentID, version, refined.Verdict, refined.Confidence, refined.Reasons, inc.SummaryText); err != nil {
		log.Printf("incidents: persist strong verify for %s: %v", incidentID, err)
		return
	}
	s.persistPlanRow(ctx, inc, refined, "strong", version)
	s.emit(ctx, inc, data.KindPlanCreated, map[string]any{
		"model":   "strong",
		"version": version,
		"plan":    planPayload(refined),
	})
}

func (s *Service) persistPlanRow(ctx context.Context, inc *data.Incident, plan planner.Plan, model string, version int) {
	actionsJSON, _ := json.Marshal(plan.Actions)
	row := &data.IncidentPlan{
		IncidentID:      inc.ID,
		Version:         version,
		ModelUsed:       model,
		Verdict:         plan.Verdict,
		SeveritySeed:    plan.SeveritySeed,
		Confidence:      plan.Confidence,
		Reasons:         plan.Reasons,
		Actions:         actionsJSON,
		ReplanIntervalS: plan.ReplanIntervalS,
	}
	if err := s.plans.Create(ctx, row); err != nil {
		log.Printf("incidents: persist plan row v%d for %s: %v", version, inc.ID, err)
		return
	}
	metrics.PlansCreated.WithLabelValues(model).Inc()
	s.sink.WritePlan(row)
}

func (s *Service) plannerState(inc *data.Incident) planner.IncidentState {
	return planner.IncidentState{
		IncidentID:      inc.ID,
		Status:          inc.Status,
		SeveritySeed:    inc.SeveritySeed,
		SeverityCurrent: inc.SeverityCurrent,
		TimeDownS:       inc.TimeDownS,
		Acknowledged:    inc.Acknowledged,
		EscalationStage: inc.EscalationStage,
		PlanVersion:     inc.PlanVersion,
		ReasonsCurrent:  inc.ReasonsCurrent,
	}
}

func (s *Service) activeNotes(ctx context.Context, cameraID string) []string {
	notes, err := s.notes.ListActiveForCamera(ctx, cameraID, 10)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Text)
	}
	return out
}

func (s *Service) ref(inc *data.Incident, cam *data.Camera) executor.IncidentRef {
	return executor.IncidentRef{
		IncidentID:     inc.ID,
		CameraID:       cam.ID,
		PrimaryContact: cam.PrimaryContact,
		BackupContact:  cam.BackupContact,
	}
}

func (s *Service) emit(ctx context.Context, inc *data.Incident, kind string, payload map[string]any) {
	_ = s.logger.Append(ctx, inc.ID, inc.CameraID, kind, payload)
}

func (s *Service) emitPlanFailed(ctx context.Context, inc *data.Incident, reason string) {
	s.emit(ctx, inc, data.KindPlanFailed, map[string]any{"reason": reason})
}

func merge(payload map[string]any, extra []map[string]any) map[string]any {
	for _, m := range extra {
		for k, v := range m {
			payload[k] = v
		}
	}
	return payload
}

func capsFrom(p *data.NotificationPolicy) guard.CameraCaps {
	return guard.CameraCaps{
		VoiceEnabled:     p.VoiceEnabled,
		SMSEnabled:       p.SMSEnabled,
		CooldownContactS: p.CooldownContactS,
		MaxPrimaryCalls:  p.MaxPrimaryCallAttempts,
	}
}

func replanInterval(p planner.Plan) time.Duration {
	s := p.ReplanIntervalS
	if s < 1 {
		s = 5
	}
	return time.Duration(s * float64(time.Second))
}

// planPayload shapes a plan for timeline payload embedding.
func planPayload(p planner.Plan) map[string]any {
	return map[string]any{
		"verdict":           p.Verdict,
		"severity_seed":     p.SeveritySeed,
		"confidence":        p.Confidence,
		"reasons":           p.Reasons,
		"actions":           p.Actions,
		"replan_interval_s": p.ReplanIntervalS,
	}
}

// Summary renders the one-sentence factual digest shown in SMS bodies and
// the incident API.
func Summary(inc *data.Incident) string {
	reasons := "Monitoring in progress"
	if len(inc.ReasonsCurrent) > 0 {
		top := inc.ReasonsCurrent
		if len(top) > 3 {
			top = top[:3]
		}
		reasons = strings.Join(top, "; ")
	}

	status := "not yet acknowledged"
	if inc.Acknowledged {
		status = "acknowledged"
	}

	return fmt.Sprintf("%s detected (severity %d/5). Time since event: %.0fs. %s. Escalation stage %d. Status: %s.",
		inc.Verdict, inc.SeverityCurrent, inc.TimeDownS, reasons, inc.EscalationStage, status)
}
