package incidents

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/metrics"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/severity"
)

const (
	severityTickPeriod = 1 * time.Second
	maxEscalationStage = 2

	// Telemetry assumed while no fresh trigger data is attached: a person
	// down and mostly still.
	tickStillness   = 0.7
	tickMotion      = 0.1
	replanStillness = 0.7
	replanMotion    = 0.3
)

type cmdKind int

const (
	cmdSetInterval cmdKind = iota
	cmdStrongVerify
)

type command struct {
	kind     cmdKind
	interval time.Duration
}

// Controller is the single goroutine owning one ACTIVE incident. One select
// multiplexes the 1s severity tick, the replan deadline, control commands
// and cancellation, so a replan pass can never overlap its own execution
// and stopping the incident is one signal.
type Controller struct {
	svc        *Service
	incidentID string
	cameraID   string
	interval   time.Duration
	cmds       chan command
	ctx        context.Context
	cancel     context.CancelFunc
}

func newController(svc *Service, incidentID, cameraID string, interval time.Duration) *Controller {
	if interval < time.Second {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		svc:        svc,
		incidentID: incidentID,
		cameraID:   cameraID,
		interval:   interval,
		cmds:       make(chan command, 4),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Controller) stop() {
	c.cancel()
}

func (c *Controller) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("incidents: controller for %s panicked: %v", c.incidentID, r)
			c.svc.registry.forget(c)
		}
	}()

	ticker := time.NewTicker(severityTickPeriod)
	defer ticker.Stop()
	replan := time.NewTimer(c.interval)
	defer replan.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdSetInterval:
				if cmd.interval >= time.Second {
					c.interval = cmd.interval
					if !replan.Stop() {
						select {
						case <-replan.C:
						default:
						}
					}
					replan.Reset(c.interval)
				}
			case cmdStrongVerify:
				c.requestStrongVerify()
			}

		case <-ticker.C:
			if !c.severityTick() {
				c.exit()
				return
			}

		case <-replan.C:
			if !c.replanPass() {
				c.exit()
				return
			}
			replan.Reset(c.interval)
		}
	}
}

func (c *Controller) exit() {
	c.svc.registry.forget(c)
	c.cancel()
}

// severityTick advances time_down_s by a flat second and regrades. Returns
// false when the incident has left the ACTIVE state.
func (c *Controller) severityTick() bool {
	ctx := c.ctx
	inc, err := c.svc.incidents.GetByID(ctx, c.incidentID)
	if errors.Is(err, data.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		// Transient store trouble never kills the controller.
		log.Printf("incidents: tick reload %s: %v", c.incidentID, err)
		return true
	}
	if inc.Status != data.StatusActive {
		return false
	}

	inc.TimeDownS += 1.0
	next := severity.Compute(inc.SeveritySeed, inc.TimeDownS, tickStillness, tickMotion, inc.Acknowledged)
	changed := next != inc.SeverityCurrent
	inc.SeverityCurrent = next
	inc.SummaryText = Summary(inc)

	if err := c.svc.incidents.UpdateSeverity(ctx, inc.ID, next, inc.TimeDownS, inc.SummaryText); err != nil {
		log.Printf("incidents: persist tick %s: %v", inc.ID, err)
		return true
	}

	if changed || int(inc.TimeDownS)%5 == 0 {
		c.svc.emit(ctx, inc, data.KindSeverityTick, map[string]any{
			"severity_current": next,
			"time_down_s":      inc.TimeDownS,
		})
	}
	return true
}

// replanPass re-queries the planner against the current incident state,
// persists the next plan version, checks time-based escalation and executes
// whatever the guard lets through. Returns false when the incident is done.
func (c *Controller) replanPass() bool {
	ctx := c.ctx
	inc, err := c.svc.incidents.GetByID(ctx, c.incidentID)
	if errors.Is(err, data.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		log.Printf("incidents: replan reload %s: %v", c.incidentID, err)
		return true
	}
	if inc.Status != data.StatusActive {
		return false
	}

	cam, err := c.svc.cams.Get(ctx, inc.CameraID)
	if err != nil {
		c.svc.emitPlanFailed(ctx, inc, "camera not found at replan time")
		return false
	}
	policy := c.svc.cams.Policy(ctx, cam)

	// Replans fall back inside the adapter; no separate retry here.
	plan, fellBack := c.svc.planner.PlanIncident(ctx, planner.IncidentRequest{
		FramesB64:    inc.FramesB64,
		MotionEnergy: replanMotion,
		Stillness:    replanStillness,
		RoomType:     cam.RoomType,
		PolicyText:   cameras.PolicyText(cam, policy),
		State:        c.svc.plannerState(inc),
		AgentNotes:   c.svc.activeNotes(ctx, cam.ID),
		Mode:         "incident",
		VoiceEnabled: policy.VoiceEnabled,
	})
	if fellBack {
		metrics.PlanFallbacks.Inc()
	}

	version := inc.PlanVersion + 1
	inc.PlanVersion = version
	inc.ReasonsCurrent = plan.Reasons
	inc.SummaryText = Summary(inc)

	if err := c.svc.incidents.ApplyReplan(ctx, inc.ID, version, plan.Reasons, inc.SummaryText); err != nil {
		log.Printf("incidents: persist replan v%d for %s: %v", version, inc.ID, err)
		return true
	}
	c.svc.persistPlanRow(ctx, inc, plan, "fast", version)
	c.svc.emit(ctx, inc, data.KindReplan, map[string]any{
		"version": version,
		"plan":    planPayload(plan),
	})

	decisions := c.svc.guard.Review(cam.ID, plan.Actions, capsFrom(policy), inc.Acknowledged, inc.EscalationStage)
	approved := guard.Approved(plan.Actions, decisions)

	approved = append(approved, c.checkEscalation(ctx, inc, cam, policy)...)

	c.svc.exec.Execute(ctx, c.svc.ref(inc, cam), approved, inc.SummaryText)

	if planner.NeedsStrongVerify(plan) {
		c.svc.spawnStrongVerify(inc.ID, plan, replanMotion, replanStillness)
	}

	c.interval = replanInterval(plan)
	return true
}

// checkEscalation proposes ESCALATE_TO_BACKUP when acknowledgement is
// overdue, subject to guard approval. Returns the action to append, if any.
func (c *Controller) checkEscalation(ctx context.Context, inc *data.Incident, cam *data.Camera, policy *data.NotificationPolicy) []planner.Action {
	if inc.Acknowledged || inc.EscalationStage >= maxEscalationStage {
		return nil
	}

	delay := cameras.ConfigInt(cam, cameras.KeyEscalationDelayS, policy.EscalationDelayS)
	if delay <= 0 {
		delay = 60
	}
	if inc.TimeDownS <= float64(delay) {
		return nil
	}

	action := planner.Action{Type: planner.ActionEscalateToBackup}
	decisions := c.svc.guard.Review(cam.ID, []planner.Action{action}, capsFrom(policy), inc.Acknowledged, inc.EscalationStage)
	if len(decisions) == 0 || !decisions[0].Approved {
		return nil
	}

	inc.EscalationStage++
	if err := c.svc.incidents.SetEscalationStage(ctx, inc.ID, inc.EscalationStage); err != nil {
		log.Printf("incidents: persist escalation stage for %s: %v", inc.ID, err)
		return nil
	}
	metrics.Escalations.Inc()
	c.svc.emit(ctx, inc, data.KindEscalation, map[string]any{"stage": inc.EscalationStage})
	return []planner.Action{action}
}

// requestStrongVerify services a REQUEST_STRONG_VERIFY action against the
// latest persisted plan.
func (c *Controller) requestStrongVerify() {
	ctx := c.ctx
	latest, err := c.svc.plans.Latest(ctx, c.incidentID)
	if err != nil {
		log.Printf("incidents: strong verify for %s: no plan to review", c.incidentID)
		return
	}
	current := planner.Plan{
		Verdict:         latest.Verdict,
		SeveritySeed:    latest.SeveritySeed,
		Confidence:      latest.Confidence,
		Reasons:         latest.Reasons,
		ReplanIntervalS: latest.ReplanIntervalS,
	}
	c.svc.spawnStrongVerify(c.incidentID, current, replanMotion, replanStillness)
}
