// Package guard is the deterministic admission filter between the planner
// and the outside world. Every proposed action passes through Review; only
// approved actions may reach the executor.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/technosupport/camguard/internal/metrics"
	"github.com/technosupport/camguard/internal/planner"
)

// CameraState tracks contact throttling for one camera between resets.
type CameraState struct {
	LastContactAt time.Time
	CallCount     int
}

// CameraCaps carries the camera's notification capabilities and its policy
// overrides. Zero overrides fall back to the hot-reloaded limits.
type CameraCaps struct {
	VoiceEnabled     bool
	SMSEnabled       bool
	CooldownContactS int
	MaxPrimaryCalls  int
}

// Decision is the reviewed outcome for a single proposed action.
type Decision struct {
	Action   planner.ActionType `json:"action_type"`
	Approved bool               `json:"approved"`
	Reason   string             `json:"reason"`
}

type Guard struct {
	mu     sync.Mutex
	states map[string]*CameraState
	limits func() Limits
	now    func() time.Time
}

// New builds a guard backed by the given limits provider. A nil provider
// serves the defaults.
func New(limits func() Limits) *Guard {
	if limits == nil {
		limits = func() Limits { return DefaultLimits() }
	}
	return &Guard{
		states: make(map[string]*CameraState),
		limits: limits,
		now:    time.Now,
	}
}

// Review evaluates the proposed actions in order and returns one decision per
// action. Approvals mutate the camera's throttle state, so two callers for
// the same camera serialize here.
func (g *Guard) Review(camID string, actions []planner.Action, caps CameraCaps, acked bool, escalationStage int) []Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[camID]
	if !ok {
		st = &CameraState{}
		g.states[camID] = st
	}

	lim := g.limits()
	cooldown := time.Duration(lim.ContactCooldownS) * time.Second
	if caps.CooldownContactS > 0 {
		cooldown = time.Duration(caps.CooldownContactS) * time.Second
	}
	maxCalls := lim.MaxPrimaryCalls
	if caps.MaxPrimaryCalls > 0 {
		maxCalls = caps.MaxPrimaryCalls
	}

	decisions := make([]Decision, 0, len(actions))
	for _, a := range actions {
		d := g.review(st, a, caps, acked, escalationStage, cooldown, maxCalls, lim.MaxEscalationStage)
		if !d.Approved {
			metrics.GuardDenials.WithLabelValues(reasonClass(d.Reason)).Inc()
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func (g *Guard) review(st *CameraState, a planner.Action, caps CameraCaps, acked bool, stage int, cooldown time.Duration, maxCalls, maxStage int) Decision {
	now := g.now()

	approve := func() Decision {
		return Decision{Action: a.Type, Approved: true}
	}
	deny := func(reason string) Decision {
		return Decision{Action: a.Type, Approved: false, Reason: reason}
	}

	switch a.Type {
	case planner.ActionCloseIncident, planner.ActionCancelEscalation:
		return approve()

	case planner.ActionIncreaseCheckRate, planner.ActionRequestStrongVerify:
		return approve()

	case planner.ActionSendSMSPrimary:
		if !st.LastContactAt.IsZero() && now.Sub(st.LastContactAt) < cooldown {
			return deny(fmt.Sprintf("Contact cooldown: %ds not elapsed", int(cooldown.Seconds())))
		}
		if !caps.SMSEnabled {
			return deny("SMS disabled for this camera")
		}
		st.LastContactAt = now
		return approve()

	// Heads-ups are throttled by the contact cooldown only. The SMS
	// capability flag does not apply to them.
	case planner.ActionSendHeadsup:
		if !st.LastContactAt.IsZero() && now.Sub(st.LastContactAt) < cooldown {
			return deny(fmt.Sprintf("Contact cooldown: %ds not elapsed", int(cooldown.Seconds())))
		}
		st.LastContactAt = now
		return approve()

	case planner.ActionStartVoiceCallPrimary:
		if !st.LastContactAt.IsZero() && now.Sub(st.LastContactAt) < cooldown {
			return deny(fmt.Sprintf("Contact cooldown: %ds not elapsed", int(cooldown.Seconds())))
		}
		if !caps.VoiceEnabled {
			return deny("Voice disabled for this camera")
		}
		if st.CallCount >= maxCalls {
			return deny(fmt.Sprintf("Max primary call attempts (%d) reached", maxCalls))
		}
		st.LastContactAt = now
		st.CallCount++
		return approve()

	case planner.ActionEscalateToBackup:
		if acked {
			return deny("Already acknowledged - no backup escalation")
		}
		if stage >= maxStage {
			return deny(fmt.Sprintf("Max escalation stage (%d) reached", maxStage))
		}
		st.LastContactAt = now
		return approve()

	default:
		return deny("Unknown action type")
	}
}

// Approved filters the reviewed actions down to the ones the guard let
// through, preserving input order.
func Approved(actions []planner.Action, decisions []Decision) []planner.Action {
	out := make([]planner.Action, 0, len(actions))
	for i, d := range decisions {
		if i < len(actions) && d.Approved {
			out = append(out, actions[i])
		}
	}
	return out
}

// Reset clears throttle state for a camera. Called on ack, close and
// false alarm.
func (g *Guard) Reset(camID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, camID)
}

// State returns a copy of the camera's throttle state, zero if none.
func (g *Guard) State(camID string) CameraState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[camID]; ok {
		return *st
	}
	return CameraState{}
}

func reasonClass(reason string) string {
	switch {
	case reason == "":
		return "none"
	case reason == "Unknown action type":
		return "unknown_action"
	case reason == "SMS disabled for this camera" || reason == "Voice disabled for this camera":
		return "capability"
	case reason == "Already acknowledged - no backup escalation":
		return "acked"
	case len(reason) >= 7 && reason[:7] == "Contact":
		return "cooldown"
	default:
		return "limit"
	}
}
