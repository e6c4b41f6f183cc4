// Package planner adapts the external vision-language model into the typed
// plans the incident controller consumes. Parsing is strict; any invalid
// model output degrades to the deterministic fallback plan.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Verdicts the model may return.
const (
	VerdictNoIncident    = "NO_INCIDENT"
	VerdictPossibleFall  = "POSSIBLE_FALL"
	VerdictConfirmedFall = "CONFIRMED_FALL"
	VerdictFalseAlarm    = "FALSE_ALARM"
)

type ActionType string

const (
	ActionIncreaseCheckRate     ActionType = "INCREASE_CHECK_RATE"
	ActionSendHeadsup           ActionType = "SEND_LOW_PRIORITY_HEADSUP"
	ActionSendSMSPrimary        ActionType = "SEND_SMS_PRIMARY"
	ActionStartVoiceCallPrimary ActionType = "START_VOICE_CALL_PRIMARY"
	ActionEscalateToBackup      ActionType = "ESCALATE_TO_BACKUP"
	ActionCancelEscalation      ActionType = "CANCEL_ESCALATION"
	ActionCloseIncident         ActionType = "CLOSE_INCIDENT"
	ActionRequestStrongVerify   ActionType = "REQUEST_STRONG_VERIFY"
)

var validVerdicts = map[string]bool{
	VerdictNoIncident:    true,
	VerdictPossibleFall:  true,
	VerdictConfirmedFall: true,
	VerdictFalseAlarm:    true,
}

var validActions = map[ActionType]bool{
	ActionIncreaseCheckRate:     true,
	ActionSendHeadsup:           true,
	ActionSendSMSPrimary:        true,
	ActionStartVoiceCallPrimary: true,
	ActionEscalateToBackup:      true,
	ActionCancelEscalation:      true,
	ActionCloseIncident:         true,
	ActionRequestStrongVerify:   true,
}

// Action is one proposed side effect, executed after DelayS seconds.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	DelayS float64        `json:"delay_s,omitempty"`
}

// Plan is one structured grading of an incident.
type Plan struct {
	Verdict         string   `json:"verdict"`
	SeveritySeed    int      `json:"severity_seed"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons"`
	Actions         []Action `json:"actions"`
	ReplanIntervalS float64  `json:"replan_interval_s"`
}

// BedAssessment is the prevention-sweep posture estimate.
type BedAssessment struct {
	BedState   string  `json:"bed_state"`
	Stability  string  `json:"stability"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

var ErrInvalidPlan = errors.New("invalid planner output")

// stripFence removes a leading/trailing markdown code fence if the model
// wrapped its JSON despite instructions.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParsePlan decodes and validates one model response. Unknown enum values
// are rejected, never coerced.
func ParsePlan(raw string) (Plan, error) {
	var p Plan
	if err := json.Unmarshal([]byte(stripFence(raw)), &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	if !validVerdicts[p.Verdict] {
		return Plan{}, fmt.Errorf("%w: unknown verdict %q", ErrInvalidPlan, p.Verdict)
	}
	if p.SeveritySeed < 1 || p.SeveritySeed > 5 {
		return Plan{}, fmt.Errorf("%w: severity_seed %d out of range", ErrInvalidPlan, p.SeveritySeed)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return Plan{}, fmt.Errorf("%w: confidence %v out of range", ErrInvalidPlan, p.Confidence)
	}
	for _, a := range p.Actions {
		if !validActions[a.Type] {
			return Plan{}, fmt.Errorf("%w: unknown action type %q", ErrInvalidPlan, a.Type)
		}
		if a.DelayS < 0 {
			return Plan{}, fmt.Errorf("%w: negative delay_s", ErrInvalidPlan)
		}
	}
	if p.ReplanIntervalS == 0 {
		p.ReplanIntervalS = 5.0
	}
	if p.ReplanIntervalS < 1.0 {
		return Plan{}, fmt.Errorf("%w: replan_interval_s %v below 1.0", ErrInvalidPlan, p.ReplanIntervalS)
	}
	return p, nil
}

// ParseBedAssessment decodes a posture estimate; any failure yields the
// UNKNOWN zero value so the prevention sweep never aborts on model noise.
func ParseBedAssessment(raw string) BedAssessment {
	var a BedAssessment
	if err := json.Unmarshal([]byte(stripFence(raw)), &a); err != nil {
		return BedAssessment{BedState: "UNKNOWN", Stability: "UNKNOWN"}
	}
	if a.BedState == "" {
		a.BedState = "UNKNOWN"
	}
	if a.Stability == "" {
		a.Stability = "UNKNOWN"
	}
	return a
}

// NeedsStrongVerify reports whether a plan's confidence is too low for its
// stakes and deserves a second opinion from the strong model.
func NeedsStrongVerify(p Plan) bool {
	if p.Verdict == VerdictPossibleFall && p.Confidence < 0.6 {
		return true
	}
	return p.SeveritySeed >= 4 && p.Confidence < 0.7
}

// FallbackIncident is the deterministic plan used when the model is
// unavailable or keeps returning garbage.
func FallbackIncident(motionEnergy float64, voiceEnabled bool) Plan {
	seed := 3
	if motionEnergy > 0.8 {
		seed = 4
	}
	actions := []Action{{Type: ActionSendSMSPrimary}}
	if voiceEnabled && seed >= 4 {
		actions = append(actions, Action{Type: ActionStartVoiceCallPrimary, DelayS: 1.0})
	}
	return Plan{
		Verdict:         VerdictPossibleFall,
		SeveritySeed:    seed,
		Confidence:      0.3,
		Reasons:         []string{"Fallback plan: planner unavailable or invalid"},
		Actions:         actions,
		ReplanIntervalS: 5.0,
	}
}

// FallbackPrevention keeps a high-risk camera under closer watch when the
// model cannot be reached during a prevention sweep.
func FallbackPrevention() Plan {
	return Plan{
		Verdict:         VerdictNoIncident,
		SeveritySeed:    1,
		Confidence:      0.5,
		Reasons:         []string{"Risk score elevated - increasing monitoring"},
		Actions:         []Action{{Type: ActionIncreaseCheckRate, Params: map[string]any{"interval_s": 10}}},
		ReplanIntervalS: 30.0,
	}
}
