package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IncidentState is the controller-side snapshot the prompts embed. Kept as
// its own type so the adapter never imports the store.
type IncidentState struct {
	IncidentID      string   `json:"incident_id"`
	Status          string   `json:"status"`
	SeveritySeed    int      `json:"severity_seed"`
	SeverityCurrent int      `json:"severity_current"`
	TimeDownS       float64  `json:"time_down_s"`
	Acknowledged    bool     `json:"acknowledged"`
	EscalationStage int      `json:"escalation_stage"`
	PlanVersion     int      `json:"plan_version"`
	ReasonsCurrent  []string `json:"reasons_current"`
}

const planSchema = `Respond with a single JSON object, no prose, matching exactly:
{
  "verdict": "NO_INCIDENT" | "POSSIBLE_FALL" | "CONFIRMED_FALL" | "FALSE_ALARM",
  "severity_seed": <int 1-5>,
  "confidence": <float 0-1>,
  "reasons": ["<short factual observation>", ...],
  "actions": [{"type": "<action>", "delay_s": <float >= 0>, "params": {}}, ...],
  "replan_interval_s": <float 5-60>
}
Allowed action types: INCREASE_CHECK_RATE, SEND_LOW_PRIORITY_HEADSUP,
SEND_SMS_PRIMARY, START_VOICE_CALL_PRIMARY, ESCALATE_TO_BACKUP,
CANCEL_ESCALATION, CLOSE_INCIDENT, REQUEST_STRONG_VERIFY.
Only output the JSON object, nothing else.`

func buildIncidentPrompt(mode, roomType, policyText string, motion, stillness float64, state IncidentState, agentNotes []string) string {
	var b strings.Builder

	if mode == "prevention" {
		b.WriteString("You are a fall-prevention agent watching a caregiver camera. ")
		b.WriteString("Risk is elevated but no fall has occurred; propose light-touch monitoring actions.\n\n")
	} else {
		b.WriteString("You are a fall-response agent for a caregiver camera. ")
		b.WriteString("A possible fall trigger fired; grade the situation from the attached frames and telemetry.\n\n")
	}

	fmt.Fprintf(&b, "Room type: %s\n", roomType)
	fmt.Fprintf(&b, "Telemetry: motion_energy=%.2f stillness=%.2f\n", motion, stillness)
	if policyText != "" {
		fmt.Fprintf(&b, "Notification policy: %s\n", policyText)
	}

	if state.IncidentID != "" {
		stateJSON, _ := json.Marshal(state)
		fmt.Fprintf(&b, "Current incident state: %s\n", stateJSON)
	}

	if len(agentNotes) > 0 {
		b.WriteString("Active caregiver monitoring instructions:\n")
		for _, n := range agentNotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}

	b.WriteString("\n")
	b.WriteString(planSchema)
	return b.String()
}

func buildStrongVerifyPrompt(currentPlan Plan, state IncidentState, motion, stillness float64) string {
	var b strings.Builder
	b.WriteString("You are the senior reviewer for a fall-response agent. A fast model graded this ")
	b.WriteString("incident with low confidence; re-examine the frames carefully and produce a refined grading.\n\n")

	planJSON, _ := json.Marshal(currentPlan)
	fmt.Fprintf(&b, "Current plan under review: %s\n", planJSON)
	stateJSON, _ := json.Marshal(state)
	fmt.Fprintf(&b, "Current incident state: %s\n", stateJSON)
	fmt.Fprintf(&b, "Telemetry: motion_energy=%.2f stillness=%.2f\n", motion, stillness)

	b.WriteString("\n")
	b.WriteString(planSchema)
	return b.String()
}

func buildBedAssessmentPrompt(roomType string, bedPolygon [][]float64) string {
	var b strings.Builder
	b.WriteString("You are assessing fall risk from a caregiver camera frame. ")
	b.WriteString("Determine where the person is relative to the bed and how stable their posture looks.\n\n")
	fmt.Fprintf(&b, "Room type: %s\n", roomType)
	if len(bedPolygon) >= 3 {
		polyJSON, _ := json.Marshal(bedPolygon)
		fmt.Fprintf(&b, "Bed polygon (normalized image coordinates): %s\n", polyJSON)
	}
	b.WriteString(`
Respond with a single JSON object, no prose:
{
  "bed_state": "IN_BED" | "NEAR_EDGE" | "SITTING_EDGE" | "LEGS_OVER" | "STANDING_NEAR_BED" | "OUT_OF_BED" | "UNKNOWN",
  "stability": "STABLE" | "UNSTABLE" | "UNKNOWN",
  "confidence": <float 0-1>,
  "notes": "<one short sentence>"
}
Only output the JSON object, nothing else.`)
	return b.String()
}
