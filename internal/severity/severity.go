// Package severity holds the deterministic grading rules for incidents and
// the prevention risk score. No I/O, no clock reads: callers pass elapsed
// time and the current hour so the functions stay replayable.
package severity

// Bed states reported by the prevention assessment.
const (
	BedStateInBed           = "IN_BED"
	BedStateNearEdge        = "NEAR_EDGE"
	BedStateSittingEdge     = "SITTING_EDGE"
	BedStateLegsOver        = "LEGS_OVER"
	BedStateStandingNearBed = "STANDING_NEAR_BED"
	BedStateOutOfBed        = "OUT_OF_BED"
	BedStateUnknown         = "UNKNOWN"
)

const (
	StabilityStable   = "STABLE"
	StabilityUnstable = "UNSTABLE"
	StabilityUnknown  = "UNKNOWN"
)

// Compute grades an incident on a 1..5 scale from the planner's seed and the
// live telemetry. Time on the floor only ever raises the grade; motion and
// acknowledgement lower it.
func Compute(seed int, timeDownS, stillness, motionEnergy float64, acknowledged bool) int {
	if timeDownS < 0 {
		timeDownS = 0
	}
	sev := seed

	switch {
	case timeDownS > 120:
		sev = max(sev, 5)
	case timeDownS > 45:
		sev = max(sev, 4)
	case timeDownS > 15:
		sev = max(sev, 3)
	}

	if stillness > 0.9 && timeDownS > 30 {
		sev = min(sev+1, 5)
	}
	if motionEnergy > 0.5 && stillness < 0.3 {
		sev = max(sev-1, 1)
	}
	if acknowledged {
		sev = max(sev-1, 1)
	}

	return clamp(sev, 1, 5)
}

// RiskScore turns a bed assessment into a 0..1 fall-risk estimate. Night
// hours and an unstable posture push the score up.
func RiskScore(bedState, stability string, hour int) float64 {
	var base float64
	switch bedState {
	case BedStateInBed:
		base = 0.0
	case BedStateNearEdge:
		base = 0.2
	case BedStateSittingEdge:
		base = 0.4
	case BedStateLegsOver:
		base = 0.6
	case BedStateStandingNearBed:
		base = 0.3
	case BedStateOutOfBed:
		base = 0.1
	case BedStateUnknown:
		base = 0.15
	default:
		base = 0.1
	}

	switch stability {
	case StabilityUnstable:
		base += 0.25
	case StabilityUnknown:
		base += 0.1
	}

	if hour >= 22 || hour <= 5 {
		base += 0.1
	}

	if base < 0 {
		return 0
	}
	if base > 1 {
		return 1
	}
	return base
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
