package logic

import "math"

// DefaultThreshold is the AI threshold used when neither the model nor the
// configuration supplies one.
const DefaultThreshold = 0.06

// DefaultEmergencyPct is the soil moisture at or below which water is
// requested regardless of the model.
const DefaultEmergencyPct = 20.0

// Decide combines the model probability and the emergency threshold.
// When both triggers fire the reason is AI; this tie-break is fixed.
func Decide(probability, soilPct, threshold, emergencyPct float64) Decision {
	p := clampProbability(probability)
	d := Decision{
		Probability:      p,
		AITrigger:        p >= threshold,
		EmergencyTrigger: soilPct <= emergencyPct,
		Mode:             ModeAI,
	}
	d.FinalOn = d.AITrigger || d.EmergencyTrigger
	d.Reason = reasonFor(d)
	return d
}

// DecideEmergencyOnly is the fallback used while no model is available.
// Probability is reported as 0 and the AI trigger never fires.
func DecideEmergencyOnly(soilPct, emergencyPct float64) Decision {
	d := Decision{
		EmergencyTrigger: soilPct <= emergencyPct,
		Mode:             ModeEmergencyOnly,
	}
	d.FinalOn = d.EmergencyTrigger
	d.Reason = reasonFor(d)
	return d
}

func reasonFor(d Decision) Reason {
	switch {
	case d.AITrigger:
		return ReasonAI
	case d.EmergencyTrigger:
		return ReasonEmergency
	}
	return ReasonNone
}

func clampProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
