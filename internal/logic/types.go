// Package logic contains the pure control logic of the irrigation controller:
// signal conditioning, feature building, the watering decision and the pump
// state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Phase is the externally visible state of the pump.
type Phase string

const (
	PhaseOff     Phase = "OFF"
	PhaseOn      Phase = "ON"
	PhaseResting Phase = "RESTING" // OFF, but gated by RestUntil
)

// Reason explains why the decision engine asked for water.
type Reason string

const (
	ReasonAI        Reason = "AI"
	ReasonEmergency Reason = "EMERGENCY"
	ReasonNone      Reason = "NONE"
)

// Mode is the decision mode of the controller.
type Mode string

const (
	// ModeAI combines model probability and the emergency threshold.
	ModeAI Mode = "AI"
	// ModeEmergencyOnly is the fallback when no model is available:
	// only the emergency threshold can request water.
	ModeEmergencyOnly Mode = "EMERGENCY_ONLY"
)

// EventType represents a pump transition.
type EventType string

const (
	EventPumpOn  EventType = "PUMP_ON"
	EventPumpOff EventType = "PUMP_OFF"
)

// Cause records what drove a pump transition.
type Cause string

const (
	CauseDemand          Cause = "DEMAND"
	CauseBurstComplete   Cause = "BURST_COMPLETE"
	CauseMaxOnCutoff     Cause = "MAX_ON_CUTOFF"
	CauseBudgetExhausted Cause = "BUDGET_EXHAUSTED"
	CauseShutdown        Cause = "SHUTDOWN"
)

// Event represents a pump transition to be published.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Cause      Cause
	RunSeconds int // runtime accounted in the current hour window
}

// EventCounts tracks pump transitions since startup.
type EventCounts struct {
	PumpOn          int
	PumpOff         int
	MaxOnCutoffs    int
	BudgetCutoffs   int
	BurstCompletes  int
	ShutdownCutoffs int
}

// RawSample is one cycle's worth of raw sensor input.
// ADC holds the burst of raw moisture reads; Temperature and Humidity are nil
// when the climate sensor did not answer.
type RawSample struct {
	ADC         []int
	Temperature *float64 // °C
	Humidity    *float64 // %RH
	Time        time.Time
}

// ConditionedReading is the smoothed, calibrated view of a RawSample.
type ConditionedReading struct {
	ADCMedian   int // de-noised raw value of this burst
	ADCSmoothed int // moving average of medians
	SoilPct     float64
	SoilMA      float64 // trend average over the longer window
	DeltaSoil   float64
	Temperature *float64
	Humidity    *float64
	Time        time.Time
}

// Decision is the output of the decision engine for one cycle.
type Decision struct {
	Probability      float64
	AITrigger        bool
	EmergencyTrigger bool
	FinalOn          bool
	Reason           Reason
	Mode             Mode
}

// PumpState is the cross-cycle state owned by PumpController.
type PumpState struct {
	On              bool
	LastChange      time.Time
	OnStart         time.Time
	RestUntil       time.Time
	HourWindowStart time.Time
	RunThisHour     time.Duration
}

// RunSecondsThisHour returns the accounted runtime in whole seconds.
func (s PumpState) RunSecondsThisHour() int {
	return int(s.RunThisHour / time.Second)
}
