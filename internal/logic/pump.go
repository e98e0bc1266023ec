package logic

import "time"

// Limits are the timing and safety constants of the pump.
// MaxOn and the hourly budget (MaxMinPerHour) are hard ceilings.
type Limits struct {
	BurstOn       time.Duration // minimum time on before a normal turn-off
	Rest          time.Duration // forced rest after every turn-off
	MinOn         time.Duration // minimum time since last change before turn-off
	MinOff        time.Duration // minimum time since last change before turn-on
	MaxOn         time.Duration // safety cutoff for a single run
	MaxMinPerHour int           // runtime budget per hour window, in minutes
	HourlyBucket  time.Duration // length of the accounting window
}

// DefaultLimits returns the reference pulse-irrigation timings.
func DefaultLimits() Limits {
	return Limits{
		BurstOn:       4 * time.Second,
		Rest:          5 * time.Second,
		MinOn:         6 * time.Second,
		MinOff:        3 * time.Second,
		MaxOn:         60 * time.Second,
		MaxMinPerHour: 8,
		HourlyBucket:  time.Hour,
	}
}

// Budget returns the hourly runtime budget.
func (l Limits) Budget() time.Duration {
	return time.Duration(l.MaxMinPerHour) * time.Minute
}

// PumpController is the only component allowed to decide the relay state.
// Not safe for concurrent use; owned by the control loop.
type PumpController struct {
	limits    Limits
	state     PumpState
	counts    EventCounts
	lastCycle time.Time
	hasCycle  bool
}

// NewPumpController creates a controller with the pump off. LastChange is
// set to now, so the pump cannot start before MinOff has passed.
func NewPumpController(limits Limits, now time.Time) *PumpController {
	return &PumpController{
		limits: limits,
		state: PumpState{
			LastChange:      now,
			HourWindowStart: now,
		},
	}
}

// Update runs one cycle of the state machine and returns the transitions
// that happened. The checks run in a fixed order; a later check may undo an
// earlier one within the same cycle.
func (p *PumpController) Update(now time.Time, wantOn bool) []Event {
	var events []Event
	s := &p.state
	l := p.limits

	// Hour rollover
	if now.Sub(s.HourWindowStart) >= l.HourlyBucket {
		s.HourWindowStart = now
		s.RunThisHour = 0
	}

	// Turn-on
	if !s.On && wantOn &&
		!now.Before(s.RestUntil) &&
		now.Sub(s.LastChange) >= l.MinOff &&
		s.RunThisHour < l.Budget() {
		s.On = true
		s.OnStart = now
		s.LastChange = now
		p.counts.PumpOn++
		events = append(events, p.event(now, EventPumpOn, CauseDemand))
	}

	// Normal turn-off at the end of a burst
	if s.On && now.Sub(s.LastChange) >= l.MinOn && now.Sub(s.OnStart) >= l.BurstOn {
		events = append(events, p.turnOff(now, CauseBurstComplete))
	}

	// Safety cutoff, independent of the decision
	if s.On && now.Sub(s.OnStart) >= l.MaxOn {
		events = append(events, p.turnOff(now, CauseMaxOnCutoff))
	}

	// Runtime accounting
	if s.On {
		from := s.OnStart
		if p.hasCycle && p.lastCycle.After(from) {
			from = p.lastCycle
		}
		if s.HourWindowStart.After(from) {
			from = s.HourWindowStart
		}
		if elapsed := now.Sub(from); elapsed > 0 {
			s.RunThisHour += elapsed
		}
		if s.RunThisHour > l.HourlyBucket {
			s.RunThisHour = l.HourlyBucket
		}
		if s.RunThisHour > l.Budget() {
			s.RunThisHour = l.Budget()
		}
	}

	// Hourly budget ceiling
	if s.On && s.RunThisHour >= l.Budget() {
		events = append(events, p.turnOff(now, CauseBudgetExhausted))
	}

	p.lastCycle = now
	p.hasCycle = true
	return events
}

// ForceOff turns the pump off outside the normal cycle (shutdown, faults).
// Returns nil if the pump was already off.
func (p *PumpController) ForceOff(now time.Time, cause Cause) *Event {
	if !p.state.On {
		return nil
	}
	e := p.turnOff(now, cause)
	return &e
}

func (p *PumpController) turnOff(now time.Time, cause Cause) Event {
	s := &p.state
	s.On = false
	s.LastChange = now
	s.RestUntil = now.Add(p.limits.Rest)

	p.counts.PumpOff++
	switch cause {
	case CauseBurstComplete:
		p.counts.BurstCompletes++
	case CauseMaxOnCutoff:
		p.counts.MaxOnCutoffs++
	case CauseBudgetExhausted:
		p.counts.BudgetCutoffs++
	case CauseShutdown:
		p.counts.ShutdownCutoffs++
	}
	return p.event(now, EventPumpOff, cause)
}

func (p *PumpController) event(now time.Time, typ EventType, cause Cause) Event {
	return Event{
		Timestamp:  now,
		Type:       typ,
		Cause:      cause,
		RunSeconds: p.state.RunSecondsThisHour(),
	}
}

// State returns a copy of the pump state.
func (p *PumpController) State() PumpState {
	return p.state
}

// IsOn reports whether the pump is commanded on.
func (p *PumpController) IsOn() bool {
	return p.state.On
}

// Phase returns the visible phase at time now.
func (p *PumpController) Phase(now time.Time) Phase {
	if p.state.On {
		return PhaseOn
	}
	if now.Before(p.state.RestUntil) {
		return PhaseResting
	}
	return PhaseOff
}

// Limits returns the configured limits.
func (p *PumpController) Limits() Limits {
	return p.limits
}

// EventCountsSnapshot returns a copy of the transition counters.
func (p *PumpController) EventCountsSnapshot() EventCounts {
	return p.counts
}
