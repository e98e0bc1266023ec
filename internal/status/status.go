// Package status holds the controller's latest cycle snapshot and fans it
// out to the boundary sinks (HTTP, WebSocket, MQTT, audit logs).
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains controller configuration for display.
type Config struct {
	IntervalMs    int64
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
	RelayPin      int
	ActiveHigh    bool
	DryRun        bool
	ModelPath     string
	Threshold     float64
	EmergencyPct  float64
	MaxOnSec      int64
	MaxMinPerHour int
}

// Snapshot is the immutable record of one control cycle. Once handed to the
// Tracker or a Publisher it must not be modified.
type Snapshot struct {
	Seq       uint64
	SessionID string
	Timestamp time.Time

	Temperature *float64
	Humidity    *float64
	VPD         *float64

	ADCMedian int
	SoilPct   float64
	SoilMA    float64
	DeltaSoil float64

	// SoilUnknown is set until the first good moisture burst; the soil
	// values above are placeholders while it is true.
	SoilUnknown bool

	Probability      float64
	AITrigger        bool
	EmergencyTrigger bool
	Decision         bool
	Reason           logic.Reason
	Mode             logic.Mode

	PumpOn             bool
	Phase              logic.Phase
	RunSecondsThisHour int
	RestUntil          time.Time

	Degraded     bool // any fallback value or the emergency-only mode was used
	SensorFault  bool
	ClimateFault bool

	Events []logic.Event
	Counts logic.EventCounts
}

// Status is a point-in-time view of the process: the latest snapshot (nil
// before the first cycle) plus process information.
type Status struct {
	Latest        *Snapshot
	SessionID     string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Status) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the latest snapshot behind an atomic pointer (one writer,
// many readers) and process information behind an RWMutex.
type Tracker struct {
	latest atomic.Pointer[Snapshot]

	mu     sync.RWMutex
	status Status
}

// NewTracker creates a Tracker with the given start time, session and config.
func NewTracker(startTime time.Time, sessionID string, cfg Config) *Tracker {
	return &Tracker{
		status: Status{
			StartTime: startTime,
			SessionID: sessionID,
			Config:    cfg,
		},
	}
}

// Store replaces the latest snapshot. Called once per cycle by the loop.
func (t *Tracker) Store(snap *Snapshot) {
	t.latest.Store(snap)
}

// Latest returns the latest snapshot, or nil before the first cycle.
func (t *Tracker) Latest() *Snapshot {
	return t.latest.Load()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.status.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.status.Network = info
	t.mu.Unlock()
}

// SetThreshold updates the displayed AI threshold after a model change.
func (t *Tracker) SetThreshold(th float64) {
	t.mu.Lock()
	t.status.Config.Threshold = th
	t.mu.Unlock()
}

// Status returns a point-in-time copy of the process state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	s := t.status
	t.mu.RUnlock()
	s.Latest = t.latest.Load()
	s.Now = time.Now()
	return s
}
