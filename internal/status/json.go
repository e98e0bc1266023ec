package status

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Wire precision of published values.
const (
	soilPlaces  = 1
	probPlaces  = 3
	deltaPlaces = 2
	climPlaces  = 1
	vpdPlaces   = 3
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	SessionID     string        `json:"session_id"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Reading       *SnapshotJSON `json:"reading,omitempty"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SnapshotJSON is the wire form of one cycle. Field names follow the
// original status feed (timestamp, temperature, humidity, soil_pct, proba,
// pump_on, reason, run_sec_this_hour, delta_soil).
type SnapshotJSON struct {
	Seq                uint64      `json:"seq"`
	SessionID          string      `json:"session_id"`
	Timestamp          string      `json:"timestamp"`
	Temperature        *float64    `json:"temperature"`
	Humidity           *float64    `json:"humidity"`
	VPD                *float64    `json:"vpd_kpa"`
	ADCRaw             int         `json:"adc_raw"`
	SoilPct            float64     `json:"soil_pct"`
	SoilMA             float64     `json:"soil_ma"`
	DeltaSoil          float64     `json:"delta_soil"`
	SoilUnknown        bool        `json:"soil_unknown,omitempty"`
	Probability        float64     `json:"proba"`
	AITrigger          bool        `json:"ai_trigger"`
	EmergencyTrigger   bool        `json:"emergency_trigger"`
	Decision           bool        `json:"decision"`
	Reason             string      `json:"reason"`
	Mode               string      `json:"mode"`
	PumpOn             bool        `json:"pump_on"`
	Phase              string      `json:"phase"`
	RunSecondsThisHour int         `json:"run_sec_this_hour"`
	RestUntil          string      `json:"rest_until,omitempty"`
	Degraded           bool        `json:"degraded"`
	SensorFault        bool        `json:"sensor_fault"`
	ClimateFault       bool        `json:"climate_fault"`
	Events             []EventJSON `json:"events,omitempty"`
	Counts             CountsJSON  `json:"event_counts"`
}

// EventJSON is the JSON representation of a pump transition.
type EventJSON struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Cause      string `json:"cause"`
	RunSeconds int    `json:"run_sec_this_hour"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PumpOn         int `json:"pump_on"`
	PumpOff        int `json:"pump_off"`
	BurstComplete  int `json:"burst_complete"`
	MaxOnCutoff    int `json:"max_on_cutoff"`
	BudgetCutoff   int `json:"budget_cutoff"`
	ShutdownCutoff int `json:"shutdown_cutoff"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	IntervalMs    int64   `json:"interval_ms"`
	HeartbeatMs   int64   `json:"heartbeat_ms"`
	Broker        string  `json:"broker"`
	HTTPAddr      string  `json:"http_addr"`
	RelayPin      int     `json:"relay_pin"`
	ActiveHigh    bool    `json:"active_high"`
	DryRun        bool    `json:"dry_run"`
	ModelPath     string  `json:"model_path"`
	Threshold     float64 `json:"threshold"`
	EmergencyPct  float64 `json:"emergency_pct"`
	MaxOnSec      int64   `json:"max_on_sec"`
	MaxMinPerHour int     `json:"max_min_per_hour"`
}

// Round rounds v to places decimal digits, half away from zero.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func roundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v, places)
	return &r
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// BuildSnapshotJSON converts a snapshot to its rounded wire form.
func BuildSnapshotJSON(s *Snapshot) SnapshotJSON {
	out := SnapshotJSON{
		Seq:                s.Seq,
		SessionID:          s.SessionID,
		Timestamp:          formatTime(s.Timestamp),
		Temperature:        roundPtr(s.Temperature, climPlaces),
		Humidity:           roundPtr(s.Humidity, climPlaces),
		VPD:                roundPtr(s.VPD, vpdPlaces),
		ADCRaw:             s.ADCMedian,
		SoilPct:            Round(s.SoilPct, soilPlaces),
		SoilMA:             Round(s.SoilMA, soilPlaces),
		DeltaSoil:          Round(s.DeltaSoil, deltaPlaces),
		SoilUnknown:        s.SoilUnknown,
		Probability:        Round(s.Probability, probPlaces),
		AITrigger:          s.AITrigger,
		EmergencyTrigger:   s.EmergencyTrigger,
		Decision:           s.Decision,
		Reason:             string(s.Reason),
		Mode:               string(s.Mode),
		PumpOn:             s.PumpOn,
		Phase:              string(s.Phase),
		RunSecondsThisHour: s.RunSecondsThisHour,
		Degraded:           s.Degraded,
		SensorFault:        s.SensorFault,
		ClimateFault:       s.ClimateFault,
		Counts:             buildCounts(s.Counts),
	}
	if s.Phase == logic.PhaseResting {
		out.RestUntil = formatTime(s.RestUntil)
	}
	for _, e := range s.Events {
		out.Events = append(out.Events, BuildEventJSON(e))
	}
	return out
}

// BuildEventJSON converts a pump event to its wire form.
func BuildEventJSON(e logic.Event) EventJSON {
	return EventJSON{
		Timestamp:  formatTime(e.Timestamp),
		Event:      string(e.Type),
		Cause:      string(e.Cause),
		RunSeconds: e.RunSeconds,
	}
}

func buildCounts(c logic.EventCounts) CountsJSON {
	return CountsJSON{
		PumpOn:         c.PumpOn,
		PumpOff:        c.PumpOff,
		BurstComplete:  c.BurstCompletes,
		MaxOnCutoff:    c.MaxOnCutoffs,
		BudgetCutoff:   c.BudgetCutoffs,
		ShutdownCutoff: c.ShutdownCutoffs,
	}
}

func buildInner(st Status) StatusInner {
	inner := StatusInner{
		SessionID:     st.SessionID,
		Ready:         st.Latest != nil,
		UptimeSeconds: int64(st.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     st.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     st.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: st.MQTTConnected, Broker: st.Config.Broker},
		Config: ConfigJSON{
			IntervalMs:    st.Config.IntervalMs,
			HeartbeatMs:   st.Config.HeartbeatMs,
			Broker:        st.Config.Broker,
			HTTPAddr:      st.Config.HTTPAddr,
			RelayPin:      st.Config.RelayPin,
			ActiveHigh:    st.Config.ActiveHigh,
			DryRun:        st.Config.DryRun,
			ModelPath:     st.Config.ModelPath,
			Threshold:     st.Config.Threshold,
			EmergencyPct:  st.Config.EmergencyPct,
			MaxOnSec:      st.Config.MaxOnSec,
			MaxMinPerHour: st.Config.MaxMinPerHour,
		},
	}
	if st.Latest != nil {
		r := BuildSnapshotJSON(st.Latest)
		inner.Reading = &r
	}
	if st.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       st.Network.Type,
			IP:         st.Network.IP,
			Status:     st.Network.Status,
			Gateway:    st.Network.Gateway,
			WifiStatus: st.Network.WifiStatus,
			SSID:       st.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(st Status) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(st)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(st Status, event, reason string) []byte {
	inner := buildInner(st)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatSnapshot returns the compact JSON of one cycle.
func FormatSnapshot(s *Snapshot) []byte {
	data, _ := json.Marshal(BuildSnapshotJSON(s))
	return data
}
