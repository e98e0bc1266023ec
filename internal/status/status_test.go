package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

func floatPtr(v float64) *float64 { return &v }

func sampleSnapshot() *Snapshot {
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Snapshot{
		Seq:                7,
		SessionID:          "abc",
		Timestamp:          ts,
		Temperature:        floatPtr(24.36),
		Humidity:           nil,
		VPD:                floatPtr(1.23456),
		ADCMedian:          512,
		SoilPct:            27.25,
		SoilMA:             28.04,
		DeltaSoil:          -0.1234,
		Probability:        0.123456,
		AITrigger:          true,
		Decision:           true,
		Reason:             logic.ReasonAI,
		Mode:               logic.ModeAI,
		PumpOn:             true,
		Phase:              logic.PhaseOn,
		RunSecondsThisHour: 42,
		Events: []logic.Event{
			{Timestamp: ts, Type: logic.EventPumpOn, Cause: logic.CauseDemand, RunSeconds: 40},
		},
		Counts: logic.EventCounts{PumpOn: 3, PumpOff: 2, BurstCompletes: 2},
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{IntervalMs: 1500, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, "session-1", cfg)

	st := tr.Status()
	if !st.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", st.StartTime, start)
	}
	if st.SessionID != "session-1" {
		t.Errorf("SessionID: got %q, want session-1", st.SessionID)
	}
	if st.Config.IntervalMs != 1500 {
		t.Errorf("Config.IntervalMs: got %d, want 1500", st.Config.IntervalMs)
	}
	if st.Latest != nil {
		t.Error("expected no snapshot before the first cycle")
	}
	if st.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestStoreAndLatest(t *testing.T) {
	tr := NewTracker(time.Now(), "", Config{})
	snap := sampleSnapshot()

	tr.Store(snap)

	if tr.Latest() != snap {
		t.Error("Latest should return the stored snapshot")
	}
	if tr.Status().Latest != snap {
		t.Error("Status should carry the stored snapshot")
	}

	next := &Snapshot{Seq: 8}
	tr.Store(next)
	if tr.Latest().Seq != 8 {
		t.Errorf("expected seq 8, got %d", tr.Latest().Seq)
	}
	if snap.Seq != 7 {
		t.Error("previous snapshot must be left untouched")
	}
}

func TestSetMQTTConnectedAndNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), "", Config{})

	tr.SetMQTTConnected(true)
	if !tr.Status().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	if st := tr.Status(); st.Network == nil || st.Network.IP != "192.168.1.42" {
		t.Errorf("Network not set: %+v", st.Network)
	}

	tr.SetThreshold(0.2)
	if tr.Status().Config.Threshold != 0.2 {
		t.Errorf("Threshold: got %v, want 0.2", tr.Status().Config.Threshold)
	}
}

func TestStatusUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := Status{StartTime: start, Now: start.Add(15 * time.Minute)}
	if st.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", st.Uptime())
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in     float64
		places int32
		want   float64
	}{
		{27.25, 1, 27.3},
		{-0.125, 2, -0.13},
		{0.123456, 3, 0.123},
		{0.0005, 3, 0.001},
		{100, 1, 100},
	}
	for _, tt := range tests {
		if got := Round(tt.in, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d): got %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestFormatSnapshot(t *testing.T) {
	data := FormatSnapshot(sampleSnapshot())

	var parsed SnapshotJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.SoilPct != 27.3 {
		t.Errorf("soil_pct: got %v, want 27.3", parsed.SoilPct)
	}
	if parsed.Probability != 0.123 {
		t.Errorf("proba: got %v, want 0.123", parsed.Probability)
	}
	if parsed.DeltaSoil != -0.12 {
		t.Errorf("delta_soil: got %v, want -0.12", parsed.DeltaSoil)
	}
	if parsed.Temperature == nil || *parsed.Temperature != 24.4 {
		t.Errorf("temperature: got %v, want 24.4", parsed.Temperature)
	}
	if parsed.Reason != "AI" || !parsed.PumpOn || parsed.RunSecondsThisHour != 42 {
		t.Errorf("decision fields wrong: %+v", parsed)
	}
	if len(parsed.Events) != 1 || parsed.Events[0].Event != "PUMP_ON" || parsed.Events[0].Cause != "DEMAND" {
		t.Errorf("events wrong: %+v", parsed.Events)
	}
	if parsed.Counts.PumpOn != 3 || parsed.Counts.BurstComplete != 2 {
		t.Errorf("counts wrong: %+v", parsed.Counts)
	}
	if parsed.RestUntil != "" {
		t.Errorf("rest_until should be omitted while ON, got %q", parsed.RestUntil)
	}
}

func TestFormatSnapshotAbsentClimateIsNull(t *testing.T) {
	data := FormatSnapshot(sampleSnapshot())

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	v, exists := raw["humidity"]
	if !exists {
		t.Fatal("humidity key should be present")
	}
	if v != nil {
		t.Errorf("absent humidity must be null, got %v", v)
	}
}

func TestFormatSnapshotSoilUnknown(t *testing.T) {
	var raw map[string]interface{}
	json.Unmarshal(FormatSnapshot(sampleSnapshot()), &raw)
	if _, ok := raw["soil_unknown"]; ok {
		t.Error("soil_unknown should be omitted once soil is known")
	}

	snap := sampleSnapshot()
	snap.SoilUnknown = true
	raw = nil
	json.Unmarshal(FormatSnapshot(snap), &raw)
	if raw["soil_unknown"] != true {
		t.Errorf("expected soil_unknown=true, got %v", raw["soil_unknown"])
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := Status{
		Latest:        sampleSnapshot(),
		SessionID:     "abc",
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{IntervalMs: 1500, Broker: "tcp://localhost:1883", Threshold: 0.06},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(st), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true with a snapshot")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Reading == nil || parsed.Status.Reading.Seq != 7 {
		t.Errorf("expected reading seq 7, got %+v", parsed.Status.Reading)
	}
	if parsed.Status.Config.Threshold != 0.06 {
		t.Errorf("Config.Threshold: got %v, want 0.06", parsed.Status.Config.Threshold)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Error("event/reason must be empty for web format")
	}
}

func TestFormatJSONBeforeFirstCycle(t *testing.T) {
	st := Status{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatJSON(st), &raw)
	inner := raw["status"].(map[string]interface{})
	if inner["ready"] != false {
		t.Errorf("ready: got %v, want false", inner["ready"])
	}
	if _, exists := inner["reading"]; exists {
		t.Error("reading should be omitted before the first cycle")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := Status{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", SSID: "Garden"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(st, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.Network == nil || parsed.Status.Network.SSID != "Garden" {
		t.Errorf("Network: got %+v", parsed.Status.Network)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	st := Status{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(st, "STARTUP", ""), &raw)
	inner := raw["status"].(map[string]interface{})
	if _, exists := inner["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if inner["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", inner["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), "", Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Store(&Snapshot{Seq: uint64(i)})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			st := tr.Status()
			_ = st.Uptime()
			if st.Latest != nil {
				_ = FormatSnapshot(st.Latest)
			}
		}
	}()

	wg.Wait()
}
