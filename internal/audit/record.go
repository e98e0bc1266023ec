// Package audit keeps the per-cycle operator log: a CSV file, a SQL table
// through gorm, and an InfluxDB measurement. Each is a status.Sink.
package audit

import (
	"strings"
	"time"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// Record is one control cycle as stored in the SQL log.
type Record struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"uniqueIndex:idx_session_seq;size:36;not null" json:"session_id"`
	Seq            uint64    `gorm:"uniqueIndex:idx_session_seq;not null" json:"seq"`
	Timestamp      time.Time `gorm:"index;not null" json:"timestamp"`
	TempC          *float64  `json:"temp_c"`
	HumPct         *float64  `json:"hum_pct"`
	VPD            *float64  `json:"vpd"`
	ADCRaw         int       `gorm:"not null" json:"adc_raw"`
	SoilPct        float64   `gorm:"not null" json:"soil_pct"`
	SoilMA         float64   `gorm:"not null" json:"soil_ma"`
	DeltaSoil      float64   `gorm:"not null" json:"delta_soil"`
	SoilUnknown    bool      `json:"soil_unknown"`
	Proba          float64   `gorm:"not null" json:"proba"`
	Decision       bool      `gorm:"not null" json:"decision"`
	Reason         string    `gorm:"size:16;not null" json:"reason"`
	Mode           string    `gorm:"size:16;not null" json:"mode"`
	PumpOn         bool      `gorm:"not null" json:"pump_on"`
	Phase          string    `gorm:"size:16;not null" json:"phase"`
	RunSecThisHour int       `gorm:"not null" json:"run_sec_this_hour"`
	Degraded       bool      `json:"degraded"`
	SensorFault    bool      `json:"sensor_fault"`
	ClimateFault   bool      `json:"climate_fault"`
	Events         string    `gorm:"size:255" json:"events"` // e.g. "PUMP_OFF:MAX_ON_CUTOFF"
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName customizes the table name.
func (Record) TableName() string {
	return "irrigation_log"
}

// FromSnapshot converts a snapshot, rounding values as they are published.
func FromSnapshot(s *status.Snapshot) Record {
	w := status.BuildSnapshotJSON(s)
	r := Record{
		SessionID:      s.SessionID,
		Seq:            s.Seq,
		Timestamp:      s.Timestamp.UTC(),
		TempC:          w.Temperature,
		HumPct:         w.Humidity,
		VPD:            w.VPD,
		ADCRaw:         s.ADCMedian,
		SoilPct:        w.SoilPct,
		SoilMA:         w.SoilMA,
		DeltaSoil:      w.DeltaSoil,
		SoilUnknown:    s.SoilUnknown,
		Proba:          w.Probability,
		Decision:       s.Decision,
		Reason:         string(s.Reason),
		Mode:           string(s.Mode),
		PumpOn:         s.PumpOn,
		Phase:          string(s.Phase),
		RunSecThisHour: s.RunSecondsThisHour,
		Degraded:       s.Degraded,
		SensorFault:    s.SensorFault,
		ClimateFault:   s.ClimateFault,
	}
	if len(s.Events) > 0 {
		parts := make([]string, len(s.Events))
		for i, e := range s.Events {
			parts[i] = string(e.Type) + ":" + string(e.Cause)
		}
		r.Events = strings.Join(parts, ",")
	}
	return r
}
