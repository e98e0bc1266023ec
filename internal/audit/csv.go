package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// CSVHeader is the column layout of the operator log.
var CSVHeader = []string{
	"timestamp", "temp_C", "hum_%", "vpd", "adc_raw", "soil_%", "soil_ma",
	"delta_soil", "proba", "decision", "reason", "pump_on",
	"run_sec_this_hour", "mode", "degraded", "sensor_fault",
}

// CSVSink appends one row per cycle to a CSV file.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVSink opens path for appending, writing the header if the file is new
// or empty.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv log: %w", err)
	}

	s := &CSVSink{file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		s.w.Write(CSVHeader)
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return s, nil
}

// Name implements status.Sink.
func (s *CSVSink) Name() string { return "csv" }

// Deliver implements status.Sink.
func (s *CSVSink) Deliver(ctx context.Context, snap *status.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Write(csvRow(FromSnapshot(snap)))
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}

func csvRow(r Record) []string {
	return []string{
		r.Timestamp.Format(time.RFC3339),
		optFloat(r.TempC),
		optFloat(r.HumPct),
		optFloat(r.VPD),
		strconv.Itoa(r.ADCRaw),
		soilFloat(r, r.SoilPct),
		soilFloat(r, r.SoilMA),
		soilFloat(r, r.DeltaSoil),
		ftoa(r.Proba),
		btoa(r.Decision),
		r.Reason,
		btoa(r.PumpOn),
		strconv.Itoa(r.RunSecThisHour),
		r.Mode,
		btoa(r.Degraded),
		btoa(r.SensorFault),
	}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// soilFloat leaves the soil columns empty until a good reading exists.
func soilFloat(r Record, v float64) string {
	if r.SoilUnknown {
		return ""
	}
	return ftoa(v)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return ftoa(*v)
}

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
