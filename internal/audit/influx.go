package audit

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// InfluxOptions configures the time-series sink.
type InfluxOptions struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSink writes one point per cycle.
type InfluxSink struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink creates the sink. No connection is made until the first write.
func NewInfluxSink(o InfluxOptions) (*InfluxSink, error) {
	if o.URL == "" || o.Org == "" || o.Bucket == "" {
		return nil, fmt.Errorf("influx: url, org and bucket are required")
	}
	if o.Measurement == "" {
		o.Measurement = "irrigation"
	}
	client := influxdb2.NewClient(o.URL, o.Token)
	return &InfluxSink{
		client:      client,
		write:       client.WriteAPIBlocking(o.Org, o.Bucket),
		measurement: o.Measurement,
	}, nil
}

// Name implements status.Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Deliver implements status.Sink.
func (s *InfluxSink) Deliver(ctx context.Context, snap *status.Snapshot) error {
	r := FromSnapshot(snap)

	tags := map[string]string{
		"session_id": r.SessionID,
		"mode":       r.Mode,
	}
	fields := map[string]interface{}{
		"adc_raw":           r.ADCRaw,
		"proba":             r.Proba,
		"decision":          r.Decision,
		"reason":            r.Reason,
		"pump_on":           r.PumpOn,
		"run_sec_this_hour": r.RunSecThisHour,
		"sensor_fault":      r.SensorFault,
	}
	if !r.SoilUnknown {
		fields["soil_pct"] = r.SoilPct
		fields["soil_ma"] = r.SoilMA
		fields["delta_soil"] = r.DeltaSoil
	}
	if r.TempC != nil {
		fields["temp_c"] = *r.TempC
	}
	if r.HumPct != nil {
		fields["hum_pct"] = *r.HumPct
	}
	if r.VPD != nil {
		fields["vpd"] = *r.VPD
	}

	p := influxdb2.NewPoint(s.measurement, tags, fields, r.Timestamp)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
