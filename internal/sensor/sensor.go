// Package sensor reads the soil-moisture ADC and the climate sensor.
// Real implementations use Linux IIO sysfs attributes; fakes allow testing
// without hardware.
package sensor

import (
	"context"
	"fmt"
)

// MoistureReader reads one raw soil-moisture conversion.
type MoistureReader interface {
	ReadRawMoisture(ctx context.Context) (int, error)
}

// ClimateReader reads air temperature and humidity.
// Either value may be nil when the sensor did not answer; a non-nil error
// describes what failed but the returned Climate is still usable.
type ClimateReader interface {
	ReadClimate(ctx context.Context) (Climate, error)
}

// Climate is one temperature/humidity reading.
type Climate struct {
	Temperature *float64 // °C
	Humidity    *float64 // %RH
}

// ReadBurst takes n consecutive moisture reads.
func ReadBurst(ctx context.Context, r MoistureReader, n int) ([]int, error) {
	if n < 1 {
		n = 1
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.ReadRawMoisture(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %d/%d: %w", i+1, n, err)
		}
		out = append(out, v)
	}
	return out, nil
}
