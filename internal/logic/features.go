package logic

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Fallback values used for model input when the climate sensor is silent.
const (
	FallbackTemperatureC = 25.0
	FallbackHumidityPct  = 50.0
	FallbackVPDKPa       = 1.0
)

// Feature names, as declared by trained models.
const (
	FeatureTemperature = "temperature_C"
	FeatureHumidity    = "humidity_air_%"
	FeatureSoil        = "soil_moisture_%"
	FeatureHour        = "hour"
	FeatureSinHour     = "sin_hour"
	FeatureCosHour     = "cos_hour"
	FeatureSoilMA      = "soil_moisture_ma"
	FeatureDeltaSoil   = "delta_soil"
	FeatureVPD         = "vpd_kPa"
)

// FeatureNames lists every feature the builder can produce, in canonical order.
var FeatureNames = []string{
	FeatureTemperature,
	FeatureHumidity,
	FeatureSoil,
	FeatureHour,
	FeatureSinHour,
	FeatureCosHour,
	FeatureSoilMA,
	FeatureDeltaSoil,
	FeatureVPD,
}

// ErrUnknownFeature is returned when a model asks for a feature the builder
// does not produce.
var ErrUnknownFeature = errors.New("logic: unknown feature")

// FeatureVector is the model input for one cycle.
type FeatureVector struct {
	TemperatureC float64
	HumidityPct  float64
	SoilPct      float64
	Hour         float64
	SinHour      float64
	CosHour      float64
	SoilMA       float64
	DeltaSoil    float64
	VPDKPa       float64

	// Substitution markers, so diagnostics can tell measured from modeled.
	TemperatureFallback bool
	HumidityFallback    bool
	VPDFallback         bool

	// MeasuredVPD is the physical VPD, nil unless both climate values
	// were measured.
	MeasuredVPD *float64
}

// BuildFeatures derives the feature vector from a conditioned reading and
// the wall clock. Hour of day is taken in UTC.
func BuildFeatures(r ConditionedReading, wall time.Time) FeatureVector {
	hour := wall.UTC().Hour()
	angle := 2 * math.Pi * float64(hour) / 24.0

	fv := FeatureVector{
		TemperatureC: FallbackTemperatureC,
		HumidityPct:  FallbackHumidityPct,
		SoilPct:      r.SoilPct,
		Hour:         float64(hour),
		SinHour:      math.Sin(angle),
		CosHour:      math.Cos(angle),
		SoilMA:       r.SoilMA,
		DeltaSoil:    r.DeltaSoil,
		VPDKPa:       FallbackVPDKPa,
	}

	if r.Temperature != nil {
		fv.TemperatureC = *r.Temperature
	} else {
		fv.TemperatureFallback = true
	}
	if r.Humidity != nil {
		fv.HumidityPct = *r.Humidity
	} else {
		fv.HumidityFallback = true
	}

	fv.MeasuredVPD = VPD(r.Temperature, r.Humidity)
	if fv.MeasuredVPD != nil {
		fv.VPDKPa = *fv.MeasuredVPD
	} else {
		fv.VPDFallback = true
	}
	return fv
}

// VPD returns the vapor-pressure deficit in kPa using the Tetens
// approximation, or nil if either input is missing.
func VPD(tempC, rhPct *float64) *float64 {
	if tempC == nil || rhPct == nil {
		return nil
	}
	t := *tempC
	es := 0.6108 * math.Exp((17.27*t)/(t+237.3))
	ea := es * (*rhPct / 100.0)
	v := es - ea
	return &v
}

// Lookup returns the value of a named feature.
func (f FeatureVector) Lookup(name string) (float64, bool) {
	switch name {
	case FeatureTemperature:
		return f.TemperatureC, true
	case FeatureHumidity:
		return f.HumidityPct, true
	case FeatureSoil:
		return f.SoilPct, true
	case FeatureHour:
		return f.Hour, true
	case FeatureSinHour:
		return f.SinHour, true
	case FeatureCosHour:
		return f.CosHour, true
	case FeatureSoilMA:
		return f.SoilMA, true
	case FeatureDeltaSoil:
		return f.DeltaSoil, true
	case FeatureVPD:
		return f.VPDKPa, true
	}
	return 0, false
}

// Ordered returns feature values in the order given by names.
func (f FeatureVector) Ordered(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		v, ok := f.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
		out[i] = v
	}
	return out, nil
}

// KnownFeature reports whether the builder produces the named feature.
func KnownFeature(name string) bool {
	_, ok := FeatureVector{}.Lookup(name)
	return ok
}
