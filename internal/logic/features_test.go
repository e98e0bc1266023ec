package logic

import (
	"errors"
	"math"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func TestVPDTetens(t *testing.T) {
	v := VPD(floatPtr(25), floatPtr(50))
	if v == nil {
		t.Fatal("expected VPD value")
	}
	if math.Abs(*v-1.584) > 0.001 {
		t.Errorf("VPD(25C, 50%%): got %.4f, want ~1.584", *v)
	}

	sat := VPD(floatPtr(20), floatPtr(100))
	if sat == nil || math.Abs(*sat) > 1e-12 {
		t.Errorf("VPD at 100%% RH should be 0, got %v", sat)
	}
}

func TestVPDMissingInput(t *testing.T) {
	if VPD(nil, floatPtr(50)) != nil {
		t.Error("expected nil VPD without temperature")
	}
	if VPD(floatPtr(25), nil) != nil {
		t.Error("expected nil VPD without humidity")
	}
}

func TestBuildFeaturesMeasured(t *testing.T) {
	r := ConditionedReading{
		SoilPct:     42.5,
		SoilMA:      40,
		DeltaSoil:   -0.3,
		Temperature: floatPtr(30),
		Humidity:    floatPtr(60),
	}
	wall := time.Date(2026, 7, 1, 6, 15, 0, 0, time.UTC)

	fv := BuildFeatures(r, wall)

	if fv.TemperatureC != 30 || fv.HumidityPct != 60 {
		t.Errorf("expected measured climate, got T=%v H=%v", fv.TemperatureC, fv.HumidityPct)
	}
	if fv.TemperatureFallback || fv.HumidityFallback || fv.VPDFallback {
		t.Error("no fallback expected with measured climate")
	}
	if fv.MeasuredVPD == nil {
		t.Fatal("expected measured VPD")
	}
	if fv.VPDKPa != *fv.MeasuredVPD {
		t.Errorf("VPD feature %v should equal measured %v", fv.VPDKPa, *fv.MeasuredVPD)
	}
	if fv.Hour != 6 {
		t.Errorf("expected hour 6, got %v", fv.Hour)
	}
	if math.Abs(fv.SinHour-1) > 1e-12 || math.Abs(fv.CosHour) > 1e-12 {
		t.Errorf("hour 6: expected sin=1 cos=0, got sin=%v cos=%v", fv.SinHour, fv.CosHour)
	}
	if fv.SoilPct != 42.5 || fv.SoilMA != 40 || fv.DeltaSoil != -0.3 {
		t.Errorf("soil features not carried: %+v", fv)
	}
}

func TestBuildFeaturesFallbacks(t *testing.T) {
	fv := BuildFeatures(ConditionedReading{SoilPct: 10}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if fv.TemperatureC != FallbackTemperatureC {
		t.Errorf("expected fallback temperature %v, got %v", FallbackTemperatureC, fv.TemperatureC)
	}
	if fv.HumidityPct != FallbackHumidityPct {
		t.Errorf("expected fallback humidity %v, got %v", FallbackHumidityPct, fv.HumidityPct)
	}
	if fv.VPDKPa != FallbackVPDKPa {
		t.Errorf("expected fallback VPD %v, got %v", FallbackVPDKPa, fv.VPDKPa)
	}
	if !fv.TemperatureFallback || !fv.HumidityFallback || !fv.VPDFallback {
		t.Error("fallback markers should be set")
	}
	if fv.MeasuredVPD != nil {
		t.Error("measured VPD must not be computed from fallback values")
	}
	if fv.Hour != 0 || fv.CosHour != 1 {
		t.Errorf("midnight: expected hour 0 cos 1, got hour=%v cos=%v", fv.Hour, fv.CosHour)
	}
}

func TestBuildFeaturesPartialClimate(t *testing.T) {
	fv := BuildFeatures(ConditionedReading{Temperature: floatPtr(18)}, time.Now())
	if fv.TemperatureC != 18 || fv.TemperatureFallback {
		t.Error("measured temperature should be used")
	}
	if !fv.HumidityFallback || !fv.VPDFallback || fv.MeasuredVPD != nil {
		t.Error("missing humidity should fall back and suppress measured VPD")
	}
}

func TestBuildFeaturesUsesUTCHour(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*60*60)
	wall := time.Date(2026, 5, 1, 9, 0, 0, 0, riyadh) // 06:00 UTC
	fv := BuildFeatures(ConditionedReading{}, wall)
	if fv.Hour != 6 {
		t.Errorf("expected UTC hour 6, got %v", fv.Hour)
	}
}

func TestOrderedFollowsDeclaredOrder(t *testing.T) {
	fv := FeatureVector{SoilPct: 12, TemperatureC: 21, VPDKPa: 0.8}
	got, err := fv.Ordered([]string{FeatureVPD, FeatureSoil, FeatureTemperature})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0.8, 12, 21}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOrderedUnknownFeature(t *testing.T) {
	_, err := FeatureVector{}.Ordered([]string{FeatureSoil, "wind_speed"})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestEveryFeatureNameIsKnown(t *testing.T) {
	for _, name := range FeatureNames {
		if !KnownFeature(name) {
			t.Errorf("feature %q not resolvable", name)
		}
	}
	if KnownFeature("bogus") {
		t.Error("bogus feature should be unknown")
	}
}
