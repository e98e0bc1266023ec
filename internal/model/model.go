// Package model loads the moisture-demand predictor from a JSON file.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Kinds of model understood by Predict.
const (
	KindLogistic = "logistic"
	KindLinear   = "linear"
)

// ErrModelUnavailable is returned when no usable model could be loaded.
var ErrModelUnavailable = errors.New("model: unavailable")

// Model is a linear model over named features. A logistic model passes the
// score through a sigmoid; a linear model is clamped to [0,1].
type Model struct {
	Kind         string    `json:"kind"`
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Threshold    *float64  `json:"threshold,omitempty"`
}

// Load reads and validates a model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelUnavailable, path, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelUnavailable, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}

	log.Printf("model: loaded %s (%s, %d features)", path, m.Kind, len(m.Features))
	return &m, nil
}

// Validate checks the model is internally consistent.
func (m *Model) Validate() error {
	switch m.Kind {
	case KindLogistic, KindLinear:
	default:
		return fmt.Errorf("unknown kind %q", m.Kind)
	}
	if len(m.Features) == 0 {
		return errors.New("no features")
	}
	if len(m.Coefficients) != len(m.Features) {
		return fmt.Errorf("%d coefficients for %d features", len(m.Coefficients), len(m.Features))
	}
	for _, name := range m.Features {
		if !logic.KnownFeature(name) {
			return fmt.Errorf("%w: %q", logic.ErrUnknownFeature, name)
		}
	}
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return fmt.Errorf("threshold %v outside [0,1]", *m.Threshold)
	}
	return nil
}

// Predict returns the probability that the soil needs water.
func (m *Model) Predict(fv logic.FeatureVector) (float64, error) {
	xs, err := fv.Ordered(m.Features)
	if err != nil {
		return 0, err
	}

	score := m.Intercept
	for i, x := range xs {
		score += m.Coefficients[i] * x
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("model: non-finite score %v", score)
	}

	if m.Kind == KindLinear {
		return math.Min(1, math.Max(0, score)), nil
	}
	return 1 / (1 + math.Exp(-score)), nil
}

// ThresholdOr returns the model's threshold, or def if it declares none.
func (m *Model) ThresholdOr(def float64) float64 {
	if m == nil || m.Threshold == nil {
		return def
	}
	return *m.Threshold
}

// Sample returns a demonstration model: drier soil, heat and high VPD raise
// the probability, recent wetting lowers it.
func Sample() *Model {
	threshold := logic.DefaultThreshold
	return &Model{
		Kind: KindLogistic,
		Features: []string{
			logic.FeatureTemperature,
			logic.FeatureHumidity,
			logic.FeatureSoil,
			logic.FeatureSinHour,
			logic.FeatureCosHour,
			logic.FeatureSoilMA,
			logic.FeatureDeltaSoil,
			logic.FeatureVPD,
		},
		Coefficients: []float64{0.04, -0.01, -0.12, 0.3, -0.2, -0.02, -0.5, 0.8},
		Intercept:    2.0,
		Threshold:    &threshold,
	}
}

// WriteSample writes Sample to path.
func WriteSample(path string) error {
	data, err := json.MarshalIndent(Sample(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	log.Printf("model: wrote sample to %s", path)
	return nil
}
