package logic

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyBurst is returned when a sample carries no ADC reads.
var ErrEmptyBurst = errors.New("logic: empty adc burst")

// Calibration holds the raw ADC readings of fully wet and fully dry soil.
// Wet must be below Dry (capacitive probes read lower when wet).
type Calibration struct {
	Wet int
	Dry int
}

// DefaultCalibration matches the reference probe on an MCP3008 channel.
var DefaultCalibration = Calibration{Wet: 233, Dry: 619}

// ConditionerConfig sizes the filters.
type ConditionerConfig struct {
	MedianN     int // reads per burst
	AvgWindow   int // noise smoothing window over burst medians
	TrendWindow int // trend window over percentages
	Calibration Calibration
}

// DefaultConditionerConfig returns the reference filter sizes.
func DefaultConditionerConfig() ConditionerConfig {
	return ConditionerConfig{
		MedianN:     9,
		AvgWindow:   12,
		TrendWindow: 30,
		Calibration: DefaultCalibration,
	}
}

// Conditioner turns raw bursts into calibrated soil moisture.
// Not safe for concurrent use; owned by the control loop.
type Conditioner struct {
	cfg     ConditionerConfig
	smooth  *window[int]
	trend   *window[float64]
	lastPct float64
	hasLast bool
}

// NewConditioner creates a Conditioner with empty windows.
func NewConditioner(cfg ConditionerConfig) *Conditioner {
	if cfg.AvgWindow < 1 {
		cfg.AvgWindow = 1
	}
	if cfg.TrendWindow < 1 {
		cfg.TrendWindow = 1
	}
	return &Conditioner{
		cfg:    cfg,
		smooth: newWindow[int](cfg.AvgWindow),
		trend:  newWindow[float64](cfg.TrendWindow),
	}
}

// Condition filters one sample. Climate values pass through untouched.
func (c *Conditioner) Condition(s RawSample) (ConditionedReading, error) {
	if len(s.ADC) == 0 {
		return ConditionedReading{}, ErrEmptyBurst
	}

	med := Median(s.ADC)
	c.smooth.push(med)
	smoothed := floorMeanInt(c.smooth.values())
	pct := ADCToPct(smoothed, c.cfg.Calibration)

	c.trend.push(pct)
	ma := meanFloat(c.trend.values())

	delta := 0.0
	if c.hasLast {
		delta = pct - c.lastPct
	}
	c.lastPct = pct
	c.hasLast = true

	return ConditionedReading{
		ADCMedian:   med,
		ADCSmoothed: smoothed,
		SoilPct:     pct,
		SoilMA:      ma,
		DeltaSoil:   delta,
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		Time:        s.Time,
	}, nil
}

// ADCToPct maps a raw reading to soil moisture percent.
// Readings at or below Wet give 100, at or above Dry give 0; the result is
// rounded to one decimal.
func ADCToPct(v int, cal Calibration) float64 {
	if cal.Dry <= cal.Wet {
		return 0
	}
	if v < cal.Wet {
		v = cal.Wet
	}
	if v > cal.Dry {
		v = cal.Dry
	}
	pct := 100.0 * float64(cal.Dry-v) / float64(cal.Dry-cal.Wet)
	return math.Round(pct*10) / 10
}

// Median returns the integer median of vals. For an even count it is the
// floor of the mean of the two middle values. vals is not modified.
func Median(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]int, len(vals))
	copy(sorted, vals)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return floorDiv(sorted[mid-1]+sorted[mid], 2)
}

func floorMeanInt(vals []int) int {
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return floorDiv(sum, len(vals))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func meanFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// window is a fixed-capacity FIFO that keeps the most recent values.
type window[T int | float64] struct {
	buf   []T
	head  int // next write position
	count int
}

func newWindow[T int | float64](capacity int) *window[T] {
	return &window[T]{buf: make([]T, capacity)}
}

func (w *window[T]) push(v T) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// values returns the window contents, oldest first.
func (w *window[T]) values() []T {
	out := make([]T, w.count)
	start := (w.head - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
