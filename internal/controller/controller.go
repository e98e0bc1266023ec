// Package controller runs the irrigation control loop: read sensors,
// condition, decide, drive the pump and publish one snapshot per cycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/irrigation-controller/internal/gpio"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/model"
	"github.com/sweeney/irrigation-controller/internal/sensor"
	"github.com/sweeney/irrigation-controller/internal/status"
)

// Predictor turns a feature vector into a watering probability.
type Predictor interface {
	Predict(fv logic.FeatureVector) (float64, error)
	ThresholdOr(def float64) float64
}

// Config holds the loop parameters.
type Config struct {
	Conditioner  logic.ConditionerConfig
	Limits       logic.Limits
	Threshold    *float64 // overrides the model threshold when set
	EmergencyPct float64
	ModelPath    string
	SessionID    string
}

// Deps are the collaborators of the controller. Climate and Predictor may
// be nil; a nil Predictor starts the controller in EMERGENCY_ONLY mode.
type Deps struct {
	Moisture  sensor.MoistureReader
	Climate   sensor.ClimateReader
	Relay     gpio.Relay
	Predictor Predictor
	LoadModel func(path string) (Predictor, error)
	Publisher *status.Publisher
	Now       func() time.Time

	// ThresholdChanged, if set, is called with the effective threshold
	// whenever the predictor is replaced or dropped.
	ThresholdChanged func(threshold float64)
}

// Controller owns all cross-cycle state. Step and Run must be called from
// a single goroutine; RequestReload is safe from any goroutine.
type Controller struct {
	cfg  Config
	deps Deps

	conditioner *logic.Conditioner
	pump        *logic.PumpController

	predictor Predictor
	mode      logic.Mode
	reload    chan struct{}

	seq         uint64
	last        logic.ConditionedReading
	hasReading  bool
	sensorFault bool
	latest      *status.Snapshot
}

// New validates the configuration and creates a controller with the pump
// off. The pump cannot start before MinOff has passed.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Moisture == nil {
		return nil, errors.New("controller: moisture reader required")
	}
	if deps.Relay == nil {
		return nil, errors.New("controller: relay required")
	}
	if cfg.Conditioner.MedianN < 1 {
		return nil, fmt.Errorf("controller: median burst size %d < 1", cfg.Conditioner.MedianN)
	}
	if cfg.Limits.MaxOn <= 0 || cfg.Limits.HourlyBucket <= 0 {
		return nil, errors.New("controller: pump limits not set")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LoadModel == nil {
		deps.LoadModel = loadModel
	}

	c := &Controller{
		cfg:         cfg,
		deps:        deps,
		conditioner: logic.NewConditioner(cfg.Conditioner),
		pump:        logic.NewPumpController(cfg.Limits, deps.Now()),
		predictor:   deps.Predictor,
		reload:      make(chan struct{}, 1),
	}
	c.mode = logic.ModeAI
	if c.predictor == nil {
		c.mode = logic.ModeEmergencyOnly
		log.Printf("controller: no model available, running EMERGENCY_ONLY")
	}
	return c, nil
}

func loadModel(path string) (Predictor, error) {
	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RequestReload asks the loop to reload the model before the next cycle.
// Repeated requests before the reload happens collapse into one.
func (c *Controller) RequestReload() {
	select {
	case c.reload <- struct{}{}:
	default:
	}
}

// Mode returns the current decision mode.
func (c *Controller) Mode() logic.Mode { return c.mode }

// Threshold returns the AI threshold in effect.
func (c *Controller) Threshold() float64 {
	if c.cfg.Threshold != nil {
		return *c.cfg.Threshold
	}
	if c.predictor != nil {
		return c.predictor.ThresholdOr(logic.DefaultThreshold)
	}
	return logic.DefaultThreshold
}

// PumpState returns a copy of the pump state.
func (c *Controller) PumpState() logic.PumpState { return c.pump.State() }

// Latest returns the last snapshot produced, or nil before the first cycle.
func (c *Controller) Latest() *status.Snapshot { return c.latest }

// Step runs one full cycle. Sensor faults are absorbed into the snapshot;
// the only error returned is a failure to drive the relay.
func (c *Controller) Step(ctx context.Context) error {
	c.applyReload()

	now := c.deps.Now()
	snap := &status.Snapshot{
		SessionID: c.cfg.SessionID,
		Timestamp: now,
	}

	reading, ok := c.readMoisture(ctx, now)
	snap.SensorFault = !ok

	climate := c.readClimate(ctx)
	snap.ClimateFault = climate.fault

	var d logic.Decision
	var fv logic.FeatureVector
	if ok {
		reading.Temperature = climate.temp
		reading.Humidity = climate.hum
		fv = logic.BuildFeatures(reading, now)
		d = c.decide(fv, reading.SoilPct)
	} else {
		// No water on blind input; the pump still runs its cutoffs.
		reading = c.last
		reading.Temperature = climate.temp
		reading.Humidity = climate.hum
		fv = logic.BuildFeatures(reading, now)
		d = logic.Decision{Reason: logic.ReasonNone, Mode: c.mode}
	}

	events := c.pump.Update(now, d.FinalOn)
	if err := c.deps.Relay.Set(c.pump.IsOn()); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	for _, e := range events {
		log.Printf("controller: %s (%s) run=%ds soil=%.1f%% reason=%s",
			e.Type, e.Cause, e.RunSeconds, reading.SoilPct, d.Reason)
	}

	fill(snap, reading, fv, d)
	snap.SoilUnknown = !c.hasReading
	c.fillPump(snap, now, events)
	snap.Degraded = snap.SensorFault || d.Mode == logic.ModeEmergencyOnly ||
		fv.TemperatureFallback || fv.HumidityFallback || fv.VPDFallback

	c.publish(snap)
	return nil
}

func (c *Controller) readMoisture(ctx context.Context, now time.Time) (logic.ConditionedReading, bool) {
	burst, err := sensor.ReadBurst(ctx, c.deps.Moisture, c.cfg.Conditioner.MedianN)
	if err == nil {
		var r logic.ConditionedReading
		r, err = c.conditioner.Condition(logic.RawSample{ADC: burst, Time: now})
		if err == nil {
			if c.sensorFault {
				log.Printf("controller: moisture sensor recovered")
			}
			c.sensorFault = false
			c.last = r
			c.hasReading = true
			return r, true
		}
	}
	if !c.sensorFault {
		log.Printf("controller: moisture sensor fault: %v", err)
	}
	c.sensorFault = true
	return logic.ConditionedReading{}, false
}

type climateReading struct {
	temp, hum *float64
	fault     bool
}

func (c *Controller) readClimate(ctx context.Context) climateReading {
	if c.deps.Climate == nil {
		return climateReading{}
	}
	cl, err := c.deps.Climate.ReadClimate(ctx)
	return climateReading{temp: cl.Temperature, hum: cl.Humidity, fault: err != nil}
}

func (c *Controller) decide(fv logic.FeatureVector, soilPct float64) logic.Decision {
	if c.predictor == nil {
		return logic.DecideEmergencyOnly(soilPct, c.cfg.EmergencyPct)
	}
	p, err := c.predictor.Predict(fv)
	if err != nil {
		log.Printf("controller: predict failed, disabling AI until reload: %v", err)
		c.setPredictor(nil)
		return logic.DecideEmergencyOnly(soilPct, c.cfg.EmergencyPct)
	}
	return logic.Decide(p, soilPct, c.Threshold(), c.cfg.EmergencyPct)
}

func (c *Controller) applyReload() {
	select {
	case <-c.reload:
	default:
		return
	}
	p, err := c.deps.LoadModel(c.cfg.ModelPath)
	if err != nil {
		log.Printf("controller: model reload failed, keeping %s: %v", c.mode, err)
		return
	}
	c.setPredictor(p)
}

func (c *Controller) setPredictor(p Predictor) {
	c.predictor = p
	mode := logic.ModeAI
	if p == nil {
		mode = logic.ModeEmergencyOnly
	}
	if mode != c.mode {
		log.Printf("controller: mode %s -> %s", c.mode, mode)
		c.mode = mode
	}
	if c.deps.ThresholdChanged != nil {
		c.deps.ThresholdChanged(c.Threshold())
	}
}

func fill(snap *status.Snapshot, r logic.ConditionedReading, fv logic.FeatureVector, d logic.Decision) {
	snap.Temperature = r.Temperature
	snap.Humidity = r.Humidity
	snap.VPD = fv.MeasuredVPD
	snap.ADCMedian = r.ADCMedian
	snap.SoilPct = r.SoilPct
	snap.SoilMA = r.SoilMA
	snap.DeltaSoil = r.DeltaSoil
	snap.Probability = d.Probability
	snap.AITrigger = d.AITrigger
	snap.EmergencyTrigger = d.EmergencyTrigger
	snap.Decision = d.FinalOn
	snap.Reason = d.Reason
	snap.Mode = d.Mode
}

func (c *Controller) fillPump(snap *status.Snapshot, now time.Time, events []logic.Event) {
	s := c.pump.State()
	snap.PumpOn = s.On
	snap.Phase = c.pump.Phase(now)
	snap.RunSecondsThisHour = s.RunSecondsThisHour()
	snap.RestUntil = s.RestUntil
	snap.Events = events
	snap.Counts = c.pump.EventCountsSnapshot()
}

func (c *Controller) publish(snap *status.Snapshot) {
	c.seq++
	snap.Seq = c.seq
	c.latest = snap
	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(snap)
	}
}

// Run steps the controller on every tick until ctx is cancelled or the relay
// fails. On every exit path, panics included, the pump is forced off and a
// final snapshot is published before Run returns.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time) (err error) {
	defer func() {
		r := recover()
		if sErr := c.Shutdown(); sErr != nil {
			err = errors.Join(err, sErr)
		}
		if r != nil {
			panic(r)
		}
	}()

	log.Printf("controller: started mode=%s threshold=%.3f emergency=%.1f%%",
		c.mode, c.Threshold(), c.cfg.EmergencyPct)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := c.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Shutdown forces the pump off, commands the relay off and publishes a
// final snapshot carrying the SHUTDOWN transition if there was one.
func (c *Controller) Shutdown() error {
	now := c.deps.Now()
	var events []logic.Event
	if e := c.pump.ForceOff(now, logic.CauseShutdown); e != nil {
		log.Printf("controller: %s (%s) run=%ds", e.Type, e.Cause, e.RunSeconds)
		events = append(events, *e)
	}

	err := c.confirmRelayOff()
	if err != nil {
		log.Printf("controller: %v", err)
	}

	snap := &status.Snapshot{
		SessionID:   c.cfg.SessionID,
		Timestamp:   now,
		Reason:      logic.ReasonNone,
		Mode:        c.mode,
		SoilUnknown: true,
	}
	if c.latest != nil {
		prev := *c.latest
		snap = &prev
		snap.Timestamp = now
		snap.Decision = false
		snap.Reason = logic.ReasonNone
	}
	c.fillPump(snap, now, events)
	if err != nil {
		snap.PumpOn = true
		snap.Degraded = true
	}
	c.publish(snap)
	return err
}

// confirmRelayOff commands the relay off and reads it back.
func (c *Controller) confirmRelayOff() error {
	if err := c.deps.Relay.Set(false); err != nil {
		return fmt.Errorf("%w on shutdown: %v", gpio.ErrRelayNotOff, err)
	}
	on, err := c.deps.Relay.Value()
	if err != nil {
		return fmt.Errorf("%w on shutdown: read-back: %v", gpio.ErrRelayNotOff, err)
	}
	if on {
		return fmt.Errorf("%w on shutdown: relay still reads on", gpio.ErrRelayNotOff)
	}
	return nil
}
