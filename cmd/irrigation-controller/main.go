// Command irrigation-controller reads soil moisture and climate, decides
// when to water and drives the pump relay, publishing every cycle to MQTT,
// HTTP/WebSocket and the operator logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/irrigation-controller/internal/audit"
	"github.com/sweeney/irrigation-controller/internal/config"
	"github.com/sweeney/irrigation-controller/internal/controller"
	"github.com/sweeney/irrigation-controller/internal/gpio"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/model"
	"github.com/sweeney/irrigation-controller/internal/mqtt"
	"github.com/sweeney/irrigation-controller/internal/sensor"
	"github.com/sweeney/irrigation-controller/internal/status"
	"github.com/sweeney/irrigation-controller/internal/web"
)

type options struct {
	configPath  string
	envFile     string
	dryRun      bool
	httpAddr    string
	broker      string
	printState  bool
	sampleModel string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (empty for defaults)")
	flag.StringVar(&o.envFile, "env", ".env", "env file with IRRIGATION_* overrides (ignored if missing)")
	flag.BoolVar(&o.dryRun, "dry-run", false, "Log relay commands instead of driving the GPIO line")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address, overrides config (\"off\" disables)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker URL, overrides config (\"off\" disables)")
	flag.BoolVar(&o.printState, "print-state", false, "Print one sensor reading and the relay state, then exit")
	flag.StringVar(&o.sampleModel, "write-sample-model", "", "Write a sample model file to this path and exit")
	flag.Parse()

	if o.sampleModel != "" {
		if err := model.WriteSample(o.sampleModel); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		log.Printf("wrote sample model to %s", o.sampleModel)
		return
	}

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) (err error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, o)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	relay, err := openRelay(cfg.Hardware)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer closeRelay(relay, &err)

	moisture, climate, err := openSensors(cfg.Hardware)
	if err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}

	if o.printState {
		return printState(context.Background(), os.Stdout, cfg, moisture, climate, relay)
	}

	sessionID := uuid.NewString()
	predictor := loadPredictor(cfg.Control.ModelPath)

	tracker := status.NewTracker(time.Now(), sessionID, statusConfig(cfg, threshold(cfg, predictor)))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub()
	}
	sinks, err := buildSinks(cfg, tracker, sessionID, hub)
	if err != nil {
		return err
	}
	defer sinks.close()

	publisher := status.NewPublisher(tracker, status.PublisherOptions{
		QueueSize:       cfg.Publisher.QueueSize,
		DeliveryTimeout: cfg.Publisher.DeliveryTimeout,
	}, sinks.sinks...)

	ctrl, err := controller.New(controller.Config{
		Conditioner:  cfg.ConditionerConfig(),
		Limits:       cfg.Limits(),
		Threshold:    cfg.Control.Threshold,
		EmergencyPct: cfg.Control.EmergencyPct,
		ModelPath:    cfg.Control.ModelPath,
		SessionID:    sessionID,
	}, controller.Deps{
		Moisture:  moisture,
		Climate:   climate,
		Relay:     relay,
		Predictor: predictor,
		Publisher: publisher,

		ThresholdChanged: tracker.SetThreshold,
	})
	if err != nil {
		return err
	}

	publishSystem(sinks.mqtt, tracker, mqtt.EventStartup, "")

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	stopSignals := handleSignals(cancel, ctrl.RequestReload)
	defer stopSignals()

	log.Printf("started: session=%s interval=%v mode=%s broker=%q http=%q dry-run=%v",
		sessionID, cfg.Control.Interval, ctrl.Mode(), cfg.MQTT.Broker, cfg.HTTP.Addr, cfg.Hardware.DryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Control.Interval)
		defer ticker.Stop()
		return ctrl.Run(gctx, ticker.C)
	})
	if hub != nil {
		srv := web.New(cfg.HTTP.Addr, tracker, hub)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	reason := shutdownReason(context.Cause(ctx), runErr)
	log.Printf("shutting down: %s", reason)
	publishSystem(sinks.mqtt, tracker, mqtt.EventShutdown, reason)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := publisher.Close(closeCtx); err != nil {
		log.Printf("publisher close: %v", err)
	}
	logSinkStats(publisher.Stats())
	if b, ok := sinks.mqtt.(interface{ Buffered() int }); ok && b.Buffered() > 0 {
		log.Printf("mqtt: %d messages still buffered for the broker", b.Buffered())
	}
	return runErr
}

// closeRelay releases the relay and joins any failure to confirm it off
// into *err so the process exits non-zero.
func closeRelay(r gpio.Relay, err *error) {
	if cErr := r.Close(); cErr != nil {
		log.Printf("relay close: %v", cErr)
		*err = errors.Join(*err, fmt.Errorf("relay close: %w", cErr))
	}
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(cfg *config.Config, o options) {
	if o.dryRun {
		cfg.Hardware.DryRun = true
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = o.httpAddr
	}
	switch o.broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = o.broker
	}
}

func openRelay(hw config.HardwareConfig) (gpio.Relay, error) {
	if hw.DryRun {
		log.Printf("dry run: relay commands are logged only")
		return gpio.NewDryRunRelay(), nil
	}
	r, err := gpio.NewRealRelay(hw.Chip, hw.RelayPin, hw.ActiveHigh)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// openSensors opens the moisture ADC, which is required, and the climate
// sensor, which is optional: without it the features fall back to defaults.
func openSensors(hw config.HardwareConfig) (sensor.MoistureReader, sensor.ClimateReader, error) {
	m, err := sensor.NewIIOMoisture(hw.IIORoot, hw.ADCDevice, hw.ADCChannel, hw.ReadTimeout)
	if err != nil {
		return nil, nil, err
	}
	if hw.ClimateDevice == "" {
		return m, nil, nil
	}
	c, err := sensor.NewIIOClimate(hw.IIORoot, hw.ClimateDevice, hw.ReadTimeout)
	if err != nil {
		log.Printf("climate sensor unavailable, using fallback values: %v", err)
		return m, nil, nil
	}
	return m, c, nil
}

// loadPredictor returns nil (EMERGENCY_ONLY) when the model cannot be used.
func loadPredictor(path string) controller.Predictor {
	m, err := model.Load(path)
	if err != nil {
		log.Printf("model: %v", err)
		return nil
	}
	return m
}

func threshold(cfg *config.Config, p controller.Predictor) float64 {
	if cfg.Control.Threshold != nil {
		return *cfg.Control.Threshold
	}
	if p != nil {
		return p.ThresholdOr(logic.DefaultThreshold)
	}
	return logic.DefaultThreshold
}

func statusConfig(cfg *config.Config, threshold float64) status.Config {
	return status.Config{
		IntervalMs:    cfg.Control.Interval.Milliseconds(),
		HeartbeatMs:   cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		RelayPin:      cfg.Hardware.RelayPin,
		ActiveHigh:    cfg.Hardware.ActiveHigh,
		DryRun:        cfg.Hardware.DryRun,
		ModelPath:     cfg.Control.ModelPath,
		Threshold:     threshold,
		EmergencyPct:  cfg.Control.EmergencyPct,
		MaxOnSec:      int64(cfg.Pump.MaxOn / time.Second),
		MaxMinPerHour: cfg.Pump.MaxMinPerHour,
	}
}

// sinkSet holds the configured snapshot sinks and what must be closed
// after the publisher has drained.
type sinkSet struct {
	sinks   []status.Sink
	mqtt    mqtt.Publisher // nil when MQTT is disabled
	closers []io.Closer
}

func buildSinks(cfg *config.Config, tracker *status.Tracker, sessionID string, hub *web.Hub) (*sinkSet, error) {
	s := &sinkSet{}
	fail := func(err error) (*sinkSet, error) {
		s.close()
		return nil, err
	}

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			SessionID: sessionID,
		})
		if err != nil {
			return fail(fmt.Errorf("init mqtt: %w", err))
		}
		sink := mqtt.NewSink(pub, pub, tracker, cfg.MQTT.Heartbeat)
		sink.BeforeHeartbeat = func() {
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
		}
		s.mqtt = pub
		s.sinks = append(s.sinks, sink)
		s.closers = append(s.closers, pub)
	}

	if hub != nil {
		s.sinks = append(s.sinks, hub)
	}

	if cfg.Audit.CSVPath != "" {
		csv, err := audit.NewCSVSink(cfg.Audit.CSVPath)
		if err != nil {
			return fail(fmt.Errorf("init csv log: %w", err))
		}
		s.sinks = append(s.sinks, csv)
		s.closers = append(s.closers, csv)
	}

	if db := cfg.Audit.Database; db.Driver != "" {
		store, err := audit.Open(db.Driver, db.DSN())
		if err != nil {
			return fail(fmt.Errorf("init database log: %w", err))
		}
		s.sinks = append(s.sinks, store)
		s.closers = append(s.closers, store)
	}

	if ix := cfg.Audit.Influx; ix.URL != "" {
		influx, err := audit.NewInfluxSink(audit.InfluxOptions{
			URL:         ix.URL,
			Token:       ix.Token,
			Org:         ix.Org,
			Bucket:      ix.Bucket,
			Measurement: ix.Measurement,
		})
		if err != nil {
			return fail(fmt.Errorf("init influx: %w", err))
		}
		s.sinks = append(s.sinks, influx)
		s.closers = append(s.closers, influx)
	}

	for _, sink := range s.sinks {
		log.Printf("sink enabled: %s", sink.Name())
	}
	return s, nil
}

// close releases sinks in reverse order of creation.
func (s *sinkSet) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Printf("close sinks: %v", err)
		return err
	}
	return nil
}

func logSinkStats(stats []status.SinkStats) {
	for _, st := range stats {
		if st.Failed == 0 && st.Dropped == 0 {
			continue
		}
		log.Printf("sink %s: delivered=%d failed=%d dropped=%d", st.Name, st.Delivered, st.Failed, st.Dropped)
	}
}

func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	if pub == nil {
		return
	}
	st := tracker.Status()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  st.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(st, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

// errSignal is the cancellation cause for a termination signal.
type errSignal struct{ sig os.Signal }

func (e errSignal) Error() string { return "received " + signalName(e.sig) }

// handleSignals cancels on SIGINT/SIGTERM and calls reload on SIGHUP.
// The returned function stops signal delivery.
func handleSignals(cancel context.CancelCauseFunc, reload func()) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case s := <-sigCh:
				if s == syscall.SIGHUP {
					log.Printf("received SIGHUP, reloading model")
					reload()
					continue
				}
				log.Printf("received %v, shutting down", s)
				cancel(errSignal{sig: s})
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGHUP:
		return "SIGHUP"
	}
	return "UNKNOWN"
}

// shutdownReason names why the loop stopped, for the SHUTDOWN event.
func shutdownReason(cause, runErr error) string {
	var sig errSignal
	if errors.As(cause, &sig) {
		return signalName(sig.sig)
	}
	if runErr != nil {
		return "ERROR"
	}
	return "UNKNOWN"
}

func printState(ctx context.Context, w io.Writer, cfg *config.Config, m sensor.MoistureReader, c sensor.ClimateReader, relay gpio.Relay) error {
	burst, err := sensor.ReadBurst(ctx, m, cfg.Conditioner.MedianN)
	if err != nil {
		return fmt.Errorf("read moisture: %w", err)
	}
	median := logic.Median(burst)
	fmt.Fprintf(w, "ADC: %d, Soil: %.1f%%\n", median, logic.ADCToPct(median, cfg.ConditionerConfig().Calibration))

	if c != nil {
		cl, err := c.ReadClimate(ctx)
		if err != nil {
			fmt.Fprintf(w, "Climate: error: %v\n", err)
		}
		fmt.Fprintf(w, "Temperature: %s, Humidity: %s\n", optString(cl.Temperature, "°C"), optString(cl.Humidity, "%"))
	}

	on, err := relay.Value()
	if err != nil {
		return fmt.Errorf("read relay: %w", err)
	}
	fmt.Fprintf(w, "Relay: %s\n", stateString(on))
	return nil
}

func optString(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
