// Package config loads controller settings from a YAML file, an optional
// .env file and IRRIGATION_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/irrigation-controller/internal/gpio"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/sensor"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "IRRIGATION_"

// Config holds the complete controller configuration.
type Config struct {
	Control     ControlConfig     `yaml:"control"`
	Conditioner ConditionerConfig `yaml:"conditioner"`
	Pump        PumpConfig        `yaml:"pump"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
	Audit       AuditConfig       `yaml:"audit"`
	Publisher   PublisherConfig   `yaml:"publisher"`
}

// ControlConfig holds loop and decision settings.
type ControlConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ModelPath    string        `yaml:"model_path"`
	Threshold    *float64      `yaml:"threshold"` // nil: use the model's own
	EmergencyPct float64       `yaml:"emergency_pct"`
}

// ConditionerConfig holds filtering and calibration settings.
type ConditionerConfig struct {
	MedianN     int `yaml:"median_n"`
	AvgWindow   int `yaml:"avg_window"`
	TrendWindow int `yaml:"trend_window"`
	WetADC      int `yaml:"wet_adc"`
	DryADC      int `yaml:"dry_adc"`
}

// PumpConfig holds the pulse timings and safety ceilings.
type PumpConfig struct {
	BurstOn       time.Duration `yaml:"burst_on"`
	Rest          time.Duration `yaml:"rest"`
	MinOn         time.Duration `yaml:"min_on"`
	MinOff        time.Duration `yaml:"min_off"`
	MaxOn         time.Duration `yaml:"max_on"`
	MaxMinPerHour int           `yaml:"max_min_per_hour"`
	HourlyBucket  time.Duration `yaml:"hourly_bucket"`
}

// HardwareConfig locates the relay line and the sensors.
type HardwareConfig struct {
	Chip          string        `yaml:"chip"`
	RelayPin      int           `yaml:"relay_pin"`
	ActiveHigh    bool          `yaml:"active_high"`
	DryRun        bool          `yaml:"dry_run"`
	IIORoot       string        `yaml:"iio_root"`
	ADCDevice     string        `yaml:"adc_device"`
	ADCChannel    int           `yaml:"adc_channel"`
	ClimateDevice string        `yaml:"climate_device"` // empty disables climate reads
	ReadTimeout   time.Duration `yaml:"read_timeout"`
}

// MQTTConfig configures the broker sink. An empty broker disables it.
type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig selects the operator-log sinks. Each is off when empty.
type AuditConfig struct {
	CSVPath  string         `yaml:"csv_path"`
	Database DatabaseConfig `yaml:"database"`
	Influx   InfluxConfig   `yaml:"influx"`
}

// DatabaseConfig selects a gorm driver.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres, mysql
	Path     string `yaml:"path"`   // sqlite only
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// InfluxConfig configures the time-series sink.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// PublisherConfig bounds the per-sink delivery queues.
type PublisherConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// Default returns the reference configuration.
func Default() Config {
	cond := logic.DefaultConditionerConfig()
	lim := logic.DefaultLimits()
	return Config{
		Control: ControlConfig{
			Interval:     1500 * time.Millisecond,
			ModelPath:    "model.json",
			EmergencyPct: logic.DefaultEmergencyPct,
		},
		Conditioner: ConditionerConfig{
			MedianN:     cond.MedianN,
			AvgWindow:   cond.AvgWindow,
			TrendWindow: cond.TrendWindow,
			WetADC:      cond.Calibration.Wet,
			DryADC:      cond.Calibration.Dry,
		},
		Pump: PumpConfig{
			BurstOn:       lim.BurstOn,
			Rest:          lim.Rest,
			MinOn:         lim.MinOn,
			MinOff:        lim.MinOff,
			MaxOn:         lim.MaxOn,
			MaxMinPerHour: lim.MaxMinPerHour,
			HourlyBucket:  lim.HourlyBucket,
		},
		Hardware: HardwareConfig{
			Chip:          gpio.DefaultChip,
			RelayPin:      gpio.DefaultRelayPin,
			ActiveHigh:    true,
			IIORoot:       sensor.DefaultIIORoot,
			ADCDevice:     "mcp3008",
			ADCChannel:    0,
			ClimateDevice: "dht11",
			ReadTimeout:   sensor.DefaultReadTimeout,
		},
		MQTT: MQTTConfig{
			ClientID:  "irrigation-controller",
			Heartbeat: 15 * time.Minute,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Audit: AuditConfig{
			Influx: InfluxConfig{Measurement: "irrigation"},
		},
		Publisher: PublisherConfig{
			QueueSize:       32,
			DeliveryTimeout: 2 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), the .env file at envFile (if present) and the
// process environment, then validates it.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from IRRIGATION_* variables read via getenv.
// Unparseable values are logged and ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	e := env{getenv: getenv}

	c.Control.Interval = e.duration("INTERVAL", c.Control.Interval)
	c.Control.ModelPath = e.str("MODEL_PATH", c.Control.ModelPath)
	if v, ok := e.float("THRESHOLD"); ok {
		c.Control.Threshold = &v
	}
	if v, ok := e.float("EMERGENCY_PCT"); ok {
		c.Control.EmergencyPct = v
	}

	c.Conditioner.WetADC = e.integer("WET_ADC", c.Conditioner.WetADC)
	c.Conditioner.DryADC = e.integer("DRY_ADC", c.Conditioner.DryADC)

	c.Pump.MaxOn = e.duration("MAX_ON", c.Pump.MaxOn)
	c.Pump.MaxMinPerHour = e.integer("MAX_MIN_PER_HOUR", c.Pump.MaxMinPerHour)

	c.Hardware.RelayPin = e.integer("RELAY_PIN", c.Hardware.RelayPin)
	c.Hardware.ActiveHigh = e.boolean("ACTIVE_HIGH", c.Hardware.ActiveHigh)
	c.Hardware.DryRun = e.boolean("DRY_RUN", c.Hardware.DryRun)
	c.Hardware.IIORoot = e.str("IIO_ROOT", c.Hardware.IIORoot)

	c.MQTT.Broker = e.str("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = e.str("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = e.str("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Heartbeat = e.duration("HEARTBEAT", c.MQTT.Heartbeat)

	c.HTTP.Addr = e.str("HTTP_ADDR", c.HTTP.Addr)

	c.Audit.CSVPath = e.str("CSV_PATH", c.Audit.CSVPath)
	c.Audit.Database.Driver = e.str("DB_DRIVER", c.Audit.Database.Driver)
	c.Audit.Database.Path = e.str("DB_PATH", c.Audit.Database.Path)
	c.Audit.Database.Password = e.str("DB_PASSWORD", c.Audit.Database.Password)
	c.Audit.Influx.URL = e.str("INFLUX_URL", c.Audit.Influx.URL)
	c.Audit.Influx.Token = e.str("INFLUX_TOKEN", c.Audit.Influx.Token)
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Control.Interval > 0, "control.interval must be positive")
	if t := c.Control.Threshold; t != nil {
		check(*t >= 0 && *t <= 1, "control.threshold %v outside [0,1]", *t)
	}
	check(c.Control.EmergencyPct >= 0 && c.Control.EmergencyPct <= 100,
		"control.emergency_pct %v outside [0,100]", c.Control.EmergencyPct)

	check(c.Conditioner.MedianN > 0, "conditioner.median_n must be positive")
	check(c.Conditioner.AvgWindow > 0, "conditioner.avg_window must be positive")
	check(c.Conditioner.TrendWindow > 0, "conditioner.trend_window must be positive")
	check(c.Conditioner.DryADC > c.Conditioner.WetADC,
		"conditioner.dry_adc (%d) must be greater than wet_adc (%d)", c.Conditioner.DryADC, c.Conditioner.WetADC)

	p := c.Pump
	check(p.BurstOn > 0 && p.Rest >= 0 && p.MinOn >= 0 && p.MinOff >= 0, "pump timings must not be negative")
	check(p.MaxOn > 0, "pump.max_on must be positive")
	check(p.MaxOn >= p.BurstOn, "pump.max_on (%v) shorter than burst_on (%v)", p.MaxOn, p.BurstOn)
	check(p.MaxMinPerHour > 0, "pump.max_min_per_hour must be positive")
	check(p.HourlyBucket > 0, "pump.hourly_bucket must be positive")
	check(p.Budget() <= p.HourlyBucket, "pump budget %v exceeds hourly bucket %v", p.Budget(), p.HourlyBucket)

	check(c.Hardware.RelayPin >= 0, "hardware.relay_pin must not be negative")
	check(c.Hardware.ADCDevice != "", "hardware.adc_device is required")

	check(c.Publisher.QueueSize > 0, "publisher.queue_size must be positive")
	check(c.Publisher.DeliveryTimeout > 0, "publisher.delivery_timeout must be positive")

	switch c.Audit.Database.Driver {
	case "":
	case "sqlite":
		check(c.Audit.Database.Path != "", "audit.database.path is required for sqlite")
	case "postgres", "mysql":
		check(c.Audit.Database.Host != "", "audit.database.host is required for %s", c.Audit.Database.Driver)
		check(c.Audit.Database.DBName != "", "audit.database.dbname is required for %s", c.Audit.Database.Driver)
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s", c.Audit.Database.Driver))
	}

	if c.Audit.Influx.URL != "" {
		check(c.Audit.Influx.Org != "" && c.Audit.Influx.Bucket != "", "audit.influx needs org and bucket")
	}

	return errors.Join(errs...)
}

// Budget returns the hourly runtime budget.
func (p PumpConfig) Budget() time.Duration {
	return time.Duration(p.MaxMinPerHour) * time.Minute
}

// Limits converts the pump section into state-machine limits.
func (c *Config) Limits() logic.Limits {
	return logic.Limits{
		BurstOn:       c.Pump.BurstOn,
		Rest:          c.Pump.Rest,
		MinOn:         c.Pump.MinOn,
		MinOff:        c.Pump.MinOff,
		MaxOn:         c.Pump.MaxOn,
		MaxMinPerHour: c.Pump.MaxMinPerHour,
		HourlyBucket:  c.Pump.HourlyBucket,
	}
}

// ConditionerConfig converts the conditioner section.
func (c *Config) ConditionerConfig() logic.ConditionerConfig {
	return logic.ConditionerConfig{
		MedianN:     c.Conditioner.MedianN,
		AvgWindow:   c.Conditioner.AvgWindow,
		TrendWindow: c.Conditioner.TrendWindow,
		Calibration: logic.Calibration{Wet: c.Conditioner.WetADC, Dry: c.Conditioner.DryADC},
	}
}

// DSN returns the connection string for the configured database driver.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	case "postgres":
		sslmode := d.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.DBName, sslmode)
	case "sqlite":
		return d.Path
	default:
		return ""
	}
}

type env struct {
	getenv func(string) string
}

func (e env) lookup(key string) (string, bool) {
	v := e.getenv(EnvPrefix + key)
	return v, v != ""
}

func (e env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e env) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return def
	}
	return n
}

func (e env) float(key string) (float64, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return 0, false
	}
	return f, true
}

func (e env) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return def
	}
	return b
}

func (e env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return def
	}
	return d
}
