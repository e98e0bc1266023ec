package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultIIORoot is where the kernel exposes industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// DefaultReadTimeout bounds a single sysfs read. The dht11 driver can stall
// for a couple of seconds on a bad line.
const DefaultReadTimeout = 2 * time.Second

// DHT22 operating range; anything outside is a corrupt frame.
const (
	minTempC = -40.0
	maxTempC = 80.0
)

// ErrDeviceNotFound is returned when no IIO device has the requested name.
var ErrDeviceNotFound = errors.New("sensor: iio device not found")

// FindIIODevice returns the directory of the IIO device whose name
// attribute equals name (e.g. "mcp3008", "dht11").
func FindIIODevice(root, name string) (string, error) {
	if root == "" {
		root = DefaultIIORoot
	}
	dirs, err := filepath.Glob(filepath.Join(root, "iio:device*"))
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		data, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == name {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s under %s", ErrDeviceNotFound, name, root)
}

// IIOMoisture reads a raw ADC channel (mcp320x driver).
type IIOMoisture struct {
	Path    string // e.g. .../iio:device0/in_voltage0_raw
	Timeout time.Duration
}

// NewIIOMoisture locates the ADC device and returns a reader for channel.
func NewIIOMoisture(root, device string, channel int, timeout time.Duration) (*IIOMoisture, error) {
	dir, err := FindIIODevice(root, device)
	if err != nil {
		return nil, err
	}
	return &IIOMoisture{
		Path:    filepath.Join(dir, fmt.Sprintf("in_voltage%d_raw", channel)),
		Timeout: timeout,
	}, nil
}

// ReadRawMoisture reads one conversion.
func (m *IIOMoisture) ReadRawMoisture(ctx context.Context) (int, error) {
	v, err := readIntAttr(ctx, m.Path, m.Timeout)
	if err != nil {
		return 0, fmt.Errorf("adc: %w", err)
	}
	return int(v), nil
}

// IIOClimate reads temperature and humidity from the dht11 driver, which
// reports milli-degrees and milli-percent.
type IIOClimate struct {
	TempPath     string
	HumidityPath string
	Timeout      time.Duration
}

// NewIIOClimate locates the climate device.
func NewIIOClimate(root, device string, timeout time.Duration) (*IIOClimate, error) {
	dir, err := FindIIODevice(root, device)
	if err != nil {
		return nil, err
	}
	return &IIOClimate{
		TempPath:     filepath.Join(dir, "in_temp_input"),
		HumidityPath: filepath.Join(dir, "in_humidityrelative_input"),
		Timeout:      timeout,
	}, nil
}

// ReadClimate reads both values independently.
func (c *IIOClimate) ReadClimate(ctx context.Context) (Climate, error) {
	var out Climate
	var errs []error

	if v, err := readIntAttr(ctx, c.TempPath, c.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("temperature: %w", err))
	} else if t := float64(v) / 1000; t >= minTempC && t <= maxTempC {
		out.Temperature = &t
	} else {
		errs = append(errs, fmt.Errorf("temperature: %.1f out of range", t))
	}

	if v, err := readIntAttr(ctx, c.HumidityPath, c.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("humidity: %w", err))
	} else if h := float64(v) / 1000; h >= 0 && h <= 100 {
		out.Humidity = &h
	} else {
		errs = append(errs, fmt.Errorf("humidity: %.1f out of range", h))
	}

	return out, errors.Join(errs...)
}

// readIntAttr reads an integer sysfs attribute, giving up after timeout.
// A read stuck in the kernel leaves its goroutine behind until it returns.
func readIntAttr(ctx context.Context, path string, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("read %s: %w", path, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(r.data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err)
		}
		return v, nil
	}
}
