//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "irrigation-controller"

// RealRelay drives a relay module from a Linux GPIO character device line.
type RealRelay struct {
	chip       *gpiocdev.Chip
	line       *gpiocdev.Line
	activeHigh bool
}

// NewRealRelay requests pin on chip as an output, initially off.
// For active-low relay boards the line is requested active-low, so logical
// 1 always means pump on.
func NewRealRelay(chipName string, pin int, activeHigh bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if !activeHigh {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{
		chip:       chip,
		line:       line,
		activeHigh: activeHigh,
	}, nil
}

// Set drives the relay line.
func (r *RealRelay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	return nil
}

// Value reads back the logical line value.
func (r *RealRelay) Value() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read relay: %w", err)
	}
	return v == 1, nil
}

// Close drives the relay off, confirms the read-back, then hands the pin
// back as an input biased towards the relay's off level so the pump stays
// off across reboot.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrRelayNotOff, err))
		} else if on, err := r.Value(); err != nil || on {
			errs = append(errs, fmt.Errorf("%w: read-back on=%v err=%v", ErrRelayNotOff, on, err))
		}

		bias := gpiocdev.WithPullDown
		if !r.activeHigh {
			bias = gpiocdev.WithPullUp
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}
