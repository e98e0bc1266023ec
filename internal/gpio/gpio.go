// Package gpio drives the pump relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// ErrRelayNotOff is returned when the relay could not be confirmed off.
var ErrRelayNotOff = errors.New("gpio: relay not confirmed off")

// Relay switches the pump.
type Relay interface {
	// Set commands the relay. It is idempotent: setting the current state
	// again is not an error.
	Set(on bool) error

	// Value reads back the logical relay state.
	Value() (bool, error)

	// Close drives the relay off, confirms it, and releases resources.
	// Returns ErrRelayNotOff (wrapped) if the off state cannot be confirmed.
	Close() error
}

// Defaults (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultRelayPin = 17
)
