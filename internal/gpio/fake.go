package gpio

import (
	"fmt"
	"sync"
)

// FakeRelay is a test double that records relay commands.
type FakeRelay struct {
	mu sync.Mutex

	// On is the current relay state.
	On bool

	// Commands records every Set call in order.
	Commands []bool

	// Changes counts actual state changes (idempotent sets excluded).
	Changes int

	// SetError, if set, will be returned by Set.
	SetError error

	// StuckOn makes the relay ignore off commands, simulating a welded contact.
	StuckOn bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeRelay creates a FakeRelay in the off state.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the command and updates the state.
func (f *FakeRelay) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.Commands = append(f.Commands, on)
	if f.StuckOn && !on {
		return nil
	}
	if f.On != on {
		f.Changes++
	}
	f.On = on
	return nil
}

// Value returns the current state.
func (f *FakeRelay) Value() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On, nil
}

// Close drives the relay off and confirms it.
func (f *FakeRelay) Close() error {
	err := f.Set(false)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayNotOff, err)
	}
	if f.On {
		return ErrRelayNotOff
	}
	return nil
}

// IsOn reports the relay state.
func (f *FakeRelay) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}
