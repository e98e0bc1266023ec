package gpio

import "log"

// DryRunRelay never touches hardware. It logs state changes so the control
// loop can be exercised on a bench without a pump attached.
type DryRunRelay struct {
	on bool
}

// NewDryRunRelay creates a DryRunRelay in the off state.
func NewDryRunRelay() *DryRunRelay {
	return &DryRunRelay{}
}

// Set logs state changes only.
func (d *DryRunRelay) Set(on bool) error {
	if on != d.on {
		log.Printf("relay (dry-run): on=%v", on)
	}
	d.on = on
	return nil
}

// Value returns the simulated state.
func (d *DryRunRelay) Value() (bool, error) {
	return d.on, nil
}

// Close turns the simulated relay off.
func (d *DryRunRelay) Close() error {
	return d.Set(false)
}
