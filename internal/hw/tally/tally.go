package tally

import (
	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/hw/gpio"
)

// Lamp is a tally light wired to one GPIO line. It is lit while the camera
// is armed (shutter released or recording) so operators on the rig can see
// a capture is in flight.
//
// Wiring: LED (with resistor) between the pin and GND for active-high, or
// between 3V3 and the pin for active-low.
type Lamp struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// New configures pin as an output and switches the lamp off.
func New(g gpio.Driver, pin int, activeLow bool) *Lamp {
	l := &Lamp{gpio: g, pin: pin, activeLow: activeLow}
	_ = g.SetupPin(pin, gpio.Output)
	_ = l.set(false)
	return l
}

func (l *Lamp) set(on bool) error {
	level := gpio.Level(on)
	if l.activeLow {
		level = !level
	}
	return l.gpio.WritePin(l.pin, level)
}

// Armed switches the lamp. GPIO failures are logged, never returned: a dead
// lamp must not abort a capture.
func (l *Lamp) Armed(on bool) {
	debug.Trace("Tally: pin %d armed=%v", l.pin, on)
	if err := l.set(on); err != nil {
		debug.Error(err)
	}
}

// Off switches the lamp off.
func (l *Lamp) Off() error {
	return l.set(false)
}
