package remote

import (
	"fmt"
	"time"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/hw/gpio"
)

// Release closes the focus and shutter contacts of a Canon N3 or E3 remote
// socket by pulling GPIO lines to ground. An idle line is HIGH.
type Release struct {
	gpio    gpio.Driver
	focus   int
	shutter int
	// settle is how long focus is held before the shutter closes; hold is
	// how long the shutter contact stays closed.
	settle, hold time.Duration
}

// NewRelease claims both lines as outputs and leaves them open.
func NewRelease(g gpio.Driver, focusPin, shutterPin int, settle, hold time.Duration) (*Release, error) {
	for _, pin := range []int{focusPin, shutterPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("remote pin %d: %w", pin, err)
		}
		if err := g.WritePin(pin, gpio.High); err != nil {
			return nil, fmt.Errorf("remote pin %d: %w", pin, err)
		}
	}
	return &Release{gpio: g, focus: focusPin, shutter: shutterPin, settle: settle, hold: hold}, nil
}

// Shoot presses and releases the wired remote once. Both lines are back to
// HIGH when it returns, failures included.
func (r *Release) Shoot() error {
	debug.Live("Remote: firing through cable (focus=%d, shutter=%d)", r.focus, r.shutter)
	if err := r.gpio.WritePin(r.focus, gpio.Low); err != nil {
		return fmt.Errorf("remote focus: %w", err)
	}
	defer func() {
		if err := r.gpio.WritePin(r.focus, gpio.High); err != nil {
			debug.Verbose("Remote: focus line stuck closed: %v", err)
		}
	}()
	time.Sleep(r.settle)

	if err := r.gpio.WritePin(r.shutter, gpio.Low); err != nil {
		return fmt.Errorf("remote shutter: %w", err)
	}
	time.Sleep(r.hold)
	if err := r.gpio.WritePin(r.shutter, gpio.High); err != nil {
		return fmt.Errorf("remote shutter: %w", err)
	}
	debug.Trace("Remote: cable released")
	return nil
}

// Gateway fires TriggerCapture through a wired release; every other call
// goes to the USB gateway, which still reports the resulting file.
// The capture orchestrator only uses TriggerCapture on bodies that expose no
// remote-release control over USB.
type Gateway struct {
	device.Gateway
	release *Release
}

// Wrap routes gw's trigger through r.
func Wrap(gw device.Gateway, r *Release) *Gateway {
	return &Gateway{Gateway: gw, release: r}
}

func (g *Gateway) TriggerCapture() error {
	return g.release.Shoot()
}
