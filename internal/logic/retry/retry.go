package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/hw/device"
)

// ErrBusyExhausted is returned when the body still refuses a write after
// Policy.MaxAttempts busy attempts. It is distinct from permanent failures,
// which are returned on the first attempt.
var ErrBusyExhausted = errors.New("config write still busy after retry ceiling")

// Writer is the part of device.Gateway the adapter needs.
type Writer interface {
	WriteConfig(tree *device.Widget) error
}

// Policy bounds busy retries.
type Policy struct {
	MaxAttempts    int           // total attempts before ErrBusyExhausted; <= 0 retries forever
	InitialBackoff time.Duration // first pause between attempts; 0 retries immediately
	MaxBackoff     time.Duration // backoff doubles up to this cap
}

// DefaultPolicy gives the body roughly ten seconds of busy window.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    200,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

// Applier pushes configuration trees, absorbing transient busy refusals
// (typically right after a capture or a mode change).
type Applier struct {
	w        Writer
	policy   Policy
	attempts int
}

func New(w Writer, p Policy) *Applier {
	return &Applier{w: w, policy: p}
}

// Attempts returns how many writes the last Apply issued.
func (a *Applier) Attempts() int {
	return a.attempts
}

// Apply writes the full tree. The identical tree is rewritten while the body
// answers busy; any other error is returned at once without retry.
func (a *Applier) Apply(ctx context.Context, tree *device.Widget) error {
	a.attempts = 0
	backoff := a.policy.InitialBackoff
	for {
		a.attempts++
		err := a.w.WriteConfig(tree)
		if err == nil {
			if a.attempts > 1 {
				debug.Verbose("Config write applied after %d attempts", a.attempts)
			}
			return nil
		}
		if !device.IsBusy(err) {
			return fmt.Errorf("write config: %w", err)
		}
		if a.policy.MaxAttempts > 0 && a.attempts >= a.policy.MaxAttempts {
			return fmt.Errorf("%w (%d attempts): %w", ErrBusyExhausted, a.attempts, err)
		}
		debug.Trace("Config write busy (attempt %d), retrying in %v", a.attempts, backoff)
		if err := pause(ctx, backoff); err != nil {
			return err
		}
		backoff = grow(backoff, a.policy.MaxBackoff)
	}
}

func grow(d, limit time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	d *= 2
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
