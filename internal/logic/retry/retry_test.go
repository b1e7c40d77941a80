package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/eosctl/internal/hw/device"
)

// scriptedWriter fails with busy a fixed number of times, then returns final.
type scriptedWriter struct {
	busy  int
	final error
	calls int
	seen  []*device.Widget
}

func (w *scriptedWriter) WriteConfig(tree *device.Widget) error {
	w.calls++
	w.seen = append(w.seen, tree)
	if w.calls <= w.busy {
		return device.ErrBusy
	}
	return w.final
}

func TestApply_SucceedsAfterNBusy(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 50} {
		w := &scriptedWriter{busy: n}
		a := New(w, Policy{MaxAttempts: 100})
		tree := &device.Widget{Name: "main"}
		if err := a.Apply(context.Background(), tree); err != nil {
			t.Fatalf("N=%d: Apply: %v", n, err)
		}
		if w.calls != n+1 {
			t.Errorf("N=%d: attempts = %d, want %d", n, w.calls, n+1)
		}
		if a.Attempts() != n+1 {
			t.Errorf("N=%d: Attempts() = %d, want %d", n, a.Attempts(), n+1)
		}
		for i, seen := range w.seen {
			if seen != tree {
				t.Errorf("N=%d: attempt %d wrote a different tree", n, i)
			}
		}
	}
}

func TestApply_UnboundedPolicy(t *testing.T) {
	w := &scriptedWriter{busy: 1000}
	a := New(w, Policy{})
	if err := a.Apply(context.Background(), &device.Widget{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if w.calls != 1001 {
		t.Errorf("attempts = %d, want 1001", w.calls)
	}
}

func TestApply_NonBusyFailsImmediately(t *testing.T) {
	w := &scriptedWriter{final: device.ErrDisconnected}
	a := New(w, DefaultPolicy())
	err := a.Apply(context.Background(), &device.Widget{})
	if !errors.Is(err, device.ErrDisconnected) {
		t.Fatalf("error = %v, want ErrDisconnected", err)
	}
	if errors.Is(err, ErrBusyExhausted) {
		t.Error("permanent failure reported as busy exhaustion")
	}
	if w.calls != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", w.calls)
	}
}

func TestApply_CeilingReturnsBusyExhausted(t *testing.T) {
	w := &scriptedWriter{busy: 10}
	a := New(w, Policy{MaxAttempts: 3})
	err := a.Apply(context.Background(), &device.Widget{})
	if !errors.Is(err, ErrBusyExhausted) {
		t.Fatalf("error = %v, want ErrBusyExhausted", err)
	}
	if !device.IsBusy(err) {
		t.Error("exhaustion error should wrap the last busy error")
	}
	if w.calls != 3 {
		t.Errorf("attempts = %d, want 3", w.calls)
	}
}

func TestApply_BackoffHonoursContext(t *testing.T) {
	w := &scriptedWriter{busy: 1 << 30}
	a := New(w, Policy{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := a.Apply(ctx, &device.Widget{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if w.calls < 2 || w.calls > 20 {
		t.Errorf("attempts = %d, expected a handful of backed-off retries", w.calls)
	}
}

func TestGrow(t *testing.T) {
	cases := []struct {
		in, limit, want time.Duration
	}{
		{0, time.Second, 0},
		{time.Millisecond, 0, 2 * time.Millisecond},
		{time.Millisecond, 50 * time.Millisecond, 2 * time.Millisecond},
		{40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := grow(tc.in, tc.limit); got != tc.want {
			t.Errorf("grow(%v, %v) = %v, want %v", tc.in, tc.limit, got, tc.want)
		}
	}
}
