package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/encoder"
	"github.com/cjeanneret/eosctl/internal/hw/device"
)

// Widget names and literals of the EOS remote release protocol.
const (
	releaseWidget = "eosremoterelease"
	driveWidget   = "drivemode"
	recordWidget  = "movierecordtarget"
	movieMode     = "eosmoviemode"
	liveViewSize  = "liveviewsize"
	afDrive       = "autofocusdrive"

	releaseArm  = "Immediate"
	releaseFull = "Release Full"
	releaseIdle = "None"
	recordCard  = "Card"
	recordIdle  = "None"
	liveViewMax = "Large"
)

// Applier writes a configuration tree, absorbing busy refusals.
// *retry.Applier implements it.
type Applier interface {
	Apply(ctx context.Context, tree *device.Widget) error
}

// Timing holds the polling granularities and wait budgets of the protocol.
type Timing struct {
	Poll         time.Duration // per-call event wait while armed
	StillTimeout time.Duration // budget from arming to file-added for stills
	BurstPoll    time.Duration // per-call event wait while draining a burst
	QuietPeriod  time.Duration // burst drain ends after this long without a new file
	SaveTimeout  time.Duration // budget for the clip to appear after recording stops
}

func DefaultTiming() Timing {
	return Timing{
		Poll:         time.Second,
		StillTimeout: 5 * time.Second,
		BurstPoll:    100 * time.Millisecond,
		QuietPeriod:  5 * time.Second,
		SaveTimeout:  5 * time.Second,
	}
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Timing    Timing
	Indicator Indicator
	Encoder   encoder.Encoder // required for PreviewVideo only
}

// Orchestrator sequences the asynchronous capture protocol of the body:
// arm the release (or record) control, wait for the file-added event,
// fetch or time out, then restore the neutral control state.
// It is driven by one goroutine; State may be read from any.
type Orchestrator struct {
	gw     device.Gateway
	apply  Applier
	timing Timing
	ind    Indicator
	enc    encoder.Encoder

	mu    sync.Mutex
	state State
}

func New(gw device.Gateway, apply Applier, opts Options) *Orchestrator {
	t := opts.Timing
	def := DefaultTiming()
	if t.Poll <= 0 {
		t.Poll = def.Poll
	}
	if t.StillTimeout <= 0 {
		t.StillTimeout = def.StillTimeout
	}
	if t.BurstPoll <= 0 {
		t.BurstPoll = def.BurstPoll
	}
	if t.QuietPeriod <= 0 {
		t.QuietPeriod = def.QuietPeriod
	}
	if t.SaveTimeout <= 0 {
		t.SaveTimeout = def.SaveTimeout
	}
	ind := opts.Indicator
	if ind == nil {
		ind = nopIndicator{}
	}
	return &Orchestrator{gw: gw, apply: apply, timing: t, ind: ind, enc: opts.Encoder}
}

// State returns the current protocol state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Timing returns the effective timing after defaults.
func (o *Orchestrator) Timing() Timing {
	return o.timing
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	from := o.state
	o.state = s
	o.mu.Unlock()
	if from != s {
		debug.Transition("capture", from.String(), s.String())
	}
	switch s {
	case Armed:
		o.ind.Armed(true)
	case Idle:
		o.ind.Armed(false)
	}
}

type change struct {
	name, value string
}

// set applies changes on a fresh snapshot. The tree is never reused across
// writes: the body may have moved on since the last read.
func (o *Orchestrator) set(ctx context.Context, changes ...change) error {
	tree, err := o.gw.ReadConfig()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	for _, c := range changes {
		w, ok := tree.Find(c.name)
		if !ok {
			return fmt.Errorf("%w: widget %s", device.ErrNotFound, c.name)
		}
		if err := w.Set(c.value); err != nil {
			return err
		}
		debug.Verbose("Config: %s = %q", c.name, c.value)
	}
	return o.apply.Apply(ctx, tree)
}

func (o *Orchestrator) lookup(name string) (*device.Widget, bool, error) {
	tree, err := o.gw.ReadConfig()
	if err != nil {
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	w, ok := tree.Find(name)
	return w, ok, nil
}

// abort restores the neutral state after a hard failure and returns err.
func (o *Orchestrator) abort(ctx context.Context, err error) error {
	debug.Verbose("Capture aborted: %v", err)
	if rerr := o.Reset(context.WithoutCancel(ctx)); rerr != nil {
		debug.Verbose("Reset after abort failed: %v", rerr)
	}
	return err
}

// Reset returns every capture control to its neutral value in one write:
// release None, recording None, single-shot drive, movie mode off.
// Controls the body does not expose are skipped.
func (o *Orchestrator) Reset(ctx context.Context) error {
	defer o.setState(Idle)
	tree, err := o.gw.ReadConfig()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	neutral := map[string]string{
		releaseWidget: releaseIdle,
		recordWidget:  recordIdle,
		movieMode:     "0",
	}
	if w, ok := tree.Find(driveWidget); ok && len(w.Choices) > 0 {
		neutral[driveWidget] = w.Choices[0]
	}
	dirty := false
	for name, value := range neutral {
		w, ok := tree.Find(name)
		if !ok || w.Value == value {
			continue
		}
		if err := w.Set(value); err != nil {
			return err
		}
		debug.Verbose("Reset: %s = %q", name, value)
		dirty = true
	}
	if !dirty {
		return nil
	}
	return o.apply.Apply(ctx, tree)
}

// Autofocus pulses the autofocus drive once. The body gives no feedback on
// whether focus was achieved.
func (o *Orchestrator) Autofocus(ctx context.Context) error {
	if err := o.set(ctx, change{afDrive, "1"}); err != nil {
		return fmt.Errorf("autofocus: %w", err)
	}
	if err := o.set(ctx, change{afDrive, "0"}); err != nil {
		return fmt.Errorf("autofocus: %w", err)
	}
	return nil
}

// StillOptions controls a single still capture.
type StillOptions struct {
	Download  bool
	Dir       string // local directory for the downloaded file
	Autofocus bool   // pulse AF before arming
}

// Still takes one picture with the remote release. Bodies without the release
// widget are fired with Gateway.TriggerCapture instead.
//
// A missing file-added event is not an error: the file may still be on the
// card. The result then has Success false and a timeout message.
func (o *Orchestrator) Still(ctx context.Context, opts StillOptions) (Result, error) {
	debug.Section("Still capture")
	if opts.Autofocus {
		debug.Step(0, "autofocus")
		if err := o.Autofocus(ctx); err != nil {
			return Result{}, o.abort(ctx, err)
		}
	}

	_, hasRelease, err := o.lookup(releaseWidget)
	if err != nil {
		return Result{}, o.abort(ctx, err)
	}
	debug.Step(1, "arm")
	if hasRelease {
		err = o.set(ctx, change{releaseWidget, releaseArm})
	} else {
		debug.Verbose("No %s widget, using trigger capture", releaseWidget)
		err = o.gw.TriggerCapture()
	}
	if err != nil {
		return Result{}, o.abort(ctx, fmt.Errorf("arm: %w", err))
	}
	o.setState(Armed)

	res := Result{Success: true, Message: "saved to camera"}
	if opts.Download {
		debug.Step(2, "wait for file")
		ev, ok, err := o.awaitFile(ctx, o.timing.StillTimeout, o.timing.Poll)
		switch {
		case err != nil:
			return Result{}, o.abort(ctx, err)
		case !ok:
			o.setState(TimedOut)
			res = Result{Message: "waiting for new file event timed out, capture may have failed"}
		default:
			o.setState(FileArrived)
			local, err := o.save(ev, opts.Dir)
			if err != nil {
				return Result{}, o.abort(ctx, err)
			}
			res = Result{Success: true, FilePath: local, Message: "downloaded"}
		}
	}

	debug.Step(3, "disarm")
	if hasRelease {
		if err := o.disarmRelease(ctx); err != nil {
			return Result{}, o.abort(ctx, err)
		}
	}
	o.setState(Idle)
	debug.Live("Still capture: %s", res.Message)
	return res, nil
}

// disarmRelease releases the shutter fully, then returns the control to idle.
func (o *Orchestrator) disarmRelease(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := o.set(ctx, change{releaseWidget, releaseFull}); err != nil {
		return fmt.Errorf("disarm: %w", err)
	}
	if err := o.set(ctx, change{releaseWidget, releaseIdle}); err != nil {
		return fmt.Errorf("disarm: %w", err)
	}
	return nil
}

// awaitFile polls for a file-added event until budget elapses. Other events
// are skipped. ok is false on timeout.
func (o *Orchestrator) awaitFile(ctx context.Context, budget, poll time.Duration) (ev device.Event, ok bool, err error) {
	deadline := time.Now().Add(budget)
	for {
		if err := ctx.Err(); err != nil {
			return device.Event{}, false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			debug.Verbose("No file-added event within %v", budget)
			return device.Event{}, false, nil
		}
		ev, err := o.gw.WaitForEvent(min(poll, remaining))
		if err != nil {
			return device.Event{}, false, fmt.Errorf("wait for event: %w", err)
		}
		if ev.Type == device.EventFileAdded {
			debug.Live("File added: %s", ev.Path())
			return ev, true, nil
		}
		if ev.Type != device.EventTimeout {
			debug.Trace("Skipping %s event while armed (%s)", ev.Type, ev.Data)
		}
	}
}

func (o *Orchestrator) save(ev device.Event, dir string) (string, error) {
	data, err := o.gw.FetchFile(ev.Folder, ev.Name)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ev.Path(), err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	local := filepath.Join(dir, ev.Name)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", local, err)
	}
	debug.Verbose("Saved %s (%d bytes)", local, len(data))
	return local, nil
}

// Burst holds the release in continuous drive for hold, then collects every
// file the body announces until QuietPeriod passes without a new one.
// Files are written to the card only; their camera paths are returned.
func (o *Orchestrator) Burst(ctx context.Context, hold time.Duration) (BurstResult, error) {
	debug.Section("Burst capture")
	drive, ok, err := o.lookup(driveWidget)
	if err != nil {
		return BurstResult{}, o.abort(ctx, err)
	}
	if !ok || len(drive.Choices) < 2 {
		return BurstResult{Message: "continuous drive mode is not available"}, nil
	}
	single, continuous := drive.Choices[0], drive.Choices[1]

	debug.Verbose("Drive mode: %s", continuous)
	if err := o.set(ctx, change{driveWidget, continuous}); err != nil {
		return BurstResult{}, o.abort(ctx, err)
	}
	if err := o.set(ctx, change{releaseWidget, releaseArm}); err != nil {
		return BurstResult{}, o.abort(ctx, fmt.Errorf("arm: %w", err))
	}
	o.setState(Armed)
	if err := sleep(ctx, hold); err != nil {
		return BurstResult{}, o.abort(ctx, err)
	}
	if err := o.set(ctx, change{releaseWidget, releaseFull}); err != nil {
		return BurstResult{}, o.abort(ctx, fmt.Errorf("release: %w", err))
	}

	files, err := o.drain(ctx)
	if err != nil {
		return BurstResult{}, o.abort(ctx, err)
	}
	if len(files) > 0 {
		o.setState(FileArrived)
	} else {
		o.setState(TimedOut)
	}

	if err := o.set(context.WithoutCancel(ctx), change{driveWidget, single}, change{releaseWidget, releaseIdle}); err != nil {
		return BurstResult{}, o.abort(ctx, err)
	}
	o.setState(Idle)

	if len(files) == 0 {
		return BurstResult{Message: "no file-added events after burst, capture may have failed"}, nil
	}
	debug.Live("Burst: %d files", len(files))
	return BurstResult{Success: true, Files: files, Message: "saved to camera"}, nil
}

// drain collects file-added events; every new file restarts the quiet period.
func (o *Orchestrator) drain(ctx context.Context) ([]string, error) {
	var files []string
	deadline := time.Now().Add(o.timing.QuietPeriod)
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return files, nil
		}
		ev, err := o.gw.WaitForEvent(min(o.timing.BurstPoll, remaining))
		if err != nil {
			return files, fmt.Errorf("wait for event: %w", err)
		}
		if ev.Type == device.EventFileAdded {
			files = append(files, ev.Path())
			debug.Verbose("Burst file %d: %s", len(files), ev.Path())
			deadline = time.Now().Add(o.timing.QuietPeriod)
		}
	}
}

// PreviewOptions controls a live-view recording.
type PreviewOptions struct {
	Duration time.Duration
	Target   string // output file; an existing file is replaced
	// ResolutionPriority records in movie mode (1024x576, ~25fps) instead of
	// the largest live-view size (960x640, up to ~60fps).
	ResolutionPriority bool
}

// PreviewVideo records live-view frames through the encoder for Duration.
// Nothing is written to the card and no events are involved.
func (o *Orchestrator) PreviewVideo(ctx context.Context, opts PreviewOptions) (Result, error) {
	debug.Section("Preview video")
	if o.enc == nil {
		return Result{}, errors.New("preview video: no encoder configured")
	}

	if opts.ResolutionPriority {
		err := o.set(ctx, change{movieMode, "1"})
		if err != nil {
			return Result{}, o.abort(ctx, err)
		}
	} else if err := o.set(ctx, change{liveViewSize, liveViewMax}); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	restore := func() error {
		if !opts.ResolutionPriority {
			return nil
		}
		return o.set(context.WithoutCancel(ctx), change{movieMode, "0"})
	}
	restoreOrLog := func() {
		if err := restore(); err != nil {
			debug.Verbose("Restoring movie mode failed: %v", err)
		}
	}

	if err := os.Remove(opts.Target); err != nil && !errors.Is(err, os.ErrNotExist) {
		restoreOrLog()
		return Result{}, fmt.Errorf("remove %s: %w", opts.Target, err)
	}
	stream, err := o.enc.Start(ctx, opts.Target)
	if err != nil {
		restoreOrLog()
		return Result{}, fmt.Errorf("start encoder: %w", err)
	}

	frames, loopErr := o.pumpFrames(ctx, stream, opts.Duration)
	closeErr := stream.Close()
	if loopErr != nil {
		return Result{}, o.abort(ctx, loopErr)
	}
	if err := restore(); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	if closeErr != nil {
		return Result{}, fmt.Errorf("encoder: %w", closeErr)
	}
	debug.Live("Preview video: %d frames to %s", frames, opts.Target)
	return Result{Success: true, FilePath: opts.Target, Message: "saved to computer"}, nil
}

func (o *Orchestrator) pumpFrames(ctx context.Context, w encoder.Stream, d time.Duration) (int, error) {
	start := time.Now()
	frames := 0
	for time.Since(start) < d {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		frame, err := o.gw.CapturePreview()
		if err != nil {
			return frames, fmt.Errorf("capture preview: %w", err)
		}
		if _, err := w.Write(frame); err != nil {
			return frames, fmt.Errorf("encoder: %w", err)
		}
		frames++
	}
	return frames, nil
}

// VideoOptions controls a full-resolution recording to the card.
type VideoOptions struct {
	Duration time.Duration
	Download bool
	Dir      string
}

// Video records to the card for Duration, then waits for the clip like a
// still. Resolution and container are set in the body's menu.
//
// A missing file-added event still yields Success: the clip is on the card.
func (o *Orchestrator) Video(ctx context.Context, opts VideoOptions) (Result, error) {
	debug.Section("Video recording")
	if err := o.set(ctx, change{recordWidget, recordCard}); err != nil {
		return Result{}, o.abort(ctx, fmt.Errorf("start recording: %w", err))
	}
	o.setState(Armed)
	if err := sleep(ctx, opts.Duration); err != nil {
		return Result{}, o.abort(ctx, err)
	}
	if err := o.set(context.WithoutCancel(ctx), change{recordWidget, recordIdle}); err != nil {
		return Result{}, o.abort(ctx, fmt.Errorf("stop recording: %w", err))
	}

	res := Result{Success: true, Message: "saved to camera"}
	if opts.Download {
		ev, ok, err := o.awaitFile(ctx, o.timing.SaveTimeout, o.timing.Poll)
		switch {
		case err != nil:
			return Result{}, o.abort(ctx, err)
		case !ok:
			o.setState(TimedOut)
			res.Message = "warning: waiting for new file event timed out, capture may have failed"
		default:
			o.setState(FileArrived)
			local, err := o.save(ev, opts.Dir)
			if err != nil {
				return Result{}, o.abort(ctx, err)
			}
			res = Result{Success: true, FilePath: local, Message: "file downloaded to computer"}
		}
	}
	o.setState(Idle)
	debug.Live("Video: %s", res.Message)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
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
