package session

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/encoder"
	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/logic/capture"
	"github.com/cjeanneret/eosctl/internal/logic/retry"
)

// exposureFv is Canon's flexible-priority exposure mode; it lets aperture,
// shutter speed and ISO be driven remotely.
const exposureFv = "Fv"

// Options configures a Session. Zero values select defaults.
type Options struct {
	Retry       *retry.Policy // nil selects retry.DefaultPolicy
	Timing      capture.Timing
	Encoder     encoder.Encoder
	Indicator   capture.Indicator
	DownloadDir string
}

// Setting reports one parameter read or write. Domain problems (wrong mode,
// value not accepted, unknown name) set Rejected and Message and never
// produce an error.
type Setting struct {
	Value       string
	Choices     []string
	Substituted bool // the requested value was replaced by the closest choice
	Rejected    bool // nothing was written
	Message     string
}

func rejected(current string, choices []string, format string, args ...interface{}) Setting {
	msg := fmt.Sprintf(format, args...)
	debug.Info("%s", msg)
	return Setting{Value: current, Choices: choices, Rejected: true, Message: msg}
}

// Session owns one camera body for its lifetime. All public methods are
// serialized; errors are returned only for hard gateway failures.
type Session struct {
	mu sync.Mutex

	id    string
	gw    device.Gateway
	apply *retry.Applier
	orch  *capture.Orchestrator
	prof  profile
	dir   string
}

// New takes ownership of gw, detects the mode switch and, in PHOTO mode,
// selects the Fv exposure mode. Unreadable or garbled state is fatal.
func New(ctx context.Context, gw device.Gateway, opts Options) (*Session, error) {
	policy := retry.DefaultPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	dir := opts.DownloadDir
	if dir == "" {
		dir = "."
	}
	s := &Session{
		id:  uuid.NewString(),
		gw:  gw,
		dir: dir,
	}
	s.apply = retry.New(gw, policy)
	s.orch = capture.New(gw, s.apply, capture.Options{
		Timing:    opts.Timing,
		Indicator: opts.Indicator,
		Encoder:   opts.Encoder,
	})

	tree, err := gw.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	mode, err := detectMode(tree)
	if err != nil {
		return nil, err
	}
	s.prof = newProfile(mode, tree)
	debug.Info("Session %s: camera in %s mode", s.id, mode)

	if mode == device.Photo {
		reason, err := s.write(ctx, tree, "autoexposuremodedial", exposureFv)
		if err != nil {
			return nil, fmt.Errorf("select exposure mode: %w", err)
		}
		if reason != "" {
			debug.Verbose("Exposure mode left unchanged: %s", reason)
		}
	}
	return s, nil
}

// detectMode reads the PHOTO/VIDEO switch from tree.
func detectMode(tree *device.Widget) (device.Mode, error) {
	sw, ok := tree.Find(device.SwitchWidget)
	if !ok {
		return 0, fmt.Errorf("%w: %s widget", device.ErrNotFound, device.SwitchWidget)
	}
	return device.ParseSwitch(sw.Value)
}

// refresh re-reads the tree and follows the switch if it moved.
func (s *Session) refresh() (*device.Widget, error) {
	tree, err := s.gw.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	mode, err := detectMode(tree)
	if err != nil {
		return nil, err
	}
	if mode != s.prof.mode() {
		debug.Transition("mode", s.prof.mode().String(), mode.String())
		s.prof = newProfile(mode, tree)
	}
	return tree, nil
}

// gate refreshes the mode and reports whether op may run. A non-empty
// denied message means nothing may be written.
func (s *Session) gate(op operation) (tree *device.Widget, denied string, err error) {
	tree, err = s.refresh()
	if err != nil {
		return nil, "", err
	}
	if !s.prof.allows(op) {
		msg := refusal(s.prof, op)
		debug.Info("%s", msg)
		return tree, msg, nil
	}
	return tree, "", nil
}

// write sets one widget on tree and applies it. A non-empty reason means the
// widget is missing or refused the value, and nothing was written.
func (s *Session) write(ctx context.Context, tree *device.Widget, name, value string) (reason string, err error) {
	w, found := tree.Find(name)
	if !found {
		return fmt.Sprintf("Config %s not found", name), nil
	}
	if err := w.Set(value); err != nil {
		return err.Error(), nil
	}
	debug.Verbose("Config: %s = %q", w.Name, value)
	if err := s.apply.Apply(ctx, tree); err != nil {
		return "", err
	}
	return "", nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the mode seen by the last operation.
func (s *Session) Mode() device.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prof.mode()
}

// RefreshMode re-reads the physical switch.
func (s *Session) RefreshMode() (device.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refresh(); err != nil {
		return 0, err
	}
	return s.prof.mode(), nil
}

// WriteAttempts returns how many writes the last configuration change took,
// busy refusals included.
func (s *Session) WriteAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply.Attempts()
}

// CaptureState exposes the orchestrator state.
func (s *Session) CaptureState() capture.State {
	return s.orch.State()
}

// Snapshot returns a copy of the current configuration tree.
func (s *Session) Snapshot() (*device.Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh()
}

// ListAllConfig lists every configuration name the body exposes.
func (s *Session) ListAllConfig() ([]string, error) {
	tree, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return tree.Names(), nil
}

// GetConfig returns the value and choices of a configuration, matched
// case-insensitively.
func (s *Session) GetConfig(name string) (Setting, error) {
	tree, err := s.Snapshot()
	if err != nil {
		return Setting{}, err
	}
	w, ok := tree.Find(name)
	if !ok || w.IsContainer() {
		return rejected("", nil, "Config %s not found", name), nil
	}
	st := Setting{Value: w.Value, Choices: append([]string(nil), w.Choices...)}
	if !w.HasChoices() {
		st.Message = fmt.Sprintf("Config %s provides no choices", w.Name)
	}
	return st, nil
}

// SetConfig writes a raw value to any configuration. The value must be a
// literal the body accepts.
func (s *Session) SetConfig(ctx context.Context, name, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	w, ok := tree.Find(name)
	if !ok || w.IsContainer() {
		return rejected("", nil, "Config %s not found", name), nil
	}
	current, choices := w.Value, append([]string(nil), w.Choices...)
	reason, err := s.write(ctx, tree, w.Name, value)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(current, choices, "%s", reason), nil
	}
	return Setting{Value: value, Choices: choices}, nil
}

// pulse sets a widget to on, then back to off.
func (s *Session) pulse(ctx context.Context, name, on, off string) (string, error) {
	tree, err := s.refresh()
	if err != nil {
		return "", err
	}
	if reason, err := s.write(ctx, tree, name, on); reason != "" || err != nil {
		return reason, err
	}
	if tree, err = s.refresh(); err != nil {
		return "", err
	}
	return s.write(ctx, tree, name, off)
}

// SyncDateTime sets the body clock to the host clock.
func (s *Session) SyncDateTime(ctx context.Context) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, err := s.pulse(ctx, "syncdatetimeutc", "1", "0")
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected("", nil, "%s", reason), nil
	}
	return Setting{Message: "date and time synchronized"}, nil
}

// Manual focus steps: 0..2 nearer (small to large), 3 none, 4..6 further.
const (
	focusNone  = 3
	focusSteps = 7
)

// ManualFocus drives the focus by one step, then stops the drive. It has to
// be called repeatedly to reach a given distance.
func (s *Session) ManualFocus(ctx context.Context, step int) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	w, ok := tree.Find("manualfocusdrive")
	if !ok {
		return rejected("", nil, "Config manualfocusdrive not found"), nil
	}
	if len(w.Choices) != focusSteps || step < 0 || step >= focusSteps {
		return rejected(w.Value, w.Choices, "Focus step %d not supported, use 0-2 (nearer), 3 (none) or 4-6 (further)", step), nil
	}
	target, idle := w.Choices[step], w.Choices[focusNone]
	reason, err := s.pulse(ctx, w.Name, target, idle)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(idle, w.Choices, "%s", reason), nil
	}
	return Setting{Value: target, Choices: w.Choices}, nil
}

// ListFiles lists every file below root, one folder level deep, as full
// camera paths. An empty root lists the DCIM tree.
func (s *Session) ListFiles(root string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root == "" {
		root = device.DCIMRoot
	}
	folders, err := s.gw.ListFolders(root)
	if err != nil {
		return nil, fmt.Errorf("list folders %s: %w", root, err)
	}
	var files []string
	for _, f := range folders {
		folder := path.Join(root, f)
		names, err := s.gw.ListFiles(folder)
		if err != nil {
			return nil, fmt.Errorf("list files %s: %w", folder, err)
		}
		for _, n := range names {
			files = append(files, path.Join(folder, n))
		}
	}
	return files, nil
}

// FileInfo describes a file on the card.
func (s *Session) FileInfo(cameraPath string) (device.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, name := path.Split(cameraPath)
	info, err := s.gw.FileInfo(path.Clean(folder), name)
	if err != nil {
		return device.FileInfo{}, fmt.Errorf("file info %s: %w", cameraPath, err)
	}
	return info, nil
}

// DownloadFile copies a file from the card. An empty target saves it under
// the download directory with its camera name. The local path is returned.
func (s *Session) DownloadFile(cameraPath, target string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, name := path.Split(cameraPath)
	data, err := s.gw.FetchFile(path.Clean(folder), name)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", cameraPath, err)
	}
	if target == "" {
		target = filepath.Join(s.dir, name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", target, err)
	}
	debug.Verbose("Downloaded %s to %s (%d bytes)", cameraPath, target, len(data))
	return target, nil
}

// ResetAfterAbort returns release, recording and drive controls to neutral.
// Call it after an interrupted capture.
func (s *Session) ResetAfterAbort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Info("Session %s: resetting capture state", s.id)
	return s.orch.Reset(ctx)
}

// Close releases the gateway. The session is unusable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Info("Session %s: closed", s.id)
	return s.gw.Close()
}
