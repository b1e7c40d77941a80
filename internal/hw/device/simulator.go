package device

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/eosctl/internal/debug"
)

// DCIMRoot is where EOS bodies expose the card's image folders.
const DCIMRoot = "/store_00020001/DCIM"

const simFolder = DCIMRoot + "/100CANON"

// SimulatorOptions tunes the in-memory body.
type SimulatorOptions struct {
	Video         bool          // physical switch position at power-on
	BusyWrites    int           // number of initial writes refused with ErrBusy
	CaptureDelay  time.Duration // arming -> file-added latency (default 150ms)
	BurstInterval time.Duration // time per frame while the trigger is held (default 110ms, ~9fps)
	FlushInterval time.Duration // spacing of file-added events after a burst (default 20ms)
	DropEvents    bool          // write files to the card but never announce them
}

type simFile struct {
	name    string
	data    []byte
	modTime time.Time
}

type scheduled struct {
	at time.Time
	ev Event
}

// Simulator is an in-memory EOS R5 C style body implementing Gateway.
// Arming the remote release writes a file to its card and announces it
// with a file-added event after CaptureDelay, like the real body does
// on its own schedule. It is safe for concurrent use.
type Simulator struct {
	mu   sync.Mutex
	opts SimulatorOptions

	tree    *Widget
	folders map[string][]*simFile
	pending []scheduled
	seq     int

	attempts int
	writes   int
	busyLeft int
	previews int
	closed   bool

	bursting   bool
	burstFrom  time.Time
	recording  bool
	recordFrom time.Time
}

// NewSimulator creates a powered-on simulated body.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.CaptureDelay <= 0 {
		opts.CaptureDelay = 150 * time.Millisecond
	}
	if opts.BurstInterval <= 0 {
		opts.BurstInterval = 110 * time.Millisecond
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 20 * time.Millisecond
	}
	s := &Simulator{
		opts:     opts,
		folders:  map[string][]*simFile{simFolder: nil},
		busyLeft: opts.BusyWrites,
	}
	s.tree = simTree(opts.Video)
	debug.Info("Using SIMULATED camera body (video=%v)", opts.Video)
	return s
}

// SetSwitch moves the physical PHOTO/VIDEO switch. The body re-enumerates its
// configuration for the new mode; card contents survive.
func (s *Simulator) SetSwitch(video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Video = video
	s.tree = simTree(video)
	s.bursting, s.recording = false, false
}

// InjectBusy makes the next n configuration writes fail with ErrBusy.
func (s *Simulator) InjectBusy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyLeft = n
}

// Attempts returns the number of WriteConfig calls, busy refusals included.
func (s *Simulator) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Writes returns the number of accepted configuration writes.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Previews returns the number of live-view frames served.
func (s *Simulator) Previews() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previews
}

// Value returns the committed value of a widget, or "" if it does not exist.
func (s *Simulator) Value(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.tree.Find(name); ok {
		return w.Value
	}
	return ""
}

// Files lists every file on the card as full camera paths.
func (s *Simulator) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for folder, files := range s.folders {
		for _, f := range files {
			out = append(out, path.Join(folder, f.name))
		}
	}
	sort.Strings(out)
	return out
}

// Disconnect simulates pulling the USB cable.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Simulator) ReadConfig() (*Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	return s.tree.Clone(), nil
}

func (s *Simulator) WriteConfig(tree *Widget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.closed {
		return ErrDisconnected
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		debug.Trace("simulator: write refused (busy, %d left)", s.busyLeft)
		return ErrBusy
	}

	type change struct {
		w     *Widget
		value string
	}
	var (
		changes []change
		err     error
	)
	tree.Walk(func(in *Widget) {
		if err != nil || in.IsContainer() {
			return
		}
		cur, ok := s.tree.Find(in.Name)
		if !ok {
			err = fmt.Errorf("%w: unknown widget %s", ErrNotFound, in.Name)
			return
		}
		if cur.Value == in.Value {
			return
		}
		if cur.ReadOnly {
			err = fmt.Errorf("%w: %s", ErrReadOnly, cur.Name)
			return
		}
		if cur.HasChoices() && !slices.Contains(cur.Choices, in.Value) {
			err = fmt.Errorf("%w: %q is not a choice of %s", ErrBadValue, in.Value, cur.Name)
			return
		}
		changes = append(changes, change{cur, in.Value})
	})
	if err != nil {
		return err
	}

	s.writes++
	now := time.Now()
	for _, c := range changes {
		debug.Trace("simulator: %s = %q", c.w.Name, c.value)
		c.w.Value = c.value
		s.onChange(now, c.w.Name, c.value)
	}
	return nil
}

func (s *Simulator) onChange(now time.Time, name, value string) {
	switch name {
	case "syncdatetimeutc":
		if value == "1" {
			if w, ok := s.tree.Find("datetimeutc"); ok {
				w.Value = fmt.Sprint(now.Unix())
			}
		}
	case "eosremoterelease":
		switch value {
		case "Immediate", "Press Full":
			if s.continuousDrive() {
				s.bursting = true
				s.burstFrom = now
				return
			}
			s.captureStill(now)
		case "Release Full", "Release Half", "None":
			if !s.bursting {
				return
			}
			s.bursting = false
			frames := int(now.Sub(s.burstFrom)/s.opts.BurstInterval) + 1
			for i := 0; i < frames; i++ {
				s.store("IMG_%04d.JPG", jpegStub(s.seq+1), now.Add(time.Duration(i+1)*s.opts.FlushInterval))
			}
		}
	case "movierecordtarget":
		switch {
		case value == "Card":
			s.recording = true
			s.recordFrom = now
		case value == "None" && s.recording:
			s.recording = false
			clip := []byte(fmt.Sprintf("MP4 %s", now.Sub(s.recordFrom)))
			s.store("MVI_%04d.MP4", clip, now.Add(s.opts.CaptureDelay))
		}
	}
}

func (s *Simulator) continuousDrive() bool {
	w, ok := s.tree.Find("drivemode")
	return ok && len(w.Choices) > 1 && w.Value == w.Choices[1]
}

func (s *Simulator) captureStill(now time.Time) {
	s.schedule(now.Add(s.opts.CaptureDelay/2), Event{Type: EventUnknown, Data: "PTP Property d1d3 changed"})
	s.store("IMG_%04d.JPG", jpegStub(s.seq+1), now.Add(s.opts.CaptureDelay))
}

// store writes a file to the card right away and announces it at `at`.
func (s *Simulator) store(pattern string, data []byte, at time.Time) {
	s.seq++
	name := fmt.Sprintf(pattern, s.seq)
	s.folders[simFolder] = append(s.folders[simFolder], &simFile{name: name, data: data, modTime: at})
	if !s.opts.DropEvents {
		s.schedule(at, Event{Type: EventFileAdded, Folder: simFolder, Name: name})
	}
}

func (s *Simulator) schedule(at time.Time, ev Event) {
	i := sort.Search(len(s.pending), func(i int) bool { return s.pending[i].at.After(at) })
	s.pending = slices.Insert(s.pending, i, scheduled{at: at, ev: ev})
}

func (s *Simulator) popDue(now time.Time) (Event, bool) {
	if len(s.pending) == 0 || s.pending[0].at.After(now) {
		return Event{}, false
	}
	ev := s.pending[0].ev
	s.pending = s.pending[1:]
	return ev, true
}

func (s *Simulator) WaitForEvent(timeout time.Duration) (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, ErrDisconnected
	}
	now := time.Now()
	if ev, ok := s.popDue(now); ok {
		s.mu.Unlock()
		return ev, nil
	}
	wait := timeout
	if len(s.pending) > 0 {
		if d := s.pending[0].at.Sub(now); d < wait {
			wait = d
		}
	}
	s.mu.Unlock()

	time.Sleep(wait)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.popDue(time.Now()); ok {
		return ev, nil
	}
	return Event{Type: EventTimeout}, nil
}

func (s *Simulator) TriggerCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisconnected
	}
	if s.opts.Video {
		return fmt.Errorf("%w: trigger capture in video mode", ErrUnsupported)
	}
	s.captureStill(time.Now())
	return nil
}

func (s *Simulator) CapturePreview() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	if s.opts.Video {
		return nil, fmt.Errorf("%w: live view preview in video mode", ErrUnsupported)
	}
	s.previews++
	return jpegStub(s.previews), nil
}

func (s *Simulator) lookup(folder, name string) (*simFile, error) {
	for _, f := range s.folders[folder] {
		if f.name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path.Join(folder, name))
}

func (s *Simulator) FetchFile(folder, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	f, err := s.lookup(folder, name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(f.data), nil
}

func (s *Simulator) FileInfo(folder, name string) (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return FileInfo{}, ErrDisconnected
	}
	f, err := s.lookup(folder, name)
	if err != nil {
		return FileInfo{}, err
	}
	mime := "image/jpeg"
	if strings.HasSuffix(f.name, ".MP4") {
		mime = "video/mp4"
	}
	return FileInfo{Size: int64(len(f.data)), Type: mime, ModTime: f.modTime}, nil
}

func (s *Simulator) ListFolders(folder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	folder = path.Clean(folder)
	var names []string
	known := false
	for f := range s.folders {
		if f == folder {
			known = true
		}
		if path.Dir(f) == folder {
			names = append(names, path.Base(f))
			known = true
		} else if strings.HasPrefix(f, folder+"/") {
			known = true
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: folder %s", ErrNotFound, folder)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Simulator) ListFiles(folder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	files, ok := s.folders[path.Clean(folder)]
	if !ok {
		return nil, fmt.Errorf("%w: folder %s", ErrNotFound, folder)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.name)
	}
	return names, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// jpegStub returns a minimal SOI ... EOI byte sequence tagged with n.
func jpegStub(n int) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	b = append(b, []byte(fmt.Sprintf("frame-%d", n))...)
	return append(b, 0xFF, 0xD9)
}

var (
	simPhotoApertures = []string{"2.8", "3.2", "3.5", "4", "4.5", "5", "5.6", "6.3", "7.1", "8", "9", "10", "11", "13", "14", "16", "18", "20", "22", "25", "29", "32"}
	simPhotoShutters  = []string{"30", "25", "20", "15", "13", "10.3", "8", "6.3", "5", "4", "3.2", "2.5", "2", "1.6", "1.3", "1", "0.8", "0.6", "0.5", "0.4", "0.3", "1/4", "1/5", "1/6", "1/8", "1/10", "1/13", "1/15", "1/20", "1/25", "1/30", "1/40", "1/50", "1/60", "1/80", "1/100", "1/125", "1/160", "1/200", "1/250", "1/320", "1/400", "1/500", "1/640", "1/800", "1/1000", "1/1250", "1/1600", "1/2000", "1/2500", "1/3200", "1/4000", "1/5000", "1/6400", "1/8000"}
	simVideoShutters  = []string{"1/50", "1/60", "1/75", "1/90", "1/100", "1/120", "1/150", "1/180", "1/210", "1/250", "1/300", "1/360", "1/420", "1/500", "1/600", "1/720", "1/840", "1/1000", "1/1200", "1/1400", "1/1700", "1/2000"}
	simISOs           = []string{"Auto", "100", "125", "160", "200", "250", "320", "400", "500", "640", "800", "1000", "1250", "1600", "2000", "2500", "3200", "4000", "5000", "6400", "8000", "10000", "12800", "16000", "20000", "25600", "32000", "40000", "51200"}
	simReleases       = []string{"None", "Press Half", "Press Full", "Release Half", "Release Full", "Immediate", "Press 1", "Press 2", "Press 3", "Release 1", "Release 2", "Release 3"}
)

func menu(name, value string, choices ...string) *Widget {
	return &Widget{Name: name, Label: name, Type: WidgetRadio, Value: value, Choices: choices}
}

func toggle(name, value string) *Widget {
	return &Widget{Name: name, Label: name, Type: WidgetToggle, Value: value}
}

func section(name string, children ...*Widget) *Widget {
	return &Widget{Name: name, Label: name, Type: WidgetSection, Children: children}
}

func simTree(video bool) *Widget {
	switchPos := "0"
	if video {
		switchPos = "1"
	}

	actions := section("actions",
		toggle("syncdatetimeutc", "0"),
		toggle("autofocusdrive", "0"),
		menu("manualfocusdrive", "None", "Near 1", "Near 2", "Near 3", "None", "Far 1", "Far 2", "Far 3"),
		menu("eosremoterelease", "None", simReleases...),
		&Widget{Name: "eoszoomposition", Label: "Zoom Position", Type: WidgetText, Value: "0,0"},
	)
	status := section("status",
		&Widget{Name: "cameramodel", Label: "Camera Model", Type: WidgetText, Value: "Canon EOS R5 C", ReadOnly: true},
		&Widget{Name: "batterylevel", Label: "Battery Level", Type: WidgetText, Value: "100%", ReadOnly: true},
		&Widget{Name: "eosmovieswitch", Label: "Movie Switch", Type: WidgetToggle, Value: switchPos, ReadOnly: true},
	)
	settings := section("settings",
		&Widget{Name: "datetimeutc", Label: "Camera Date and Time", Type: WidgetDate, Value: "0"},
	)

	var capture *Widget
	if video {
		apertures := slices.DeleteFunc(slices.Clone(simPhotoApertures), func(v string) bool { return v == "13" })
		actions.Children = append(actions.Children, menu("movierecordtarget", "None", "Card", "None"))
		capture = section("capturesettings",
			menu("aperture", "implicit auto", append([]string{"implicit auto"}, apertures...)...),
			menu("shutterspeed", "auto", append([]string{"auto"}, simVideoShutters...)...),
			menu("movieservoaf", "Off", "Off", "On"),
		)
	} else {
		actions.Children = append(actions.Children, toggle("eosmoviemode", "0"))
		capture = section("capturesettings",
			menu("autoexposuremodedial", "P", "Fv", "P", "TV", "AV", "Manual", "Bulb", "C1", "C2", "C3"),
			menu("aperture", "Unknown value 00ff", append([]string{"Unknown value 00ff"}, simPhotoApertures...)...),
			menu("shutterspeed", "bulb", append([]string{"bulb"}, simPhotoShutters...)...),
			menu("iso", "Auto", simISOs...),
			menu("imageformat", "Large Fine JPEG", "Large Fine JPEG", "Large Normal JPEG", "Medium Fine JPEG", "Medium Normal JPEG", "Small Fine JPEG", "Small Normal JPEG", "RAW", "RAW + Large Fine JPEG", "cRAW", "cRAW + Large Fine JPEG"),
			menu("drivemode", "Single", "Single", "Super high speed continuous shooting", "Continuous low speed", "Timer 10 sec", "Timer 2 sec"),
			menu("continuousaf", "Off", "Off", "On"),
			menu("liveviewsize", "Medium", "Large", "Medium", "Small"),
		)
	}

	return &Widget{
		Name:     "main",
		Label:    "Camera and Driver Configuration",
		Type:     WidgetWindow,
		Children: []*Widget{actions, settings, status, capture},
	}
}
