package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/eosctl/internal/encoder"
	"github.com/cjeanneret/eosctl/internal/hw/device"
)

// scripted is an event emitted `after` the trigger write was observed.
type scripted struct {
	after time.Duration
	ev    device.Event
}

// fakeGateway is a scripted body. Every accepted change is recorded as
// "name=value"; when the change equal to trigger is written, the script is
// started.
type fakeGateway struct {
	mu      sync.Mutex
	tree    *device.Widget
	history []string
	trigger string
	script  []scripted
	pending []scripted
	started time.Time
	files   map[string][]byte
	frames  int

	triggers  int
	waitErr   error
	fetchErr  error
	writeFail map[string]error // change -> error returned for the write carrying it
}

func newFakeGateway(tree *device.Widget, trigger string, script ...scripted) *fakeGateway {
	return &fakeGateway{tree: tree, trigger: trigger, script: script, files: map[string][]byte{}}
}

func testTree() *device.Widget {
	radio := func(name, value string, choices ...string) *device.Widget {
		return &device.Widget{Name: name, Type: device.WidgetRadio, Value: value, Choices: choices}
	}
	toggle := func(name string) *device.Widget {
		return &device.Widget{Name: name, Type: device.WidgetToggle, Value: "0"}
	}
	return &device.Widget{Name: "main", Type: device.WidgetWindow, Children: []*device.Widget{
		{Name: "actions", Type: device.WidgetSection, Children: []*device.Widget{
			radio("eosremoterelease", "None", "None", "Press Full", "Release Full", "Immediate"),
			toggle("autofocusdrive"),
			toggle("eosmoviemode"),
			radio("movierecordtarget", "None", "Card", "None"),
		}},
		{Name: "capturesettings", Type: device.WidgetSection, Children: []*device.Widget{
			radio("drivemode", "Single", "Single", "Continuous high", "Timer"),
			radio("liveviewsize", "Medium", "Large", "Medium", "Small"),
		}},
	}}
}

// withoutWidget removes name from the tree.
func withoutWidget(tree *device.Widget, name string) *device.Widget {
	tree.Walk(func(w *device.Widget) {
		kept := w.Children[:0]
		for _, c := range w.Children {
			if c.Name != name {
				kept = append(kept, c)
			}
		}
		w.Children = kept
	})
	return tree
}

func (g *fakeGateway) start(now time.Time) {
	g.started = now
	g.pending = append([]scripted(nil), g.script...)
}

func (g *fakeGateway) ReadConfig() (*device.Widget, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tree.Clone(), nil
}

func (g *fakeGateway) WriteConfig(tree *device.Widget) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var changes []string
	tree.Walk(func(in *device.Widget) {
		if in.IsContainer() {
			return
		}
		if cur, ok := g.tree.Find(in.Name); ok && cur.Value != in.Value {
			changes = append(changes, in.Name+"="+in.Value)
		}
	})
	for _, c := range changes {
		if err := g.writeFail[c]; err != nil {
			return err
		}
	}
	now := time.Now()
	for _, c := range changes {
		name, value, _ := strings.Cut(c, "=")
		w, _ := g.tree.Find(name)
		w.Value = value
		g.history = append(g.history, c)
		if c == g.trigger {
			g.start(now)
		}
	}
	return nil
}

func (g *fakeGateway) WaitForEvent(timeout time.Duration) (device.Event, error) {
	g.mu.Lock()
	if g.waitErr != nil {
		g.mu.Unlock()
		return device.Event{}, g.waitErr
	}
	if ev, ok := g.popDue(time.Now()); ok {
		g.mu.Unlock()
		return ev, nil
	}
	wait := timeout
	if len(g.pending) > 0 {
		if d := time.Until(g.started.Add(g.pending[0].after)); d < wait {
			wait = d
		}
	}
	g.mu.Unlock()

	time.Sleep(wait)

	g.mu.Lock()
	defer g.mu.Unlock()
	if ev, ok := g.popDue(time.Now()); ok {
		return ev, nil
	}
	return device.Event{Type: device.EventTimeout}, nil
}

func (g *fakeGateway) popDue(now time.Time) (device.Event, bool) {
	if len(g.pending) == 0 || g.started.Add(g.pending[0].after).After(now) {
		return device.Event{}, false
	}
	ev := g.pending[0].ev
	g.pending = g.pending[1:]
	if ev.Type == device.EventFileAdded {
		g.files[ev.Path()] = []byte("data:" + ev.Name)
	}
	return ev, true
}

func (g *fakeGateway) TriggerCapture() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggers++
	g.start(time.Now())
	return nil
}

func (g *fakeGateway) CapturePreview() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames++
	time.Sleep(time.Millisecond)
	return []byte(fmt.Sprintf("frame-%d", g.frames)), nil
}

func (g *fakeGateway) FetchFile(folder, name string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	data, ok := g.files[folder+"/"+name]
	if !ok {
		return nil, device.ErrNotFound
	}
	return data, nil
}

func (g *fakeGateway) FileInfo(string, string) (device.FileInfo, error) {
	return device.FileInfo{}, device.ErrUnsupported
}
func (g *fakeGateway) ListFolders(string) ([]string, error) { return nil, nil }
func (g *fakeGateway) ListFiles(string) ([]string, error) { return nil, nil }
func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) changes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.history...)
}

func (g *fakeGateway) value(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, _ := g.tree.Find(name)
	return w.Value
}

// directApplier writes once, no retry.
type directApplier struct{ gw device.Gateway }

func (a directApplier) Apply(_ context.Context, tree *device.Widget) error {
	return a.gw.WriteConfig(tree)
}

type recordingIndicator struct {
	mu     sync.Mutex
	states []bool
}

func (r *recordingIndicator) Armed(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, on)
}

func (r *recordingIndicator) last() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return false, 0
	}
	return r.states[len(r.states)-1], len(r.states)
}

// fakeEncoder collects frames in memory.
type fakeEncoder struct {
	startErr  error
	sawTarget bool // target existed when Start was called
	stream    *memStream
}

type memStream struct {
	buf    bytes.Buffer
	frames int
	closed bool
}

func (s *memStream) Write(p []byte) (int, error) {
	s.frames++
	return s.buf.Write(p)
}

func (s *memStream) Close() error {
	s.closed = true
	return nil
}

func (e *fakeEncoder) Start(_ context.Context, target string) (encoder.Stream, error) {
	if _, err := os.Stat(target); err == nil {
		e.sawTarget = true
	}
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.stream = &memStream{}
	return e.stream, nil
}

var errUnplugged = errors.New("usb: unplugged")

func fileAdded(after time.Duration, name string) scripted {
	return scripted{after: after, ev: device.Event{Type: device.EventFileAdded, Folder: "/store_00020001/DCIM/100CANON", Name: name}}
}

func unknownEvent(after time.Duration) scripted {
	return scripted{after: after, ev: device.Event{Type: device.EventUnknown, Data: "PTP Property d1d3 changed"}}
}
