package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/eosctl/internal/encoder"
	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/logic/capture"
	"github.com/cjeanneret/eosctl/internal/logic/retry"
)

func testTiming() capture.Timing {
	return capture.Timing{
		Poll:         10 * time.Millisecond,
		StillTimeout: 300 * time.Millisecond,
		BurstPoll:    10 * time.Millisecond,
		QuietPeriod:  80 * time.Millisecond,
		SaveTimeout:  300 * time.Millisecond,
	}
}

func newSim(video bool) *device.Simulator {
	return device.NewSimulator(device.SimulatorOptions{
		Video:         video,
		CaptureDelay:  20 * time.Millisecond,
		BurstInterval: 20 * time.Millisecond,
		FlushInterval: 5 * time.Millisecond,
	})
}

func newTestSession(t *testing.T, sim device.Gateway, opts Options) *Session {
	t.Helper()
	if opts.Timing == (capture.Timing{}) {
		opts.Timing = testTiming()
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	s, err := New(context.Background(), sim, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_PhotoSelectsFv(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	if s.Mode() != device.Photo {
		t.Errorf("mode = %v, want PHOTO", s.Mode())
	}
	if got := sim.Value("autoexposuremodedial"); got != "Fv" {
		t.Errorf("exposure mode = %q, want Fv", got)
	}
	if _, err := uuid.Parse(s.ID()); err != nil {
		t.Errorf("session id %q is not a uuid: %v", s.ID(), err)
	}
}

func TestNew_VideoWritesNothing(t *testing.T) {
	sim := newSim(true)
	s := newTestSession(t, sim, Options{})
	if s.Mode() != device.Video {
		t.Errorf("mode = %v, want VIDEO", s.Mode())
	}
	if sim.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0", sim.Attempts())
	}
}

// garbledSwitch reports a switch value that is neither 0 nor 1.
type garbledSwitch struct {
	*device.Simulator
}

func (g garbledSwitch) ReadConfig() (*device.Widget, error) {
	tree, err := g.Simulator.ReadConfig()
	if err != nil {
		return nil, err
	}
	sw, _ := tree.Find(device.SwitchWidget)
	sw.Value = "2"
	return tree, nil
}

func TestNew_Failures(t *testing.T) {
	unplugged := newSim(false)
	unplugged.Disconnect()
	cases := []struct {
		name string
		gw   device.Gateway
		want error
	}{
		{"disconnected", unplugged, device.ErrDisconnected},
		{"garbled_switch", garbledSwitch{newSim(false)}, device.ErrBadValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(context.Background(), tc.gw, Options{}); !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestModeGating_ZeroWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	photoOnlyOps := map[string]func(*Session) (bool, string, error){
		"TriggerAF": func(s *Session) (bool, string, error) {
			r, err := s.TriggerAF(ctx)
			return r.Rejected, r.Message, err
		},
		"SetAFLocation": func(s *Session) (bool, string, error) {
			r, err := s.SetAFLocation(ctx, 10, 10)
			return r.Rejected, r.Message, err
		},
		"SetISO": func(s *Session) (bool, string, error) {
			r, err := s.SetISO(ctx, "400")
			return r.Rejected, r.Message, err
		},
		"SetImageFormat": func(s *Session) (bool, string, error) {
			r, err := s.SetImageFormat(ctx, "0")
			return r.Rejected, r.Message, err
		},
		"SetExposureManual": func(s *Session) (bool, string, error) {
			r, err := s.SetExposureManual(ctx)
			return r.Rejected, r.Message, err
		},
		"CaptureImage": func(s *Session) (bool, string, error) {
			r, err := s.CaptureImage(ctx, ImageOptions{Download: true})
			return !r.Success, r.Message, err
		},
		"CaptureBurst": func(s *Session) (bool, string, error) {
			r, err := s.CaptureBurst(ctx, 10*time.Millisecond)
			return !r.Success, r.Message, err
		},
		"CapturePreview": func(s *Session) (bool, string, error) {
			r, err := s.CapturePreview(ctx, filepath.Join(dir, "p.jpg"))
			return !r.Success, r.Message, err
		},
		"RecordPreviewVideo": func(s *Session) (bool, string, error) {
			r, err := s.RecordPreviewVideo(ctx, capture.PreviewOptions{Duration: 10 * time.Millisecond, Target: filepath.Join(dir, "p.mp4")})
			return !r.Success, r.Message, err
		},
	}
	for name, op := range photoOnlyOps {
		t.Run("video/"+name, func(t *testing.T) {
			sim := newSim(true)
			s := newTestSession(t, sim, Options{Encoder: &memEncoder{}})
			before := sim.Attempts()
			refused, msg, err := op(s)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if !refused || !strings.Contains(msg, "PHOTO mode") {
				t.Errorf("refused=%v message=%q, want a PHOTO mode refusal", refused, msg)
			}
			if sim.Attempts() != before {
				t.Errorf("%d writes issued", sim.Attempts()-before)
			}
		})
	}

	t.Run("photo/RecordVideo", func(t *testing.T) {
		sim := newSim(false)
		s := newTestSession(t, sim, Options{})
		before := sim.Attempts()
		res, err := s.RecordVideo(ctx, capture.VideoOptions{Duration: 10 * time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if res.Success || !strings.Contains(res.Message, "VIDEO mode") {
			t.Errorf("result = %+v", res)
		}
		if sim.Attempts() != before {
			t.Errorf("%d writes issued", sim.Attempts()-before)
		}
	})
}

func TestModeFollowsSwitch(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	sim.SetSwitch(true)

	// Gated calls re-read the switch on their own.
	res, err := s.CaptureImage(context.Background(), ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("still capture should be refused after switching to VIDEO")
	}
	if s.Mode() != device.Video {
		t.Errorf("mode = %v, want VIDEO", s.Mode())
	}

	sim.SetSwitch(false)
	mode, err := s.RefreshMode()
	if err != nil || mode != device.Photo {
		t.Errorf("RefreshMode = %v, %v", mode, err)
	}
}

func TestSetAperture(t *testing.T) {
	cases := []struct {
		name      string
		video     bool
		in        string
		device    string
		reported  string
		substitut bool
	}{
		{"photo_exact", false, "5.6", "5.6", "5.6", false},
		{"photo_integral", false, "4.0", "4", "4", false},
		{"photo_midpoint", false, "3.0", "2.8", "2.8", true},
		{"photo_auto", false, "AUTO", "Unknown value 00ff", "AUTO", false},
		{"video_13_missing", true, "13", "14", "14", true},
		{"video_auto", true, "auto", "implicit auto", "AUTO", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := newSim(tc.video)
			s := newTestSession(t, sim, Options{})
			st, err := s.SetAperture(context.Background(), tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if st.Rejected || st.Value != tc.reported || st.Substituted != tc.substitut {
				t.Errorf("setting = %+v", st)
			}
			if tc.substitut && st.Message == "" {
				t.Error("substitution must carry a message")
			}
			if got := sim.Value("aperture"); got != tc.device {
				t.Errorf("device aperture = %q, want %q", got, tc.device)
			}
			if st.Choices[len(st.Choices)-1] != "AUTO" {
				t.Errorf("choices should end with AUTO: %v", st.Choices)
			}
		})
	}
}

func TestSetAperture_Unparseable(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	before := sim.Attempts()
	st, err := s.SetAperture(context.Background(), "wide open")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Rejected || st.Value != "AUTO" || st.Message == "" {
		t.Errorf("setting = %+v, want rejected with current AUTO", st)
	}
	if sim.Attempts() != before {
		t.Error("unparseable input must not write")
	}
}

func TestShutterAndISO(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	ctx := context.Background()

	st, err := s.SetShutterSpeed(ctx, "1/65")
	if err != nil {
		t.Fatal(err)
	}
	if st.Value != "1/60" || !st.Substituted || sim.Value("shutterspeed") != "1/60" {
		t.Errorf("shutter = %+v (device %q)", st, sim.Value("shutterspeed"))
	}
	st, err = s.SetISO(ctx, "110")
	if err != nil {
		t.Fatal(err)
	}
	if st.Value != "100" || !st.Substituted {
		t.Errorf("iso = %+v", st)
	}
	if st, _ = s.ISO(); st.Value != "100" || slices.Contains(st.Choices, "Auto") || !slices.Contains(st.Choices, "AUTO") {
		t.Errorf("ISO() = %+v", st)
	}
	if st, _ = s.SetShutterSpeed(ctx, "AUTO"); sim.Value("shutterspeed") != "bulb" || st.Value != "AUTO" {
		t.Errorf("shutter AUTO = %+v (device %q)", st, sim.Value("shutterspeed"))
	}
}

func TestBusyWritesAreRetried(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{Retry: &retry.Policy{MaxAttempts: 50}})
	sim.InjectBusy(5)
	before := sim.Attempts()
	st, err := s.SetAperture(context.Background(), "8")
	if err != nil {
		t.Fatalf("SetAperture: %v", err)
	}
	if st.Value != "8" || sim.Value("aperture") != "8" {
		t.Errorf("aperture = %+v", st)
	}
	if got := sim.Attempts() - before; got != 6 {
		t.Errorf("attempts = %d, want 6", got)
	}
	if s.WriteAttempts() != 6 {
		t.Errorf("WriteAttempts = %d, want 6", s.WriteAttempts())
	}
}

func TestBusyCeilingIsAHardError(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{Retry: &retry.Policy{MaxAttempts: 3}})
	sim.InjectBusy(10)
	_, err := s.SetAperture(context.Background(), "8")
	if !errors.Is(err, retry.ErrBusyExhausted) || !errors.Is(err, device.ErrBusy) {
		t.Errorf("error = %v, want ErrBusyExhausted wrapping ErrBusy", err)
	}
}

func TestZeroPolicyRetriesUntilAccepted(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{Retry: &retry.Policy{}})
	sim.InjectBusy(250) // past the default ceiling
	st, err := s.SetAperture(context.Background(), "8")
	if err != nil {
		t.Fatalf("SetAperture: %v", err)
	}
	if st.Value != "8" || s.WriteAttempts() != 251 {
		t.Errorf("aperture = %+v after %d attempts, want 8 after 251", st, s.WriteAttempts())
	}
}

// countingReads counts full config-tree reads.
type countingReads struct {
	*device.Simulator
	reads int
}

func (c *countingReads) ReadConfig() (*device.Widget, error) {
	c.reads++
	return c.Simulator.ReadConfig()
}

func TestParameterCallsReadTreeOnce(t *testing.T) {
	gw := &countingReads{Simulator: newSim(false)}
	s := newTestSession(t, gw, Options{})
	ctx := context.Background()

	cases := []struct {
		name  string
		call  func() error
		reads int
	}{
		{"SetAperture", func() error {
			_, err := s.SetAperture(ctx, "8")
			return err
		}, 1},
		{"Aperture", func() error {
			_, err := s.Aperture()
			return err
		}, 1},
		{"SetShutterSpeed", func() error {
			_, err := s.SetShutterSpeed(ctx, "1/100")
			return err
		}, 1},
		{"ShutterSpeed", func() error {
			_, err := s.ShutterSpeed()
			return err
		}, 1},
		{"SetISO", func() error {
			_, err := s.SetISO(ctx, "400")
			return err
		}, 1},
		{"GetCaptureParameters", func() error {
			_, err := s.GetCaptureParameters()
			return err
		}, 1},
		{"SetCaptureParameters", func() error {
			_, err := s.SetCaptureParameters(ctx, CaptureParameters{Aperture: "4", ShutterSpeed: "1/50"})
			return err
		}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := gw.reads
			if err := tc.call(); err != nil {
				t.Fatal(err)
			}
			if got := gw.reads - before; got != tc.reads {
				t.Errorf("%d tree reads, want %d", got, tc.reads)
			}
		})
	}
}

func TestContinuousAF(t *testing.T) {
	for _, video := range []bool{false, true} {
		sim := newSim(video)
		s := newTestSession(t, sim, Options{})
		widget := "continuousaf"
		if video {
			widget = "movieservoaf"
		}
		st, err := s.SetContinuousAF(context.Background(), "true")
		if err != nil {
			t.Fatal(err)
		}
		if st.Value != "On" || sim.Value(widget) != "On" {
			t.Errorf("video=%v: %s = %q, setting %+v", video, widget, sim.Value(widget), st)
		}
		if st, _ := s.SetContinuousAF(context.Background(), "maybe"); !st.Rejected || st.Value != "On" {
			t.Errorf("video=%v: bad value setting = %+v", video, st)
		}
	}
}

func TestImageFormat(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	ctx := context.Background()
	cases := []struct {
		in       string
		want     string
		rejected bool
	}{
		{"2", "Medium Fine JPEG", false},
		{"RAW", "RAW", false},
		{"99", "RAW", true},
		{"HEIF", "RAW", true},
	}
	for _, tc := range cases {
		st, err := s.SetImageFormat(ctx, tc.in)
		if err != nil {
			t.Fatal(err)
		}
		if st.Rejected != tc.rejected || sim.Value("imageformat") != tc.want {
			t.Errorf("SetImageFormat(%q) = %+v (device %q)", tc.in, st, sim.Value("imageformat"))
		}
	}
	st, _ := s.ImageFormats()
	if st.Value != "RAW" || len(st.Choices) == 0 {
		t.Errorf("ImageFormats = %+v", st)
	}
}

func TestAFLocationAndTrigger(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	ctx := context.Background()
	if st, _ := s.SetAFLocation(ctx, 4096, 2732); st.Value != "4096,2732" || sim.Value("eoszoomposition") != "4096,2732" {
		t.Errorf("SetAFLocation = %+v", st)
	}
	before := sim.Attempts()
	if st, _ := s.SetAFLocation(ctx, 8193, 0); !st.Rejected || st.Value != "4096,2732" {
		t.Errorf("out of range = %+v", st)
	}
	if sim.Attempts() != before {
		t.Error("out of range AF point must not write")
	}
	st, err := s.TriggerAF(ctx)
	if err != nil || st.Rejected {
		t.Fatalf("TriggerAF = %+v, %v", st, err)
	}
	if sim.Attempts() != before+2 || sim.Value("autofocusdrive") != "0" {
		t.Errorf("AF pulse: %d writes, drive=%q", sim.Attempts()-before, sim.Value("autofocusdrive"))
	}
}

func TestManualFocus(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	st, err := s.ManualFocus(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if st.Value != "Far 2" || sim.Value("manualfocusdrive") != "None" {
		t.Errorf("ManualFocus(5) = %+v, drive left at %q", st, sim.Value("manualfocusdrive"))
	}
	if st, _ := s.ManualFocus(context.Background(), 7); !st.Rejected {
		t.Error("step 7 should be rejected")
	}
}

func TestConfigAccess(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	ctx := context.Background()

	names, err := s.ListAllConfig()
	if err != nil || !slices.Contains(names, "aperture") || slices.Contains(names, "capturesettings") {
		t.Errorf("ListAllConfig = %v, %v", names, err)
	}
	st, _ := s.GetConfig("ISO")
	if st.Rejected || st.Value != "Auto" || len(st.Choices) == 0 {
		t.Errorf("GetConfig(ISO) = %+v", st)
	}
	if st, _ := s.GetConfig("cameramodel"); st.Value != "Canon EOS R5 C" || st.Message == "" {
		t.Errorf("GetConfig(cameramodel) = %+v, want value and no-choices note", st)
	}
	if st, _ := s.GetConfig("nosuchthing"); !st.Rejected {
		t.Error("unknown config should be reported")
	}

	cases := []struct {
		name, value string
		rejected    bool
	}{
		{"iso", "400", false},
		{"iso", "123", true},
		{"cameramodel", "EOS R", true},
		{"nosuchthing", "1", true},
	}
	for _, tc := range cases {
		st, err := s.SetConfig(ctx, tc.name, tc.value)
		if err != nil {
			t.Fatalf("SetConfig(%s): %v", tc.name, err)
		}
		if st.Rejected != tc.rejected {
			t.Errorf("SetConfig(%s, %s) = %+v", tc.name, tc.value, st)
		}
	}
	if sim.Value("iso") != "400" {
		t.Errorf("iso = %q", sim.Value("iso"))
	}
}

func TestSyncDateTime(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	if _, err := s.SyncDateTime(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Value("datetimeutc") == "0" || sim.Value("syncdatetimeutc") != "0" {
		t.Errorf("datetime=%q sync=%q", sim.Value("datetimeutc"), sim.Value("syncdatetimeutc"))
	}
}

func TestCaptureParameters(t *testing.T) {
	ctx := context.Background()
	t.Run("photo", func(t *testing.T) {
		s := newTestSession(t, newSim(false), Options{})
		set, err := s.SetCaptureParameters(ctx, CaptureParameters{Aperture: "4.1", ShutterSpeed: "1/50", ISO: "300", ContinuousAF: "On"})
		if err != nil {
			t.Fatal(err)
		}
		if set.Aperture.Value != "4" || set.ShutterSpeed.Value != "1/50" || set.ISO.Value != "320" || set.ContinuousAF.Value != "On" {
			t.Errorf("set = %+v", set)
		}
		got, err := s.GetCaptureParameters()
		if err != nil {
			t.Fatal(err)
		}
		if got.Aperture.Value != "4" || got.ShutterSpeed.Value != "1/50" || got.ISO.Value != set.ISO.Value || got.ContinuousAF.Value != "On" {
			t.Errorf("get = %+v", got)
		}
	})
	t.Run("video_iso_refused", func(t *testing.T) {
		sim := newSim(true)
		s := newTestSession(t, sim, Options{})
		set, err := s.SetCaptureParameters(ctx, CaptureParameters{Aperture: "8", ISO: "400"})
		if err != nil {
			t.Fatal(err)
		}
		if !set.ISO.Rejected || set.Aperture.Value != "8" || sim.Value("aperture") != "8" {
			t.Errorf("set = %+v", set)
		}
		if set.ShutterSpeed.Value != "" || sim.Value("shutterspeed") != "auto" {
			t.Errorf("untouched shutter reported %+v", set.ShutterSpeed)
		}
		got, _ := s.GetCaptureParameters()
		if !got.ISO.Rejected || got.ShutterSpeed.Value != "AUTO" {
			t.Errorf("get = %+v", got)
		}
	})
}

func TestCaptureImage(t *testing.T) {
	ctx := context.Background()
	t.Run("downloaded", func(t *testing.T) {
		sim := newSim(false)
		s := newTestSession(t, sim, Options{})
		res, err := s.CaptureImage(ctx, ImageOptions{Download: true, Autofocus: true})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success || filepath.Base(res.FilePath) != "IMG_0001.JPG" {
			t.Fatalf("result = %+v", res)
		}
		if _, err := os.Stat(res.FilePath); err != nil {
			t.Errorf("downloaded file: %v", err)
		}
		if sim.Value("eosremoterelease") != "None" || s.CaptureState() != capture.Idle {
			t.Errorf("release=%q state=%v", sim.Value("eosremoterelease"), s.CaptureState())
		}
	})
	t.Run("timeout", func(t *testing.T) {
		sim := device.NewSimulator(device.SimulatorOptions{CaptureDelay: 10 * time.Millisecond, DropEvents: true})
		timing := testTiming()
		timing.StillTimeout = 60 * time.Millisecond
		s := newTestSession(t, sim, Options{Timing: timing})
		res, err := s.CaptureImage(ctx, ImageOptions{Download: true})
		if err != nil {
			t.Fatal(err)
		}
		if res.Success || !strings.Contains(res.Message, "timed out") {
			t.Errorf("result = %+v", res)
		}
		if sim.Value("eosremoterelease") != "None" {
			t.Error("release left armed after timeout")
		}
		// The file is on the card and can be fetched by path.
		files, err := s.ListFiles("")
		if err != nil || len(files) != 1 {
			t.Fatalf("ListFiles = %v, %v", files, err)
		}
		local, err := s.DownloadFile(files[0], "")
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(local) != "IMG_0001.JPG" {
			t.Errorf("downloaded to %s", local)
		}
	})
}

func TestCaptureBurst(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	res, err := s.CaptureBurst(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.Files) < 3 {
		t.Fatalf("result = %+v, want at least 3 files", res)
	}
	if !slices.Equal(res.Files, sim.Files()) {
		t.Errorf("files = %v, card = %v", res.Files, sim.Files())
	}
	if sim.Value("drivemode") != "Single" || sim.Value("eosremoterelease") != "None" {
		t.Errorf("drive=%q release=%q", sim.Value("drivemode"), sim.Value("eosremoterelease"))
	}
}

func TestRecordVideo(t *testing.T) {
	sim := newSim(true)
	s := newTestSession(t, sim, Options{})
	res, err := s.RecordVideo(context.Background(), capture.VideoOptions{Duration: 20 * time.Millisecond, Download: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || filepath.Base(res.FilePath) != "MVI_0001.MP4" {
		t.Errorf("result = %+v", res)
	}
	info, err := s.FileInfo(device.DCIMRoot + "/100CANON/MVI_0001.MP4")
	if err != nil || info.Type != "video/mp4" || info.Size == 0 {
		t.Errorf("FileInfo = %+v, %v", info, err)
	}
}

// memEncoder keeps frames in memory.
type memEncoder struct {
	buf    bytes.Buffer
	frames int
}

func (e *memEncoder) Start(context.Context, string) (encoder.Stream, error) { return e, nil }

func (e *memEncoder) Write(p []byte) (int, error) {
	e.frames++
	return e.buf.Write(p)
}

func (e *memEncoder) Close() error { return nil }

func TestPreviews(t *testing.T) {
	sim := newSim(false)
	enc := &memEncoder{}
	s := newTestSession(t, sim, Options{Encoder: enc})
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "frame.jpg")
	res, err := s.CapturePreview(ctx, target)
	if err != nil || !res.Success {
		t.Fatalf("CapturePreview = %+v, %v", res, err)
	}
	if data, _ := os.ReadFile(target); !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Error("preview is not a JPEG")
	}

	res, err = s.RecordPreviewVideo(ctx, capture.PreviewOptions{Duration: 20 * time.Millisecond})
	if err != nil || !res.Success {
		t.Fatalf("RecordPreviewVideo = %+v, %v", res, err)
	}
	if enc.frames == 0 || enc.frames != sim.Previews()-1 {
		t.Errorf("encoded %d frames, body served %d previews", enc.frames, sim.Previews())
	}
	if sim.Value("liveviewsize") != "Large" {
		t.Errorf("liveviewsize = %q", sim.Value("liveviewsize"))
	}
}

func TestCapturePreview_CreatesDownloadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet")
	s := newTestSession(t, newSim(false), Options{DownloadDir: dir})
	res, err := s.CapturePreview(context.Background(), "")
	if err != nil || !res.Success {
		t.Fatalf("CapturePreview = %+v, %v", res, err)
	}
	if res.FilePath != filepath.Join(dir, "preview.jpg") {
		t.Errorf("FilePath = %q", res.FilePath)
	}
	if _, err := os.Stat(res.FilePath); err != nil {
		t.Error(err)
	}
}

func TestResetAfterAbort(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	ctx := context.Background()
	if _, err := s.SetConfig(ctx, "drivemode", "Super high speed continuous shooting"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetConfig(ctx, "eosremoterelease", "Press Full"); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetAfterAbort(ctx); err != nil {
		t.Fatal(err)
	}
	if sim.Value("eosremoterelease") != "None" || sim.Value("drivemode") != "Single" {
		t.Errorf("release=%q drive=%q", sim.Value("eosremoterelease"), sim.Value("drivemode"))
	}
}

func TestClose(t *testing.T) {
	sim := newSim(false)
	s := newTestSession(t, sim, Options{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Aperture(); !errors.Is(err, device.ErrDisconnected) {
		t.Errorf("after Close: %v", err)
	}
}
