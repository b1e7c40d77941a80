package normalize

import (
	"fmt"
	"math"
	"slices"

	"github.com/cjeanneret/eosctl/internal/hw/device"
)

// Param identifies a normalized exposure parameter.
type Param int

const (
	Aperture Param = iota
	Shutter
	ISO
)

func (p Param) String() string {
	switch p {
	case Aperture:
		return "Aperture"
	case Shutter:
		return "Shutterspeed"
	case ISO:
		return "ISO"
	default:
		return fmt.Sprintf("Param(%d)", int(p))
	}
}

// Widget returns the configuration name the parameter is written to.
func (p Param) Widget() string {
	switch p {
	case Aperture:
		return "aperture"
	case Shutter:
		return "shutterspeed"
	default:
		return "iso"
	}
}

// Auto sentinels as the firmware reports them, per parameter and mode.
const (
	AperturePhotoAuto = "Unknown value 00ff"
	ApertureVideoAuto = "implicit auto"
	ShutterPhotoAuto  = "bulb"
	ShutterVideoAuto  = "auto"
	ISOAuto           = "Auto"
)

var sentinels = map[Param][]string{
	Aperture: {AperturePhotoAuto, ApertureVideoAuto},
	Shutter:  {ShutterPhotoAuto, ShutterVideoAuto},
	ISO:      {ISOAuto},
}

// tieTolerance absorbs float noise so equidistant entries tie and the first wins.
const tieTolerance = 1e-9

// Table is the ordered set of legal values for one (parameter, mode) pair.
// It is immutable once built. AUTO is never an entry.
type Table struct {
	param   Param
	auto    string
	entries []string
	nums    []float64
}

func newTable(p Param, auto string, entries []string) (*Table, error) {
	t := &Table{param: p, auto: auto, entries: slices.Clone(entries), nums: make([]float64, len(entries))}
	for i, e := range entries {
		n, err := parseNumber(e)
		if err != nil {
			return nil, fmt.Errorf("%s table entry %d: %w", p, i, err)
		}
		t.nums[i] = n
	}
	return t, nil
}

func mustTable(p Param, auto string, entries []string) *Table {
	t, err := newTable(p, auto, entries)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	photoApertures = []float64{2.8, 3.2, 3.5, 4, 4.5, 5, 5.6, 6.3, 7.1, 8, 9, 10, 11, 13, 14, 16, 18, 20, 22, 25, 29, 32}
	photoShutters  = []string{"30", "25", "20", "15", "13", "10.3", "8", "6.3", "5", "4", "3.2", "2.5", "2", "1.6", "1.3", "1", "0.8", "0.6", "0.5", "0.4", "0.3", "1/4", "1/5", "1/6", "1/8", "1/10", "1/13", "1/15", "1/20", "1/25", "1/30", "1/40", "1/50", "1/60", "1/80", "1/100", "1/125", "1/160", "1/200", "1/250", "1/320", "1/400", "1/500", "1/640", "1/800", "1/1000", "1/1250", "1/1600", "1/2000", "1/2500", "1/3200", "1/4000", "1/5000", "1/6400", "1/8000"}
	videoShutters  = []string{"1/50", "1/60", "1/75", "1/90", "1/100", "1/120", "1/150", "1/180", "1/210", "1/250", "1/300", "1/360", "1/420", "1/500", "1/600", "1/720", "1/840", "1/1000", "1/1200", "1/1400", "1/1700", "1/2000"}

	apertureTables = map[device.Mode]*Table{
		device.Photo: mustTable(Aperture, AperturePhotoAuto, formatApertures(photoApertures)),
		// f/13 is not offered while recording.
		device.Video: mustTable(Aperture, ApertureVideoAuto, formatApertures(slices.DeleteFunc(slices.Clone(photoApertures), func(f float64) bool { return f == 13 }))),
	}
	shutterTables = map[device.Mode]*Table{
		device.Photo: mustTable(Shutter, ShutterPhotoAuto, photoShutters),
		device.Video: mustTable(Shutter, ShutterVideoAuto, videoShutters),
	}
)

func formatApertures(fs []float64) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = FormatAperture(f)
	}
	return out
}

// ApertureTable returns the f-numbers selectable in mode.
func ApertureTable(mode device.Mode) *Table {
	return apertureTables[mode]
}

// ShutterTable returns the shutter speeds selectable in mode.
func ShutterTable(mode device.Mode) *Table {
	return shutterTables[mode]
}

// ISOTable builds the ISO table from the choices the body exposes, keeping
// only numeric entries ("Auto" and extended labels are dropped).
func ISOTable(choices []string) *Table {
	var numeric []string
	for _, c := range choices {
		if _, err := parseNumber(c); err == nil && !slices.Contains(numeric, c) {
			numeric = append(numeric, c)
		}
	}
	return mustTable(ISO, ISOAuto, numeric)
}

func (t *Table) Param() Param { return t.param }

// AutoValue is the device literal written for AUTO.
func (t *Table) AutoValue() string { return t.auto }

func (t *Table) Len() int { return len(t.entries) }

// Entries returns a copy of the table in order.
func (t *Table) Entries() []string { return slices.Clone(t.entries) }

// Choices returns the entries followed by the virtual AUTO choice.
func (t *Table) Choices() []string {
	return append(t.Entries(), AutoLabel)
}

// Resolution is the outcome of normalizing one requested value.
type Resolution struct {
	Device      string // literal to write to the widget
	Substituted bool   // the request was replaced by the closest entry
	Message     string // informational, set when Substituted
}

// Resolve maps v onto the table. AUTO yields the mode's sentinel; an exact
// match yields the entry's literal; anything else yields the entry with the
// smallest absolute distance, the earliest entry winning ties.
func (t *Table) Resolve(v Value) Resolution {
	if v.IsAuto() {
		return Resolution{Device: t.auto}
	}
	if len(t.entries) == 0 {
		return Resolution{Device: t.auto, Substituted: true, Message: fmt.Sprintf("%s of %s not supported, no choices available, using AUTO", t.param, v)}
	}
	best, bestDist := 0, math.Inf(1)
	for i, n := range t.nums {
		if d := math.Abs(n - v.Number()); d < bestDist-tieTolerance {
			best, bestDist = i, d
		}
	}
	if bestDist <= tieTolerance {
		return Resolution{Device: t.entries[best]}
	}
	return Resolution{
		Device:      t.entries[best],
		Substituted: true,
		Message:     fmt.Sprintf("%s of %s not supported, using closest option of %s", t.param, v, t.entries[best]),
	}
}

// Classify turns a value read back from the body into what callers see:
// any auto sentinel of the parameter, whichever mode wrote it, becomes AUTO.
func (t *Table) Classify(deviceValue string) string {
	return Classify(t.param, deviceValue)
}

// Classify is Table.Classify without a table.
func Classify(p Param, deviceValue string) string {
	if slices.Contains(sentinels[p], deviceValue) {
		return AutoLabel
	}
	return deviceValue
}
