package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnparseable is returned for input that is neither AUTO nor a number.
var ErrUnparseable = errors.New("value is neither AUTO nor numeric")

// AutoLabel is how automatic settings are presented to callers.
const AutoLabel = "AUTO"

// Value is a requested exposure value: automatic, or a number.
// The zero Value is Numeric(0).
type Value struct {
	auto bool
	num  float64
	raw  string
}

// Auto requests the body's automatic setting.
func Auto() Value {
	return Value{auto: true, raw: AutoLabel}
}

// Numeric requests a concrete value.
func Numeric(v float64) Value {
	return Value{num: v}
}

// Parse reads "AUTO" (any case), a decimal ("2.8", "25") or a fraction
// ("1/50"). Fractions are evaluated, so "1/50" and "0.02" are the same value.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, AutoLabel) {
		return Auto(), nil
	}
	n, err := parseNumber(s)
	if err != nil {
		return Value{}, err
	}
	return Value{num: n, raw: s}, nil
}

func parseNumber(s string) (float64, error) {
	var n float64
	if num, den, ok := strings.Cut(s, "/"); ok {
		a, errA := strconv.ParseFloat(strings.TrimSpace(num), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errA != nil || errB != nil || b == 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		n = a / b
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		n = v
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return n, nil
}

func (v Value) IsAuto() bool { return v.auto }

// Number returns the numeric value; it is meaningless for Auto.
func (v Value) Number() float64 { return v.num }

// String returns the literal the caller supplied, or a compact rendering.
func (v Value) String() string {
	if v.raw != "" {
		return v.raw
	}
	if v.auto {
		return AutoLabel
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// FormatAperture renders an f-number the way the body accepts it: integral
// values without a decimal point ("4", never "4.0"), others as the shortest
// decimal ("5.6").
func FormatAperture(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var onOff = map[string]bool{
	"0": false, "1": true,
	"false": false, "true": true,
	"off": false, "on": true,
}

// ParseOnOff accepts 0/1, true/false and on/off in any case.
func ParseOnOff(s string) (bool, error) {
	v, ok := onOff[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return false, fmt.Errorf("value %q not supported, use 'Off' or 'On'", s)
	}
	return v, nil
}
