package device

import "fmt"

// SwitchWidget is the read-only widget reflecting the PHOTO/VIDEO lever.
const SwitchWidget = "eosmovieswitch"

// Mode is the body's operating context, set by a physical switch.
type Mode int

const (
	Photo Mode = iota
	Video
)

func (m Mode) String() string {
	switch m {
	case Photo:
		return "PHOTO"
	case Video:
		return "VIDEO"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseSwitch maps the switch widget value to a Mode: "0" is PHOTO, "1" is VIDEO.
func ParseSwitch(value string) (Mode, error) {
	switch value {
	case "0":
		return Photo, nil
	case "1":
		return Video, nil
	default:
		return 0, fmt.Errorf("%w: %s reports %q, want 0 or 1", ErrBadValue, SwitchWidget, value)
	}
}
