package capture

import "fmt"

// State is the orchestrator's position in the arm/wait/disarm protocol.
type State int

const (
	Idle State = iota
	Armed
	FileArrived
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case FileArrived:
		return "FILE_ARRIVED"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Indicator is told when the body is armed and when it returns to idle.
type Indicator interface {
	Armed(on bool)
}

type nopIndicator struct{}

func (nopIndicator) Armed(bool) {}

// Result is the outcome of one still or video capture.
// It is created per call and never retained.
type Result struct {
	Success  bool
	FilePath string // local path when downloaded, camera path otherwise (may be empty)
	Message  string
}

// BurstResult lists the camera paths written during a burst, in arrival order.
type BurstResult struct {
	Success bool
	Files   []string
	Message string
}
