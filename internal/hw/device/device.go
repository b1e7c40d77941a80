package device

import (
	"errors"
	"path"
	"time"
)

// Gateway is the synchronous control channel to one camera body.
// It abstracts the native USB binding (PTP over libgphoto2 or similar) so the
// session layer can be driven by a real body, the Simulator, or a test fake.
//
// Implementations are not required to be safe for concurrent use: a Gateway is
// owned by exactly one session, mirroring the single physical USB channel.
type Gateway interface {
	// ReadConfig returns a fresh snapshot of the configuration tree.
	ReadConfig() (*Widget, error)
	// WriteConfig pushes the full tree to the body. A momentary refusal is
	// reported as ErrBusy.
	WriteConfig(tree *Widget) error
	// WaitForEvent blocks for at most timeout and returns the next event,
	// or an EventTimeout event when nothing happened.
	WaitForEvent(timeout time.Duration) (Event, error)
	// TriggerCapture fires the shutter without waiting for the result.
	TriggerCapture() error
	// CapturePreview grabs one live-view frame (JPEG bytes).
	CapturePreview() ([]byte, error)
	FetchFile(folder, name string) ([]byte, error)
	FileInfo(folder, name string) (FileInfo, error)
	ListFolders(folder string) ([]string, error)
	ListFiles(folder string) ([]string, error)
	Close() error
}

var (
	ErrBusy         = errors.New("device: I/O in progress")
	ErrNotFound     = errors.New("device: not found")
	ErrDisconnected = errors.New("device: disconnected")
	ErrNoCamera     = errors.New("device: no camera detected")
	ErrBadValue     = errors.New("device: bad parameters")
	ErrReadOnly     = errors.New("device: widget is read-only")
	ErrUnsupported  = errors.New("device: operation not supported")
)

// IsBusy reports whether err is a transient busy refusal.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// EventType classifies events emitted by the body.
type EventType int

const (
	EventTimeout EventType = iota
	EventUnknown
	EventFileAdded
	EventFolderAdded
	EventCaptureComplete
)

func (t EventType) String() string {
	switch t {
	case EventTimeout:
		return "timeout"
	case EventUnknown:
		return "unknown"
	case EventFileAdded:
		return "file-added"
	case EventFolderAdded:
		return "folder-added"
	case EventCaptureComplete:
		return "capture-complete"
	default:
		return "invalid"
	}
}

// Event is one notification from the body. Folder and Name are set for
// EventFileAdded and EventFolderAdded; Data carries the raw text of unknown events.
type Event struct {
	Type   EventType
	Folder string
	Name   string
	Data   string
}

// Path returns the on-camera path of a file-added event.
func (e Event) Path() string {
	return path.Join(e.Folder, e.Name)
}

// FileInfo describes a file stored on the camera.
type FileInfo struct {
	Size    int64
	Type    string // MIME type
	ModTime time.Time
}
