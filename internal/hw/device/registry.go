package device

import (
	"fmt"
	"sort"
	"sync"
)

// Opener connects to a body on the given port ("usb:002,016"); an empty port
// selects the first detected camera. It returns ErrNoCamera when nothing is attached.
type Opener func(port string) (Gateway, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a gateway implementation available by name.
// USB bindings living outside this module register themselves from init.
func Register(name string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if opener == nil {
		panic("device: Register opener is nil")
	}
	if _, dup := openers[name]; dup {
		panic("device: Register called twice for " + name)
	}
	openers[name] = opener
}

// Open connects through the named gateway implementation.
func Open(name, port string) (Gateway, error) {
	openersMu.RLock()
	opener, ok := openers[name]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported device type: %s (known: %v)", name, Openers())
	}
	return opener(port)
}

// Openers returns the registered implementation names, sorted.
func Openers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for n := range openers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("simulated", func(port string) (Gateway, error) {
		switch port {
		case "", "photo":
			return NewSimulator(SimulatorOptions{}), nil
		case "video":
			return NewSimulator(SimulatorOptions{Video: true}), nil
		case "none":
			return nil, ErrNoCamera
		default:
			return nil, fmt.Errorf("simulated port must be photo, video or none, got %q: %w", port, ErrNotFound)
		}
	})
}
