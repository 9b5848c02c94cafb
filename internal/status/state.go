package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/buddy/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Reconnecting State = "RECONNECTING"
	// Stopped is terminal: entered only on an explicit logout. The
	// process keeps serving its HTTP surface but never reconnects.
	Stopped State = "STOPPED"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions. A closed session
// is never reused: every reconnect passes through Reconnecting and then
// Connecting with a fresh session handle.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Open, Reconnecting, Stopped, Error},
	Connecting:   {Open, AuthRequired, Reconnecting, Stopped, Error},
	Open:         {Reconnecting, AuthRequired, Stopped, Error},
	Reconnecting: {Connecting, AuthRequired, Stopped, Error},
	Error:        {Booting, Connecting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
