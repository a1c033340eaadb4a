package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/homecare/internal/bus"
)

// State represents the realtime connection state.
type State string

const (
	Closed     State = "CLOSED"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closing    State = "CLOSING"
)

// KindStatusChanged is published on every accepted transition.
const KindStatusChanged = "conn.status_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Closed:     {Connecting},
	Connecting: {Open, Closing, Closed},
	Open:       {Closing, Closed},
	Closing:    {Closed},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Closed state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Closed,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Idle reports whether the connection is neither open nor on its way there.
func (m *Machine) Idle() bool {
	s := m.Current()
	return s == Closed || s == Closing
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
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
			Kind:      KindStatusChanged,
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
	From State `json:"from"`
	To   State `json:"to"`
}
