package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mfalves/dmsync/internal/bus"
)

// State represents an engine runtime state.
type State string

const (
	// Booting is the initial state before the first load is attempted.
	Booting State = "BOOTING"
	// Loading means the initial peer/summary load is in flight. A failure
	// here blocks the whole screen with a retry action.
	Loading State = "LOADING"
	// Ready means polling is live.
	Ready State = "READY"
	// Degraded means consecutive polls have failed; polling continues
	// best-effort and recovery returns to Ready without user involvement.
	Degraded State = "DEGRADED"
	// Error means the initial load failed; Retry re-enters Loading.
	Error State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Loading, Error},
	Loading:  {Ready, Error},
	Ready:    {Degraded, Loading},
	Degraded: {Ready, Error},
	Error:    {Loading},
}

// Machine tracks and enforces engine runtime state transitions.
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
