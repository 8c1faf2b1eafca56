// Package status tracks the connection state of the link.
package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/rtlink/internal/bus"
)

// State is a link connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// KindStatusChanged is the bus event kind published on every transition.
const KindStatusChanged = "link.status_changed"

// ErrInvalidTransition is wrapped by Transition when the table forbids a move.
var ErrInvalidTransition = errors.New("invalid transition")

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting},
	Connecting:   {Connected, Disconnected, Reconnecting},
	Connected:    {Disconnected, Reconnecting},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return NewMachineWithClock(b, time.Now)
}

// NewMachineWithClock is NewMachine with an injected time source.
func NewMachineWithClock(b *bus.Bus, now func() time.Time) *Machine {
	return &Machine{
		current: Disconnected,
		since:   now(),
		bus:     b,
		now:     now,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}


// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, m.current, to)
	}
	from := m.current
	now := m.now()
	held := now.Sub(m.since)
	m.current = to
	m.since = now
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      KindStatusChanged,
			Timestamp: now,
			Payload: StatusChange{
				From:      from,
				To:        to,
				Connected: to == Connected,
				Held:      held,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events. Held is how long
// the machine stayed in From.
type StatusChange struct {
	From      State         `json:"from"`
	To        State         `json:"to"`
	Connected bool          `json:"connected"`
	Held      time.Duration `json:"held"`
}
