package transport

import (
	"fmt"
	"slices"
	"sync"

	"pombo/internal/bus"
)

// State is the realtime connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Stopped      State = "STOPPED"
)

var validTransitions = map[State][]State{
	Disconnected: {Connecting, Stopped},
	Connecting:   {Connected, Disconnected, Stopped},
	Connected:    {Disconnected, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces connection state transitions and publishes
// connectivity events for the UI indicator.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Connected and Disconnected
// transitions emit the corresponding connectivity event.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to

	if m.bus == nil {
		return nil
	}
	switch {
	case to == Connected:
		m.bus.Publish(bus.KindTransportConnected, nil)
	case from == Connected:
		m.bus.Publish(bus.KindTransportDisconnected, nil)
	}
	return nil
}
