package alarm

import (
	"errors"
	"fmt"
	"time"
)

// Transition describes how an input change affected the combined flag.
type Transition int

const (
	// None means the combined flag did not change.
	None Transition = iota
	// Activated means the combined flag went from false to true.
	Activated
	// Deactivated means the combined flag went from true to false.
	Deactivated
)

// String returns a log-friendly name of the transition.
func (t Transition) String() string {
	switch t {
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	default:
		return "none"
	}
}

// ErrInvalidSlot is returned for slots other than Slot1 and Slot2.
var ErrInvalidSlot = errors.New("invalid scenario slot")

// Machine tracks the two scenario inputs and their combined flag.
// It is not safe for concurrent use: the daemon mutates it only from its dispatcher loop.
type Machine struct {
	// state is the current snapshot.
	state State
}

// NewMachine returns a machine in the inactive state.
func NewMachine(now time.Time) *Machine {
	return &Machine{
		state: State{Timestamp: now},
	}
}

// Set records a new value for the slot and recomputes the combined flag.
// Re-applying an unchanged value returns None.
func (m *Machine) Set(slot Slot, active bool, now time.Time) (Transition, error) {
	if !slot.Valid() {
		return None, fmt.Errorf("set %d: %w", int(slot), ErrInvalidSlot)
	}

	if m.state.Input(slot) == active {
		return None, nil
	}

	if slot == Slot1 {
		m.state.Scenario1Active = active
	} else {
		m.state.Scenario2Active = active
	}

	m.state.Timestamp = now

	return m.recompute(), nil
}

// Reset clears the input of a slot, e.g. when the slot is bound to another scenario.
func (m *Machine) Reset(slot Slot, now time.Time) (Transition, error) {
	return m.Set(slot, false, now)
}

// Combined returns the current combined flag.
func (m *Machine) Combined() bool {
	return m.state.Combined
}

// State returns a copy of the current snapshot.
func (m *Machine) State() *State {
	return m.state.Clone()
}

// recompute refreshes the combined flag and reports the edge, if any.
func (m *Machine) recompute() Transition {
	previous := m.state.Combined
	m.state.Combined = m.state.Scenario1Active && m.state.Scenario2Active

	switch {
	case !previous && m.state.Combined:
		return Activated
	case previous && !m.state.Combined:
		return Deactivated
	default:
		return None
	}
}
