package alarm

import (
	"fmt"
	"time"
)

// Slot identifies one of the two scenario inputs feeding the combined alarm.
type Slot int

const (
	// Slot1 is fed by the Scenario1 parameter.
	Slot1 Slot = 1
	// Slot2 is fed by the Scenario2 parameter.
	Slot2 Slot = 2
)

// Slots lists every valid slot in order.
//
//nolint:gochecknoglobals // Read-only table of the two inputs.
var Slots = [...]Slot{Slot1, Slot2}

// Valid reports whether the slot is one of the two known inputs.
func (s Slot) Valid() bool {
	return s == Slot1 || s == Slot2
}

// String renders the slot as "scenario1"/"scenario2".
func (s Slot) String() string {
	return fmt.Sprintf("scenario%d", int(s))
}

// Color is the overlay color shown for an alarm state.
type Color int

const (
	// Green is shown while the combined alarm is inactive.
	Green Color = iota + 1
	// Red is shown while the combined alarm is active.
	Red
)

// Opposite returns the other color.
func (c Color) Opposite() Color {
	if c == Red {
		return Green
	}

	return Red
}

// String returns the lower-case color name.
func (c Color) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	default:
		return "unknown"
	}
}

// ColorFor returns the overlay color that represents the combined flag.
func ColorFor(combined bool) Color {
	if combined {
		return Red
	}

	return Green
}

// State is a snapshot of both scenario inputs and the combined flag.
type State struct {
	// Timestamp is when any field last changed.
	Timestamp time.Time
	// Scenario1Active is the latest value reported for slot 1.
	Scenario1Active bool
	// Scenario2Active is the latest value reported for slot 2.
	Scenario2Active bool
	// Combined is Scenario1Active AND Scenario2Active.
	Combined bool
}

// Clone returns a copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}

// Input returns the value of the given slot.
func (s *State) Input(slot Slot) bool {
	if slot == Slot2 {
		return s.Scenario2Active
	}

	return s.Scenario1Active
}
