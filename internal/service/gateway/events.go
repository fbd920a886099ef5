package gateway

import (
	"time"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// Inbound is an event decoded from the platform and queued for the dispatcher.
type Inbound interface {
	// Kind names the event for logs and metrics.
	Kind() string
}

// Sink receives decoded events. It is called from driver goroutines and must only enqueue.
type Sink func(event Inbound)

// ScenarioEvent reports a scenario turning active or inactive.
type ScenarioEvent struct {
	// Timestamp is the producer timestamp.
	Timestamp time.Time
	// Slot is the input the scenario is bound to.
	Slot domain.Slot
	// Generation identifies the binding the event arrived on.
	Generation uint64
	// Active is the scenario state.
	Active bool
}

// Kind implements Inbound.
func (ScenarioEvent) Kind() string { return "scenario" }

// PresetEvent reports the camera arriving at or leaving a preset position.
type PresetEvent struct {
	// Timestamp is the producer timestamp.
	Timestamp time.Time
	// Preset is the preset token.
	Preset int
	// Reached is true when the camera is on the preset.
	Reached bool
}

// Kind implements Inbound.
func (PresetEvent) Kind() string { return "preset" }
