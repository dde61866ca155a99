// Package irrigation contains the pump control state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package irrigation

import "time"

// PumpState is the state of the pump controller.
type PumpState string

const (
	StateIdle    PumpState = "IDLE"
	StateRunning PumpState = "RUNNING"
)

// Command is the relay level the controller wants after a tick.
type Command bool

const (
	RelayOff Command = false
	RelayOn  Command = true
)

func (c Command) String() string {
	if c {
		return "ON"
	}
	return "OFF"
}

// EventType identifies a pump transition.
type EventType string

const (
	EventPumpOn  EventType = "PUMP_ON"
	EventPumpOff EventType = "PUMP_OFF"
)

// Reason explains why a transition fired.
type Reason string

const (
	ReasonDry     Reason = "DRY"     // debounced dry samples
	ReasonWet     Reason = "WET"     // wet threshold reached after the minimum run
	ReasonTimeout Reason = "TIMEOUT" // maximum run time exceeded
)

// Event represents a pump transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Reason    Reason
	Moisture  int           // percent at the deciding sample
	RunTime   time.Duration // how long the pump ran (PUMP_OFF only)
}

// Result is the outcome of a single controller tick.
type Result struct {
	Command Command
	Event   *Event // nil unless a transition fired
}

// Params are the controller thresholds. Percentages are soil moisture in [0,100].
type Params struct {
	LowThreshold       int
	HighThreshold      int
	DryMargin          int
	WetMargin          int
	MinRun             time.Duration
	MaxRun             time.Duration
	RequiredDrySamples int
}

// DefaultParams returns the compiled-in thresholds.
func DefaultParams() Params {
	return Params{
		LowThreshold:       55,
		HighThreshold:      75,
		DryMargin:          3,
		WetMargin:          3,
		MinRun:             3000 * time.Millisecond,
		MaxRun:             8000 * time.Millisecond,
		RequiredDrySamples: 3,
	}
}

// startBelow is the percentage a sample must be under to count as dry.
func (p Params) startBelow() int { return p.LowThreshold - p.DryMargin }

// stopAbove is the percentage a sample must exceed to count as wet.
func (p Params) stopAbove() int { return p.HighThreshold + p.WetMargin }

// Counts tracks pump transitions since startup.
type Counts struct {
	Starts       int
	WetStops     int
	TimeoutStops int
}

// View is a read-only copy of the controller state.
type View struct {
	State         PumpState
	DrySamples    int
	RunStart      time.Time // zero while idle
	LastMoisture  int
	HasMoisture   bool
	Counts        Counts
	GateOpen      bool
	WarmupElapsed time.Duration
}
