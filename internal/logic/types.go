// Package logic contains the power controller state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Inputs are injected through the Inputs interface and time through ticks.
package logic

import "time"

// State is the controller state.
type State string

const (
	StateIdle          State = "IDLE"
	StatePowerOnStart  State = "POWER_ON_START"
	StatePowerOn       State = "POWER_ON"
	StatePowerOffStart State = "POWER_OFF_START"
	StatePowerOff      State = "POWER_OFF"
)

// Mode is the target output mode of an actuator.
type Mode string

const (
	ModeOff      Mode = "OFF"
	ModeOn       Mode = "ON"
	ModeFlashing Mode = "FLASHING"
)

// EventType represents a controller transition.
type EventType string

const (
	EventPowerOnPressed    EventType = "POWER_ON_PRESSED"
	EventPowerOn           EventType = "POWER_ON"
	EventPowerOffPressed   EventType = "POWER_OFF_PRESSED"
	EventShutdownRequested EventType = "SHUTDOWN_REQUESTED"
	EventPowerOff          EventType = "POWER_OFF"
	EventReset             EventType = "RESET"
)

// Reason explains what caused a transition.
type Reason string

const (
	ReasonButton        Reason = "BUTTON"
	ReasonConfirmed     Reason = "CONFIRMED"
	ReasonSafetyTimeout Reason = "SAFETY_TIMEOUT"
	ReasonInvalidState  Reason = "INVALID_STATE"
)

// Event represents a state transition to be published.
// Timestamp is zero when returned by the controller; the caller stamps it.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      State
	To        State
	Reason    Reason
	LED       Mode
	Relay     Mode
}

// Inputs supplies debounced input readings to the controller.
type Inputs interface {
	// Pressed reports whether the pushbutton is asserted.
	Pressed() bool
	// Confirmed reports whether the host has confirmed shutdown.
	Confirmed() bool
}

// Targets holds the output modes derived from the controller state.
// Actuators read them every iteration and may reset an unknown mode to OFF.
type Targets struct {
	LED   Mode
	Relay Mode
}

// EventCounts tracks the number of each transition since startup.
type EventCounts struct {
	PowerOn            int
	ShutdownRequested  int
	ConfirmedPowerOff  int
	SafetyTimeoutOff   int
	InvalidStateResets int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
