package logic

// Controller is the power button state machine. It owns the controller
// state, the output targets and the two tick counters.
//
// Poll and the accessors must be called from a single goroutine. Tick may
// be called concurrently from the tick goroutine; it only touches counters.
type Controller struct {
	state           State
	targets         Targets
	shutdownRequest bool

	flash     Counter
	safetyOff Counter

	safetyOffEnabled bool
	safetyOffTicks   int32

	counts EventCounts
}

// NewController creates a controller in IDLE with every output OFF.
// safetyOffTicks is the number of ticks POWER_OFF waits for confirmation
// before forcing power off; zero or negative disables the safety timeout.
func NewController(safetyOffTicks int32) *Controller {
	return &Controller{
		state:            StateIdle,
		targets:          Targets{LED: ModeOff, Relay: ModeOff},
		safetyOffEnabled: safetyOffTicks > 0,
		safetyOffTicks:   safetyOffTicks,
	}
}

// Poll applies one step of the transition table against the current inputs.
// The confirmation input is only consulted in POWER_OFF.
func (c *Controller) Poll(in Inputs) []Event {
	from := c.state

	switch c.state {
	case StateIdle:
		if in.Pressed() {
			c.state = StatePowerOnStart
			return c.emit(EventPowerOnPressed, from, ReasonButton)
		}

	case StatePowerOnStart:
		// Wait for the release of the button
		if !in.Pressed() {
			c.targets.LED = ModeOn
			c.targets.Relay = ModeOn
			c.state = StatePowerOn
			c.counts.PowerOn++
			return c.emit(EventPowerOn, from, ReasonButton)
		}

	case StatePowerOn:
		if in.Pressed() {
			c.targets.LED = ModeFlashing
			c.state = StatePowerOffStart
			return c.emit(EventPowerOffPressed, from, ReasonButton)
		}

	case StatePowerOffStart:
		if !in.Pressed() {
			if c.safetyOffEnabled {
				c.safetyOff.Arm(c.safetyOffTicks)
			}
			c.shutdownRequest = true
			c.state = StatePowerOff
			c.counts.ShutdownRequested++
			return c.emit(EventShutdownRequested, from, ReasonButton)
		}

	case StatePowerOff:
		reason := Reason("")
		if in.Confirmed() {
			reason = ReasonConfirmed
			c.counts.ConfirmedPowerOff++
		} else if c.safetyOffEnabled && c.safetyOff.Expired() {
			reason = ReasonSafetyTimeout
			c.counts.SafetyTimeoutOff++
		}
		if reason != "" {
			c.powerDown()
			return c.emit(EventPowerOff, from, reason)
		}

	default:
		c.powerDown()
		c.counts.InvalidStateResets++
		return c.emit(EventReset, from, ReasonInvalidState)
	}

	return nil
}

// Tick is the periodic tick handler. It decrements the flash counter and,
// when armed, the safety-off counter. Both are no-ops at zero.
func (c *Controller) Tick() {
	c.flash.Decrement()
	c.safetyOff.Decrement()
}

func (c *Controller) powerDown() {
	c.targets.LED = ModeOff
	c.targets.Relay = ModeOff
	c.safetyOff.Disarm()
	c.shutdownRequest = false
	c.state = StateIdle
}

func (c *Controller) emit(t EventType, from State, reason Reason) []Event {
	return []Event{{
		Type:   t,
		From:   from,
		To:     c.state,
		Reason: reason,
		LED:    c.targets.LED,
		Relay:  c.targets.Relay,
	}}
}

// State returns the current controller state.
func (c *Controller) State() State {
	return c.state
}

// Targets returns the output targets for the actuators to render.
func (c *Controller) Targets() *Targets {
	return &c.targets
}

// ShutdownRequested reports whether the shutdown-request line should be asserted.
func (c *Controller) ShutdownRequested() bool {
	return c.shutdownRequest
}

// FlashCounter returns the LED flash countdown reloaded by the LED actuator.
func (c *Controller) FlashCounter() *Counter {
	return &c.flash
}

// SafetyOffRemaining returns the ticks left before a forced power off.
// It is zero when the safety timeout is not armed.
func (c *Controller) SafetyOffRemaining() int32 {
	return c.safetyOff.Load()
}

// SafetyOffEnabled reports whether the safety timeout is configured.
func (c *Controller) SafetyOffEnabled() bool {
	return c.safetyOffEnabled
}

// Counts returns a copy of the transition counts.
func (c *Controller) Counts() EventCounts {
	return c.counts
}
