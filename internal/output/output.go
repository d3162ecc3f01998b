// Package output renders controller output modes onto GPIO lines.
//
// Every actuator remembers the level it last wrote and skips redundant
// writes, so rendering the same mode repeatedly causes no transitions.
// A failed write is not remembered and is retried on the next render.
package output

import (
	"github.com/sweeney/power-button/internal/gpio"
	"github.com/sweeney/power-button/internal/logic"
)

// Level drives a plain on/off line.
type Level struct {
	line    gpio.Output
	level   bool
	written bool
}

// NewLevel wraps an output line. A nil line makes every call a no-op.
func NewLevel(line gpio.Output) *Level {
	return &Level{line: line}
}

// Set drives the line to on, writing only when the level changes.
func (l *Level) Set(on bool) error {
	if l.line == nil {
		return nil
	}
	if l.written && l.level == on {
		return nil
	}
	if err := l.line.Write(on); err != nil {
		l.written = false
		return err
	}
	l.level = on
	l.written = true
	return nil
}

// On reports the last level successfully written.
func (l *Level) On() bool {
	return l.level
}

// Relay drives the power relay and, optionally, a debug line that mirrors it.
type Relay struct {
	out   *Level
	debug *Level
}

// NewRelay creates a relay actuator. debug may be nil.
func NewRelay(line, debug gpio.Output) *Relay {
	return &Relay{out: NewLevel(line), debug: NewLevel(debug)}
}

// Render sets the relay to match mode. Any mode other than ON or OFF is
// reset to OFF.
func (r *Relay) Render(mode *logic.Mode) error {
	switch *mode {
	case logic.ModeOn, logic.ModeOff:
	default:
		*mode = logic.ModeOff
	}
	on := *mode == logic.ModeOn
	if err := r.out.Set(on); err != nil {
		return err
	}
	return r.debug.Set(on)
}

// On reports whether the relay is energised.
func (r *Relay) On() bool {
	return r.out.On()
}

// LED drives the status LED, including the flashing mode.
type LED struct {
	out         *Level
	flash       *logic.Counter
	flashPeriod int32
}

// NewLED creates an LED actuator. In FLASHING mode it toggles each time
// flash reaches zero and reloads it with flashPeriod ticks.
func NewLED(line gpio.Output, flash *logic.Counter, flashPeriod int32) *LED {
	if flashPeriod < 1 {
		flashPeriod = 1
	}
	return &LED{out: NewLevel(line), flash: flash, flashPeriod: flashPeriod}
}

// Render sets the LED to match mode. An unknown mode is reset to OFF.
func (l *LED) Render(mode *logic.Mode) error {
	switch *mode {
	case logic.ModeOn:
		return l.out.Set(true)

	case logic.ModeOff:
		return l.out.Set(false)

	case logic.ModeFlashing:
		if !l.flash.Expired() {
			return nil
		}
		if err := l.out.Set(!l.out.On()); err != nil {
			return err
		}
		l.flash.Arm(l.flashPeriod)
		return nil

	default:
		*mode = logic.ModeOff
		return l.out.Set(false)
	}
}

// On reports whether the LED is lit.
func (l *LED) On() bool {
	return l.out.On()
}
