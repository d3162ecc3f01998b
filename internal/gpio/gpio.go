// Package gpio provides digital line access with hardware abstraction.
// Real implementations use the Linux GPIO character device (cdev), periph.io
// or memory-mapped /dev/gpiomem (rpio). The fake implementation allows
// testing without hardware.
//
// All values are logical: true means asserted, regardless of the wiring
// polarity configured with Line.ActiveLow.
package gpio

import (
	"errors"
	"fmt"
)

// Input reads the logical state of an input line.
type Input interface {
	// Read returns true if the line is asserted.
	Read() (bool, error)
}

// Output drives the logical state of an output line.
type Output interface {
	// Write asserts (true) or deasserts (false) the line.
	Write(on bool) error
}

// Line identifies a GPIO line and its polarity.
type Line struct {
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// Enabled reports whether the line is configured.
func (l Line) Enabled() bool {
	return l.Pin >= 0
}

// Pins is the full line map of the controller (BCM numbering).
type Pins struct {
	Button          Line `yaml:"button"`
	Confirm         Line `yaml:"confirm"`
	LED             Line `yaml:"led"`
	Relay           Line `yaml:"relay"`
	ShutdownRequest Line `yaml:"shutdown_request"`
	// Debug mirrors the relay level. A negative pin disables it.
	Debug Line `yaml:"debug"`
}

// Default pin assignments (BCM numbering).
const (
	DefaultPinButton          = 23
	DefaultPinConfirm         = 24
	DefaultPinLED             = 17
	DefaultPinRelay           = 22
	DefaultPinShutdownRequest = 27
)

// DefaultPins returns the default wiring: active-low button and
// confirmation inputs with pull-ups, active-high outputs, no debug line.
func DefaultPins() Pins {
	return Pins{
		Button:          Line{Pin: DefaultPinButton, ActiveLow: true},
		Confirm:         Line{Pin: DefaultPinConfirm, ActiveLow: true},
		LED:             Line{Pin: DefaultPinLED},
		Relay:           Line{Pin: DefaultPinRelay},
		ShutdownRequest: Line{Pin: DefaultPinShutdownRequest},
		Debug:           Line{Pin: -1},
	}
}

// Validate checks that every required line is set and no pin is used twice.
func (p Pins) Validate() error {
	required := []struct {
		name string
		line Line
	}{
		{"button", p.Button},
		{"confirm", p.Confirm},
		{"led", p.LED},
		{"relay", p.Relay},
		{"shutdown_request", p.ShutdownRequest},
	}
	seen := make(map[int]string)
	for _, r := range required {
		if !r.line.Enabled() {
			return fmt.Errorf("pin %s: must be >= 0, got %d", r.name, r.line.Pin)
		}
		if other, ok := seen[r.line.Pin]; ok {
			return fmt.Errorf("pin %s: %d already used by %s", r.name, r.line.Pin, other)
		}
		seen[r.line.Pin] = r.name
	}
	if p.Debug.Enabled() {
		if other, ok := seen[p.Debug.Pin]; ok {
			return fmt.Errorf("pin debug: %d already used by %s", p.Debug.Pin, other)
		}
	}
	return nil
}

// Board groups the lines the controller needs.
type Board struct {
	Button          Input
	Confirm         Input
	LED             Output
	Relay           Output
	ShutdownRequest Output
	// Debug is nil when no debug line is configured.
	Debug Output

	closers []func() error
}

// Close releases GPIO resources in reverse order of acquisition.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Board) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

type (
	inputFunc  func(name string, l Line) (Input, error)
	outputFunc func(name string, l Line) (Output, error)
)

// request fills the board using backend specific line constructors.
// With inputsOnly set, output lines are neither requested nor written and
// the board's outputs stay nil.
func (b *Board) request(pins Pins, inputsOnly bool, input inputFunc, output outputFunc) error {
	var err error
	if b.Button, err = input("button", pins.Button); err != nil {
		return err
	}
	if b.Confirm, err = input("confirm", pins.Confirm); err != nil {
		return err
	}
	if inputsOnly {
		return nil
	}
	if b.LED, err = output("led", pins.LED); err != nil {
		return err
	}
	if b.Relay, err = output("relay", pins.Relay); err != nil {
		return err
	}
	if b.ShutdownRequest, err = output("shutdown_request", pins.ShutdownRequest); err != nil {
		return err
	}
	if pins.Debug.Enabled() {
		if b.Debug, err = output("debug", pins.Debug); err != nil {
			return err
		}
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
	BackendRpio   = "rpio"
)

// Open requests all lines from the named backend.
// chip is only used by the cdev backend.
func Open(backend, chip string, pins Pins) (*Board, error) {
	return open(backend, chip, pins, false)
}

// OpenInputs requests only the button and confirmation lines. Outputs are
// left untouched, so the relay keeps whatever level it currently has.
func OpenInputs(backend, chip string, pins Pins) (*Board, error) {
	return open(backend, chip, pins, true)
}

func open(backend, chip string, pins Pins, inputsOnly bool) (*Board, error) {
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	switch backend {
	case BackendCdev, "":
		return NewCdevBoard(chip, pins, inputsOnly)
	case BackendPeriph:
		return NewPeriphBoard(pins, inputsOnly)
	case BackendRpio:
		return NewRpioBoard(pins, inputsOnly)
	default:
		return nil, fmt.Errorf("gpio: unknown backend %q", backend)
	}
}

// releaseInput returns an input to its boot configuration and releases it.
// Both steps run; their errors are joined.
func releaseInput(name string, reconfigure, release func() error) error {
	var errs []error
	if err := reconfigure(); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
	}
	if err := release(); err != nil {
		errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
	}
	return errors.Join(errs...)
}
