package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphLine adapts a periph.io pin, applying polarity in software.
type periphLine struct {
	pin       pgpio.PinIO
	activeLow bool
}

func (l *periphLine) Read() (bool, error) {
	level := l.pin.Read()
	return bool(level) != l.activeLow, nil
}

func (l *periphLine) Write(on bool) error {
	if err := l.pin.Out(pgpio.Level(on != l.activeLow)); err != nil {
		return fmt.Errorf("write %s: %w", l.pin.Name(), err)
	}
	return nil
}

// NewPeriphBoard opens the lines through periph.io host drivers.
// Outputs start deasserted; with inputsOnly they are not touched.
func NewPeriphBoard(pins Pins, inputsOnly bool) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	lookup := func(name string, l Line) (pgpio.PinIO, error) {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", l.Pin))
		if p == nil {
			return nil, fmt.Errorf("%s pin GPIO%d not found", name, l.Pin)
		}
		return p, nil
	}

	input := func(name string, l Line) (Input, error) {
		p, err := lookup(name, l)
		if err != nil {
			return nil, err
		}
		pull := pgpio.PullDown
		if l.ActiveLow {
			pull = pgpio.PullUp
		}
		if err := p.In(pull, pgpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configure %s pin %d: %w", name, l.Pin, err)
		}
		return &periphLine{pin: p, activeLow: l.ActiveLow}, nil
	}

	output := func(name string, l Line) (Output, error) {
		p, err := lookup(name, l)
		if err != nil {
			return nil, err
		}
		line := &periphLine{pin: p, activeLow: l.ActiveLow}
		if err := line.Write(false); err != nil {
			return nil, fmt.Errorf("configure %s pin %d: %w", name, l.Pin, err)
		}
		return line, nil
	}

	b := &Board{}
	if err := b.request(pins, inputsOnly, input, output); err != nil {
		return nil, err
	}
	return b, nil
}
