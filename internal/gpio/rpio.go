//go:build linux

package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpioLine adapts a memory-mapped Raspberry Pi pin, applying polarity in software.
type rpioLine struct {
	pin       rpio.Pin
	activeLow bool
}

func (l *rpioLine) Read() (bool, error) {
	high := l.pin.Read() == rpio.High
	return high != l.activeLow, nil
}

func (l *rpioLine) Write(on bool) error {
	if on != l.activeLow {
		l.pin.High()
	} else {
		l.pin.Low()
	}
	return nil
}

// NewRpioBoard maps /dev/gpiomem and configures the lines.
// Outputs start deasserted; with inputsOnly they are not touched.
func NewRpioBoard(pins Pins, inputsOnly bool) (*Board, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpiomem: %w", err)
	}

	b := &Board{}
	b.onClose(rpio.Close)

	input := func(_ string, l Line) (Input, error) {
		p := rpio.Pin(l.Pin)
		p.Input()
		if l.ActiveLow {
			p.PullUp()
		} else {
			p.PullDown()
		}
		return &rpioLine{pin: p, activeLow: l.ActiveLow}, nil
	}

	output := func(_ string, l Line) (Output, error) {
		p := rpio.Pin(l.Pin)
		line := &rpioLine{pin: p, activeLow: l.ActiveLow}
		line.Write(false)
		p.Output()
		return line, nil
	}

	if err := b.request(pins, inputsOnly, input, output); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
