//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "power-button"

// DefaultChip is the GPIO chip used by the cdev backend.
const DefaultChip = "gpiochip0"

// cdevLine wraps a requested line. Polarity is handled by the kernel
// (gpiocdev.AsActiveLow), so values are already logical.
type cdevLine struct {
	line *gpiocdev.Line
}

func (l *cdevLine) Read() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", l.line.Offset(), err)
	}
	return v == 1, nil
}

func (l *cdevLine) Write(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("write line %d: %w", l.line.Offset(), err)
	}
	return nil
}

// NewCdevBoard requests lines from the Linux GPIO character device.
// Outputs start deasserted; with inputsOnly they are not requested.
func NewCdevBoard(chipName string, pins Pins, inputsOnly bool) (*Board, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &Board{}
	b.onClose(chip.Close)

	input := func(name string, l Line) (Input, error) {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
		// Active-low inputs idle high through a pull-up; active-high
		// inputs idle low through a pull-down.
		if l.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
		} else {
			opts = append(opts, gpiocdev.WithPullDown)
		}
		line, err := chip.RequestLine(l.Pin, opts...)
		if err != nil {
			return nil, fmt.Errorf("request %s pin %d: %w", name, l.Pin, err)
		}
		b.onClose(func() error {
			// Leave inputs as they were at boot before releasing them.
			return releaseInput(name, func() error {
				return line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown)
			}, line.Close)
		})
		return &cdevLine{line: line}, nil
	}

	output := func(name string, l Line) (Output, error) {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if l.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(l.Pin, opts...)
		if err != nil {
			return nil, fmt.Errorf("request %s pin %d: %w", name, l.Pin, err)
		}
		b.onClose(line.Close)
		return &cdevLine{line: line}, nil
	}

	if err := b.request(pins, inputsOnly, input, output); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
