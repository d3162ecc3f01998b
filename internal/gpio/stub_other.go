//go:build !linux

package gpio

import "errors"

// DefaultChip is the GPIO chip used by the cdev backend.
const DefaultChip = "gpiochip0"

// NewCdevBoard returns an error on non-Linux platforms.
func NewCdevBoard(chipName string, pins Pins, inputsOnly bool) (*Board, error) {
	return nil, errors.New("gpio: cdev backend not supported on this platform (requires Linux)")
}

// NewRpioBoard returns an error on non-Linux platforms.
func NewRpioBoard(pins Pins, inputsOnly bool) (*Board, error) {
	return nil, errors.New("gpio: rpio backend not supported on this platform (requires Linux)")
}
