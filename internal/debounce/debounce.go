// Package debounce filters contact bounce on digital inputs by sampling
// a line twice with a short settle delay in between.
package debounce

import (
	"time"

	"github.com/sweeney/power-button/internal/gpio"
)

// DefaultSettle is the delay between the two samples.
const DefaultSettle = 300 * time.Microsecond

// Reader reads inputs with a double-sample debounce.
type Reader struct {
	settle time.Duration
	wait   func(time.Duration)
}

// NewReader creates a Reader that waits settle between samples.
func NewReader(settle time.Duration) *Reader {
	return &Reader{settle: settle, wait: spin}
}

// NewReaderWithWait creates a Reader with an injected wait function.
// Tests use it to change the line state between the two samples.
func NewReaderWithWait(settle time.Duration, wait func(time.Duration)) *Reader {
	return &Reader{settle: settle, wait: wait}
}

// Read returns true only if the line is asserted on both samples.
// A read error counts as not asserted and is returned to the caller.
func (r *Reader) Read(line gpio.Input) (bool, error) {
	on, err := line.Read()
	if err != nil || !on {
		return false, err
	}

	r.wait(r.settle)

	on, err = line.Read()
	if err != nil {
		return false, err
	}
	return on, nil
}

// spin busy-waits for d. time.Sleep granularity on a loaded Pi is coarser
// than the few hundred microseconds needed here.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
