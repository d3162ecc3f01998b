package logic

import "sync/atomic"

// Counter is a tick countdown shared between the tick goroutine and the
// poll loop. The tick side only calls Decrement; the poll side loads,
// arms and disarms it. Every access is a single atomic operation.
type Counter struct {
	v atomic.Int32
}

// Load returns the remaining ticks.
func (c *Counter) Load() int32 {
	return c.v.Load()
}

// Arm sets the counter to n ticks in one indivisible store.
// Negative values are clamped to zero.
func (c *Counter) Arm(n int32) {
	if n < 0 {
		n = 0
	}
	c.v.Store(n)
}

// Disarm sets the counter to zero.
func (c *Counter) Disarm() {
	c.v.Store(0)
}

// Decrement subtracts one tick. It is a no-op at zero, so the counter
// never goes negative even if Arm races with it.
func (c *Counter) Decrement() {
	for {
		cur := c.v.Load()
		if cur <= 0 {
			return
		}
		if c.v.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Expired reports whether the counter has reached zero.
func (c *Counter) Expired() bool {
	return c.v.Load() == 0
}
