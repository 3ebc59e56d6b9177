package gekkofx

import "time"

// maxFrameDt caps wall clock steps, e.g. after a breakpoint or a stalled frame.
const maxFrameDt = 250 * time.Millisecond

// FrameClock measures frame deltas. With a positive Fixed step every Tick
// advances by exactly that much, which keeps headless runs reproducible.
type FrameClock struct {
	Time  time.Time
	Dt    time.Duration
	Fixed time.Duration
	Frame uint64

	start time.Time
	now   func() time.Time
}

func NewFrameClock(fixed time.Duration) *FrameClock {
	c := &FrameClock{Fixed: fixed, now: time.Now}
	c.Time = c.now()
	c.start = c.Time
	return c
}

// Tick advances one frame and returns its delta in seconds.
func (c *FrameClock) Tick() float32 {
	c.Frame++
	if c.Fixed > 0 {
		c.Dt = c.Fixed
		c.Time = c.Time.Add(c.Fixed)
		return float32(c.Dt.Seconds())
	}
	now := c.now()
	c.Dt = min(now.Sub(c.Time), maxFrameDt)
	c.Time = now
	return float32(c.Dt.Seconds())
}

// Elapsed is the clock time since creation, simulated time in fixed mode.
func (c *FrameClock) Elapsed() time.Duration {
	return c.Time.Sub(c.start)
}
