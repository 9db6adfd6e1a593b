// Package timesync extends the wrapping 16-bit device timestamp carried
// in radio frames into a monotonic 64-bit tick counter.
//
// The sniffing device stamps radio frames with a coarse 16-bit tick
// that wraps frequently. Wraparound semantics beyond "the counter
// wraps" are not documented, so this package takes the conservative
// reading: ticks are monotonic per source, a raw value smaller than
// its predecessor means exactly one wrap, and every wrap is surfaced
// to the caller so diagnostics can flag it.
package timesync

// Clock accumulates wraparounds of the 16-bit device tick counter for
// a single byte source. Not safe for concurrent use; each extractor
// owns its own Clock.
type Clock struct {
	upper   uint64
	last    uint16
	started bool
	wraps   uint64
}

// NewClock returns a Clock with no observed ticks.
func NewClock() *Clock {
	return &Clock{}
}

// Extend converts a raw 16-bit device tick into the monotonic 64-bit
// tick count. The second return is true when this tick crossed a
// wraparound boundary.
func (c *Clock) Extend(raw uint16) (uint64, bool) {
	wrapped := false
	if c.started && raw < c.last {
		c.upper += 1 << 16
		c.wraps++
		wrapped = true
	}
	c.last = raw
	c.started = true
	return c.upper | uint64(raw), wrapped
}

// Wraps returns how many wraparounds have been observed.
func (c *Clock) Wraps() uint64 {
	return c.wraps
}
