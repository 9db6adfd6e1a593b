package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_MonotonicWithinEpoch(t *testing.T) {
	c := NewClock()

	ticks, wrapped := c.Extend(100)
	assert.Equal(t, uint64(100), ticks)
	assert.False(t, wrapped)

	ticks, wrapped = c.Extend(5000)
	assert.Equal(t, uint64(5000), ticks)
	assert.False(t, wrapped)
}

func TestClock_Wraparound(t *testing.T) {
	c := NewClock()

	c.Extend(0xFFF0)
	ticks, wrapped := c.Extend(0x0002)

	assert.True(t, wrapped)
	assert.Equal(t, uint64(0x10002), ticks)
	assert.Equal(t, uint64(1), c.Wraps())
}

func TestClock_MultipleWraps(t *testing.T) {
	c := NewClock()

	c.Extend(0xFFFF)
	c.Extend(0x0000)
	c.Extend(0xFFFF)
	ticks, wrapped := c.Extend(0x0001)

	assert.True(t, wrapped)
	assert.Equal(t, uint64(2*0x10000+1), ticks)
	assert.Equal(t, uint64(2), c.Wraps())
}

func TestClock_FirstTickNeverWraps(t *testing.T) {
	c := NewClock()

	// A fresh clock must not treat its first observation as a wrap,
	// whatever the raw value.
	ticks, wrapped := c.Extend(0x0001)
	assert.False(t, wrapped)
	assert.Equal(t, uint64(1), ticks)
}
