package gekkofx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameClock_Fixed(t *testing.T) {
	c := NewFrameClock(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, 0.02, c.Tick(), 1e-6)
	}
	assert.Equal(t, uint64(5), c.Frame)
	assert.Equal(t, 100*time.Millisecond, c.Elapsed())
}

func TestFrameClock_WallClampsLongFrames(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewFrameClock(0)
	c.now = func() time.Time { return now }
	c.Time, c.start = now, now

	now = now.Add(16 * time.Millisecond)
	assert.InDelta(t, 0.016, c.Tick(), 1e-6)

	now = now.Add(3 * time.Second)
	assert.InDelta(t, maxFrameDt.Seconds(), c.Tick(), 1e-6)
	assert.Equal(t, 3016*time.Millisecond, c.Elapsed())
}
