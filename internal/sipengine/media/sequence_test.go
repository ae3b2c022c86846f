package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceTrackerLossAndReorder(t *testing.T) {
	s := NewSequenceTracker()

	ext, lost := s.Update(10)
	assert.Equal(t, uint32(10), ext)
	assert.Zero(t, lost)

	_, lost = s.Update(11)
	assert.Zero(t, lost)

	_, lost = s.Update(14)
	assert.Equal(t, 2, lost)

	// late packet
	ext, lost = s.Update(13)
	assert.Equal(t, uint32(13), ext)
	assert.Zero(t, lost)

	received, totalLost := s.Stats()
	assert.Equal(t, uint64(4), received)
	assert.Equal(t, uint64(2), totalLost)
	assert.InDelta(t, 2.0/6.0, s.LossRate(), 1e-9)
}

func TestSequenceTrackerRollover(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(65534)
	s.Update(65535)

	ext, lost := s.Update(0)
	assert.Equal(t, uint32(65536), ext)
	assert.Zero(t, lost)

	ext, _ = s.Update(1)
	assert.Equal(t, uint32(65537), ext)
}

func TestSequenceTrackerEmpty(t *testing.T) {
	assert.Zero(t, NewSequenceTracker().LossRate())
}
