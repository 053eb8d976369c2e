// SPDX-License-Identifier: MIT
package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleStore(t *testing.T) {
	s := NewSampleStore(1, 100, 2, nil)
	assert.True(t, s.Empty())
	assert.Equal(t, 1, s.UnitSize())
	assert.Equal(t, 2, s.ChannelCount())
	assert.EqualValues(t, 100, s.TotalSampleCount())
	assert.True(t, s.LastEnded())
	assert.False(t, s.HasData())
	assert.False(t, s.MemoryFailed())

	assert.Panics(t, func() { NewSampleStore(0, 1, 1, nil) })
}

func TestRingWindow(t *testing.T) {
	tests := []struct {
		name       string
		count      uint64
		total      uint64
		cursor     uint64
		start, end uint64
	}{
		{"empty", 0, 10, 0, 0, 0},
		{"partial", 4, 10, 0, 0, 9},
		{"full unwrapped", 10, 10, 0, 0, 9},
		{"full wrapped", 10, 10, 3, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampleStore(1, tt.total, 1, nil)
			s.sampleCount = tt.count
			s.ringSampleCount = tt.cursor
			assert.Equal(t, tt.start, s.RingStart())
			assert.Equal(t, tt.end, s.RingEnd())
		})
	}
}

func TestReleaseIdempotent(t *testing.T) {
	pool := NewBudget(0)
	s := NewSampleStore(1, 16, 1, pool)
	s.chIndex = map[int]int{0: 0}
	require.NoError(t, s.allocData(24))
	s.sampleCount = 16
	assert.EqualValues(t, 24, pool.InUse())

	s.Release()
	s.Release()

	assert.Zero(t, s.Size())
	assert.Nil(t, s.data)
	assert.Zero(t, pool.InUse())
	_, ok := s.ChannelPosition(0)
	assert.False(t, ok, "channel index cleared with the buffer")
}

func TestCaptureEnded(t *testing.T) {
	s := NewSampleStore(1, 8, 1, nil)
	s.lastEnded = false
	s.CaptureEnded()
	assert.True(t, s.LastEnded())
}

func TestRawBufferSize(t *testing.T) {
	size, ok := rawBufferSize(10, 3)
	assert.True(t, ok)
	assert.EqualValues(t, 38, size)

	_, ok = rawBufferSize(^uint64(0)/2, 4)
	assert.False(t, ok)
}
