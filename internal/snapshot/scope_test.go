// SPDX-License-Identifier: MIT
package snapshot

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var oneChannel = map[int]bool{0: true}

func payloadOf(data []byte, channels int) Payload {
	return Payload{Data: data, NumSamples: uint64(len(data) / channels)}
}

func ramp(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestFirstPayloadNoChannels(t *testing.T) {
	s := NewScopeSnapshot(nil)
	err := s.FirstPayload(payloadOf(ramp(4), 1), 10, map[int]bool{0: false, 1: false}, true)
	require.ErrorIs(t, err, ErrNoEnabledChannels)
	assert.Zero(t, s.Size())
	assert.Zero(t, s.ChannelCount())
	assert.True(t, s.LastEnded())
}

func TestFirstPayloadIngests(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(payloadOf(ramp(6), 1), 10, oneChannel, true))

	assert.EqualValues(t, 6, s.Size())
	assert.True(t, s.HasData())
	assert.False(t, s.LastEnded())
	assert.True(t, s.Instant())
	assert.True(t, s.ChannelHasData(0))
	assert.False(t, s.ChannelHasData(7))

	s.CaptureEnded()
	assert.True(t, s.LastEnded())
}

func TestAppendGrowingTruncates(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(Payload{}, 10, oneChannel, true))
	assert.Zero(t, s.Size())

	s.AppendPayload(payloadOf(ramp(15), 1))
	assert.EqualValues(t, 10, s.Size())

	s.AppendPayload(payloadOf(ramp(5), 1))
	assert.EqualValues(t, 10, s.Size(), "full buffer stays full")

	view, err := s.RawWindow(0, 9, 0)
	require.NoError(t, err)
	assert.Equal(t, ramp(10), view.AppendTo(nil))
	assert.Equal(t, byte(0), s.data[10], "header slack untouched")
}

func TestAppendGrowingAccumulates(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(payloadOf([]byte{1, 2, 3}, 1), 10, oneChannel, true))
	s.AppendPayload(payloadOf([]byte{4, 5}, 1))

	view, err := s.RawWindow(0, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, view.AppendTo(nil))
}

func TestReplaceOnArrivalOverwrites(t *testing.T) {
	s := NewScopeSnapshot(nil)
	first := []byte{9, 9, 9, 9, 9, 9}
	second := []byte{1, 2, 3, 4}

	require.NoError(t, s.FirstPayload(payloadOf(first, 1), 10, oneChannel, false))
	assert.EqualValues(t, 6, s.Size())

	s.AppendPayload(payloadOf(second, 1))
	assert.EqualValues(t, 4, s.Size())
	assert.Equal(t, second, s.data[:4])

	s.AppendPayload(payloadOf(ramp(15), 1))
	assert.EqualValues(t, 10, s.Size(), "replace frame clamped to capacity")
}

func TestAppendPayloadNoop(t *testing.T) {
	s := NewScopeSnapshot(nil)
	s.AppendPayload(payloadOf(ramp(4), 1))
	assert.Zero(t, s.Size(), "no buffer yet")

	require.NoError(t, s.FirstPayload(payloadOf(ramp(4), 1), 10, oneChannel, true))
	s.AppendPayload(Payload{Data: ramp(4)})
	assert.EqualValues(t, 4, s.Size(), "zero-sample chunk ignored")
}

func TestPayloadShorterThanClaimed(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(Payload{Data: ramp(3), NumSamples: 8}, 10, oneChannel, true))
	assert.EqualValues(t, 3, s.Size())
}

func TestInterleavedLayout(t *testing.T) {
	s := NewScopeSnapshot(nil)
	chEnable := map[int]bool{0: true, 1: false, 2: true}
	// sample i: channel position 0 holds i, position 1 holds 100+i
	data := []byte{0, 100, 1, 101, 2, 102, 3, 103}
	require.NoError(t, s.FirstPayload(payloadOf(data, 2), 4, chEnable, true))

	assert.Equal(t, 2, s.ChannelCount())
	pos, ok := s.ChannelPosition(2)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	_, ok = s.ChannelPosition(1)
	assert.False(t, ok)

	view, err := s.RawWindow(1, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Stride)
	assert.EqualValues(t, 3, view.Count)
	assert.Equal(t, []byte{101, 102, 103}, view.AppendTo(nil))

	assert.Equal(t, byte(102), s.data[2*2+1], "sample 2 of position 1 at offset i*channels+c")
}

func TestRawWindowBounds(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(payloadOf(ramp(8), 1), 8, oneChannel, true))

	tests := []struct {
		name       string
		start, end uint64
		channel    int
	}{
		{"end at size", 0, 8, 0},
		{"start after end", 5, 4, 0},
		{"bad channel", 0, 1, 1},
		{"negative channel", 0, 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.RawWindow(tt.start, tt.end, tt.channel)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}

	view, err := s.RawWindow(7, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), view.At(0))
}

func TestCopyWindow(t *testing.T) {
	s := NewScopeSnapshot(nil)
	data := []byte{0, 100, 1, 101, 2, 102, 3, 103}
	require.NoError(t, s.FirstPayload(payloadOf(data, 2), 4, map[int]bool{0: true, 1: true}, false))

	dst := make([]byte, 0, 8)
	got, err := s.CopyWindow(1, 2, 1, dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{101, 102}, got)

	// the copy is detached from the buffer a replace frame rewrites
	s.AppendPayload(payloadOf([]byte{9, 9, 9, 9, 9, 9}, 2))
	assert.Equal(t, []byte{101, 102}, got)

	got, err = s.CopyWindow(0, 10, 0, got[:0])
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, got, "end clamped to the shrunken buffer")

	_, err = s.CopyWindow(3, 10, 0, nil)
	assert.ErrorIs(t, err, ErrOutOfRange, "start past the last sample")
	_, err = s.CopyWindow(0, 1, 2, nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSetupAllOrNothing(t *testing.T) {
	// call 1 is the raw buffer, calls 2..11 the envelope levels of channel 0
	for _, failAt := range []int{1, 2, 5, 11, 12, 21} {
		pool := newFailingPool(failAt)
		s := NewScopeSnapshot(pool)
		err := s.FirstPayload(payloadOf(ramp(40), 2), 1000, map[int]bool{0: true, 1: true}, true)

		require.ErrorIs(t, err, ErrMemoryFailed, "fail at %d", failAt)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Zero(t, s.Size())
		assert.True(t, s.MemoryFailed())
		assert.False(t, s.HasData())
		assert.False(t, s.ChannelHasData(0))
		assert.Nil(t, s.data)
		assert.Nil(t, s.levels)
		assert.Zero(t, pool.InUse(), "every reservation of the pass returned")
		assert.Zero(t, s.BlockCount())

		sec, err := s.EnvelopeSection(0, 0, 1, 0)
		require.NoError(t, err)
		assert.Zero(t, sec.Length)

		// a later setup succeeds once the pool stops failing
		require.NoError(t, s.FirstPayload(payloadOf(ramp(40), 2), 1000, map[int]bool{0: true, 1: true}, true))
		assert.False(t, s.MemoryFailed())
		assert.EqualValues(t, 20, s.Size())
	}
}

func TestSetupOverflowFails(t *testing.T) {
	s := NewScopeSnapshot(nil)
	err := s.FirstPayload(Payload{}, ^uint64(0)/2, map[int]bool{0: true, 1: true, 2: true}, true)
	require.ErrorIs(t, err, ErrMemoryFailed)
	assert.True(t, s.MemoryFailed())
}

func TestSetupReservesPyramid(t *testing.T) {
	pool := NewBudget(0)
	s := NewScopeSnapshot(pool)
	require.NoError(t, s.FirstPayload(Payload{}, 1000, map[int]bool{0: true, 1: true}, true))

	// every level rounds up to one allocation unit of two-byte entries
	perChannel := uint64(ScaleStepCount * EnvelopeDataUnit * 2)
	assert.Equal(t, uint64(1000*2+headerSlack)+2*perChannel, pool.InUse())

	_, dataLength := s.EnvelopeLevel(1, ScaleStepCount-1)
	assert.EqualValues(t, EnvelopeDataUnit, dataLength)

	// reconfiguring to one channel releases before reallocating
	require.NoError(t, s.FirstPayload(Payload{}, 1000, oneChannel, true))
	assert.Equal(t, uint64(1000+headerSlack)+perChannel, pool.InUse())
}

func TestSetupReusesBuffer(t *testing.T) {
	s := NewScopeSnapshot(nil)
	require.NoError(t, s.FirstPayload(payloadOf(ramp(10), 1), 10, oneChannel, true))
	buf := s.data

	require.NoError(t, s.FirstPayload(payloadOf([]byte{7, 7}, 1), 10, oneChannel, true))
	assert.Same(t, &buf[0], &s.data[0])
	assert.EqualValues(t, 2, s.Size(), "counters reset on setup")
}

func TestClear(t *testing.T) {
	pool := NewBudget(0)
	s := NewScopeSnapshot(pool)
	s.EnableEnvelope(true)
	require.NoError(t, s.FirstPayload(payloadOf(ramp(200), 1), 1000, oneChannel, true))

	s.Clear()
	assert.Zero(t, s.Size())
	assert.Zero(t, pool.InUse())
	assert.False(t, s.HasData())
	assert.False(t, s.EnvelopeDone())
	assert.False(t, s.ChannelHasData(0))
	assert.True(t, s.LastEnded())
	assert.Zero(t, s.BlockCount())

	s.Clear()
	s.AppendPayload(payloadOf(ramp(4), 1))
	assert.Zero(t, s.Size())
}

func TestInitKeepsMemory(t *testing.T) {
	pool := NewBudget(0)
	s := NewScopeSnapshot(pool)
	s.EnableEnvelope(true)
	require.NoError(t, s.FirstPayload(payloadOf(ramp(600), 1), 1000, oneChannel, true))
	inUse := pool.InUse()

	s.Init()
	assert.Zero(t, s.Size())
	assert.Equal(t, inUse, pool.InUse())
	assert.False(t, s.EnvelopeDone())
	assert.Empty(t, s.EnabledChannels())
	length, _ := s.EnvelopeLevel(0, 0)
	assert.Zero(t, length)
}

func TestEnabledChannelsIsCopy(t *testing.T) {
	s := NewScopeSnapshot(nil)
	in := map[int]bool{0: true, 3: true}
	require.NoError(t, s.FirstPayload(Payload{}, 4, in, true))

	in[3] = false
	got := s.EnabledChannels()
	got[0] = false
	assert.True(t, s.ChannelHasData(0))
	assert.True(t, s.ChannelHasData(3))
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	const chunk = 512
	s := NewScopeSnapshot(nil)
	s.EnableEnvelope(true)
	chEnable := map[int]bool{0: true, 1: true}
	require.NoError(t, s.FirstPayload(Payload{}, 200*chunk, chEnable, true))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		data := bytes.Repeat([]byte{10, 200}, chunk)
		for range 200 {
			s.AppendPayload(payloadOf(data, 2))
		}
		s.CaptureEnded()
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !s.LastEnded() {
				n := s.Size()
				if n > 0 {
					_, err := s.RawWindow(0, n-1, 1)
					assert.NoError(t, err)
					_, err = s.EnvelopeSection(0, n, 300, 0)
					assert.NoError(t, err)
				}
				_ = s.RMS(128, 0)
				_ = s.BlockCount()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 200*chunk, s.Size())
	assert.InDelta(t, 10, s.Mean(0), 1e-9)
	assert.InDelta(t, 200, s.Mean(1), 1e-9)
}
