// SPDX-License-Identifier: MIT
/*
Package snapshot holds acquired oscilloscope data in memory and serves it to
renderers, statistics and persistence at several time resolutions.

Two layers:
- SampleStore owns the raw interleaved byte buffer and its fill accounting.
- ScopeSnapshot embeds a SampleStore and adds the per-channel min/max
  envelope pyramid, channel statistics and leaf-block decomposition.

Thread Safety:
- One mutex per snapshot guards every mutating call and every size-dependent
  read. There is no reader/writer split: a long query stalls the acquisition
  goroutine and the other way round. Individual appends and envelope
  extensions are bounded, which keeps the stall short.
- Views handed out by RawWindow, EnvelopeSection and Block alias snapshot
  memory and may be rewritten by the next mutating call. Readers running
  alongside acquisition use CopyWindow, CopyEnvelopeSection and Extremes,
  which finish their work under the lock.
*/
package snapshot

import (
	"errors"
	"sync"
)

// headerSlack is the extra room allocated past the end of the raw samples.
const headerSlack = 8

var (
	// ErrNoEnabledChannels is returned by FirstPayload when the enable map has no enabled entry.
	ErrNoEnabledChannels = errors.New("snapshot: no enabled channels")
	// ErrMemoryFailed marks a setup pass that was rolled back after an allocation failure.
	ErrMemoryFailed = errors.New("snapshot: memory allocation failed")
	// ErrOutOfRange is returned by accessors whose preconditions are violated.
	ErrOutOfRange = errors.New("snapshot: index out of range")
)

// SampleStore owns a raw sample buffer and tracks how much of it is filled.
type SampleStore struct {
	mu sync.Mutex

	data     []byte // nil when released or after a failed allocation
	capacity uint64 // bytes reserved for data
	pool     MemoryPool

	unitSize         int
	channelNum       int
	sampleCount      uint64
	totalSampleCount uint64
	ringSampleCount  uint64 // wrap cursor; nothing on the write path advances it

	memoryFailed bool
	lastEnded    bool
	haveData     bool

	chIndex map[int]int // channel ordinal -> interleave position
}

// NewSampleStore returns an empty store. A nil pool means an unbounded budget.
// unitSize must be positive.
func NewSampleStore(unitSize int, totalSampleCount uint64, channelNum int, pool MemoryPool) *SampleStore {
	if unitSize <= 0 {
		panic("snapshot: unit size must be positive")
	}
	if pool == nil {
		pool = NewBudget(0)
	}
	return &SampleStore{
		pool:             pool,
		unitSize:         unitSize,
		channelNum:       channelNum,
		totalSampleCount: totalSampleCount,
		lastEnded:        true,
	}
}

// Size returns the number of valid samples per channel.
func (s *SampleStore) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleCount
}

// Empty reports whether no samples are stored.
func (s *SampleStore) Empty() bool {
	return s.Size() == 0
}

// RingStart returns the first sample of the live window.
func (s *SampleStore) RingStart() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringStart()
}

// RingEnd returns the last sample of the live window, 0 when empty.
func (s *SampleStore) RingEnd() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringEnd()
}

func (s *SampleStore) ringStart() uint64 {
	if s.sampleCount < s.totalSampleCount {
		return 0
	}
	return s.ringSampleCount
}

func (s *SampleStore) ringEnd() uint64 {
	switch {
	case s.sampleCount == 0:
		return 0
	case s.ringSampleCount == 0:
		return s.totalSampleCount - 1
	default:
		return s.ringSampleCount - 1
	}
}

// Release frees the raw buffer. Safe on an already empty store.
func (s *SampleStore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseData()
}

// CaptureEnded records that acquisition has finished. It does not touch the buffer.
func (s *SampleStore) CaptureEnded() {
	s.mu.Lock()
	s.lastEnded = true
	s.mu.Unlock()
}

// LastEnded reports whether the most recent capture has finished.
func (s *SampleStore) LastEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEnded
}

// MemoryFailed reports whether the last setup or envelope growth ran out of memory.
func (s *SampleStore) MemoryFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryFailed
}

// HasData reports whether any payload has been ingested since the last clear.
func (s *SampleStore) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveData
}

// UnitSize returns the bytes per sample unit.
func (s *SampleStore) UnitSize() int {
	return s.unitSize
}

// ChannelCount returns the number of interleaved channels.
func (s *SampleStore) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelNum
}

// TotalSampleCount returns the nominal capacity in samples per channel.
func (s *SampleStore) TotalSampleCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSampleCount
}

// ChannelPosition maps a channel ordinal to its interleave position.
func (s *SampleStore) ChannelPosition(ordinal int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.chIndex[ordinal]
	return pos, ok
}

// allocData reserves and makes a raw buffer of size bytes. Caller holds mu.
func (s *SampleStore) allocData(size uint64) error {
	if err := s.pool.Reserve(size); err != nil {
		return err
	}
	s.data = make([]byte, size)
	s.capacity = size
	return nil
}

// releaseData drops the raw buffer and its reservation. Caller holds mu.
func (s *SampleStore) releaseData() {
	if s.data != nil {
		s.pool.Release(s.capacity)
		s.data = nil
		s.capacity = 0
		s.sampleCount = 0
	}
	clear(s.chIndex)
}

// rawBufferSize returns the bytes needed for total samples of channels
// interleaved channels plus header slack, or false on overflow.
func rawBufferSize(total uint64, channels int) (uint64, bool) {
	ch := uint64(channels)
	if ch != 0 && total > (^uint64(0)-headerSlack)/ch {
		return 0, false
	}
	return total*ch + headerSlack, true
}
