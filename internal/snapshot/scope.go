// SPDX-License-Identifier: MIT
package snapshot

import (
	"fmt"
	"maps"
	"slices"

	applog "dsoscope/internal/log"
)

// Payload is one chunk delivered by the acquisition side. Data holds
// NumSamples samples of every enabled channel, interleaved.
type Payload struct {
	Data              []byte
	NumSamples        uint64
	SamplerateChanged bool // forces a full envelope rebuild
}

// SampleView is a strided view of one channel inside the raw buffer. It
// aliases snapshot memory and must be consumed before the next mutating call.
type SampleView struct {
	Data   []byte
	Stride int
	Count  uint64
}

// At returns the i-th sample of the view.
func (v SampleView) At(i uint64) uint8 {
	return v.Data[i*uint64(v.Stride)]
}

// AppendTo copies the view's samples onto dst and returns the extended slice.
func (v SampleView) AppendTo(dst []byte) []byte {
	for i := uint64(0); i < v.Count; i++ {
		dst = append(dst, v.At(i))
	}
	return dst
}

// ScopeSnapshot is the oscilloscope sample store: interleaved 8-bit samples,
// a min/max envelope pyramid per channel, statistics and block access.
type ScopeSnapshot struct {
	SampleStore

	chEnable     map[int]bool
	instant      bool
	envelopeEn   bool
	envelopeDone bool

	levels        [][ScaleStepCount]Envelope // [channel position][level]
	envelopeBytes uint64                     // reserved in pool for levels
}

// NewScopeSnapshot returns an empty snapshot charging allocations to pool.
// A nil pool means an unbounded budget.
func NewScopeSnapshot(pool MemoryPool) *ScopeSnapshot {
	if pool == nil {
		pool = NewBudget(0)
	}
	return &ScopeSnapshot{
		SampleStore: SampleStore{
			pool:      pool,
			unitSize:  1,
			lastEnded: true,
		},
	}
}

// FirstPayload (re)configures the snapshot for a new capture and ingests the
// first chunk. The raw buffer and every envelope level are allocated in one
// pass; if any allocation fails everything from the pass is released,
// MemoryFailed reports true and the returned error wraps ErrMemoryFailed.
func (s *ScopeSnapshot) FirstPayload(p Payload, totalSampleCount uint64, chEnable map[int]bool, instant bool) error {
	channelNum := 0
	for _, en := range chEnable {
		if en {
			channelNum++
		}
	}
	if channelNum == 0 {
		return ErrNoEnabledChannels
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reAlloc := totalSampleCount != s.totalSampleCount || channelNum != s.channelNum || s.data == nil

	s.totalSampleCount = totalSampleCount
	s.channelNum = channelNum
	s.instant = instant
	s.chEnable = maps.Clone(chEnable)

	size, ok := rawBufferSize(totalSampleCount, channelNum)
	if !ok {
		s.failSetup(fmt.Errorf("%w: %d samples x %d channels", ErrOutOfMemory, totalSampleCount, channelNum))
		return fmt.Errorf("%w: buffer size overflows", ErrMemoryFailed)
	}

	if reAlloc || size != s.capacity {
		applog.Debugf("Snapshot: allocating %d bytes for %d samples x %d channels",
			size, totalSampleCount, channelNum)
		if err := s.allocate(size); err != nil {
			s.failSetup(err)
			return fmt.Errorf("%w: %w", ErrMemoryFailed, err)
		}
	}

	s.indexChannels()
	s.resetCounters()
	s.memoryFailed = false
	s.appendLocked(p)
	s.lastEnded = false
	return nil
}

// AppendPayload ingests one chunk. It is a no-op without channels, without a
// buffer or for an empty chunk.
func (s *ScopeSnapshot) AppendPayload(p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(p)
}

func (s *ScopeSnapshot) appendLocked(p Payload) {
	if s.channelNum == 0 || s.data == nil || p.NumSamples == 0 {
		return
	}

	s.appendData(p.Data, p.NumSamples)

	// A replace-mode chunk rewrites the whole buffer, so nothing from the
	// previous pyramid can be resumed.
	if s.envelopeEn {
		s.buildEnvelope(p.SamplerateChanged || !s.instant)
	}
	s.haveData = true
}

func (s *ScopeSnapshot) appendData(data []byte, samples uint64) {
	ch := uint64(s.channelNum)
	if avail := uint64(len(data)) / ch; samples > avail {
		samples = avail
	}

	if s.instant {
		if s.sampleCount+samples > s.totalSampleCount {
			samples = s.totalSampleCount - s.sampleCount
		}
		copy(s.data[s.sampleCount*ch:], data[:samples*ch])
		s.sampleCount += samples
		return
	}

	if samples > s.totalSampleCount {
		samples = s.totalSampleCount
	}
	copy(s.data, data[:samples*ch])
	s.sampleCount = samples
}

// allocate releases the current buffers and builds a fresh raw buffer plus
// the full envelope skeleton. Caller holds mu and rolls back on error.
func (s *ScopeSnapshot) allocate(size uint64) error {
	s.releaseData()
	s.freeEnvelope()

	if err := s.allocData(size); err != nil {
		return fmt.Errorf("raw buffer of %d bytes: %w", size, err)
	}

	s.levels = make([][ScaleStepCount]Envelope, s.channelNum)
	for i := range s.levels {
		count := s.totalSampleCount / EnvelopeScaleFactor
		for level := range ScaleStepCount {
			count = roundEnvelope(count)
			if err := s.reserveEnvelope(&s.levels[i][level], count); err != nil {
				return fmt.Errorf("envelope channel %d level %d: %w", i, level, err)
			}
			count /= EnvelopeScaleFactor
		}
	}
	return nil
}

// failSetup rolls back a setup pass. Caller holds mu.
func (s *ScopeSnapshot) failSetup(err error) {
	s.releaseData()
	s.freeEnvelope()
	s.memoryFailed = true
	s.envelopeDone = false
	s.haveData = false
	s.chEnable = nil
	applog.Warnf("Snapshot: setup rolled back: %v", err)
}

func (s *ScopeSnapshot) indexChannels() {
	if s.chIndex == nil {
		s.chIndex = make(map[int]int, len(s.chEnable))
	}
	clear(s.chIndex)
	pos := 0
	for _, ordinal := range slices.Sorted(maps.Keys(s.chEnable)) {
		if s.chEnable[ordinal] {
			s.chIndex[ordinal] = pos
			pos++
		}
	}
}

// resetCounters zeroes fill state and envelope lengths, keeping memory.
func (s *ScopeSnapshot) resetCounters() {
	s.sampleCount = 0
	s.ringSampleCount = 0
	s.envelopeDone = false
	for i := range s.levels {
		for level := range s.levels[i] {
			s.levels[i][level].Length = 0
		}
	}
}

// Init resets counters, flags and the enable map without freeing memory.
func (s *ScopeSnapshot) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initAll()
}

func (s *ScopeSnapshot) initAll() {
	s.resetCounters()
	s.memoryFailed = false
	s.lastEnded = true
	s.chEnable = nil
}

// Clear frees every buffer and returns the snapshot to its initial state.
func (s *ScopeSnapshot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseData()
	s.freeEnvelope()
	s.initAll()
	s.haveData = false
}

// ChannelHasData reports whether the channel ordinal was enabled at setup.
func (s *ScopeSnapshot) ChannelHasData(ordinal int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chEnable[ordinal]
}

// EnabledChannels returns a copy of the channel enable map.
func (s *ScopeSnapshot) EnabledChannels() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.chEnable)
}

// Instant reports whether the snapshot is in append-growing mode.
func (s *ScopeSnapshot) Instant() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instant
}

// RawWindow returns a view of channel's samples starting at start.
// Requires start <= end < Size() and a valid channel position.
func (s *ScopeSnapshot) RawWindow(start, end uint64, channel int) (SampleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawWindow(start, end, channel)
}

// CopyWindow appends channel's samples [start, end] to dst while holding the
// snapshot lock. end is clamped to the last stored sample, so a buffer that
// shrank since the caller read Size yields a shorter copy.
func (s *ScopeSnapshot) CopyWindow(start, end uint64, channel int, dst []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleCount > 0 {
		end = min(end, s.sampleCount-1)
	}
	view, err := s.rawWindow(start, end, channel)
	if err != nil {
		return dst, err
	}
	return view.AppendTo(dst), nil
}

func (s *ScopeSnapshot) rawWindow(start, end uint64, channel int) (SampleView, error) {
	if start > end || end >= s.sampleCount || channel < 0 || channel >= s.channelNum {
		return SampleView{}, fmt.Errorf("%w: window [%d, %d] channel %d (size %d, channels %d)",
			ErrOutOfRange, start, end, channel, s.sampleCount, s.channelNum)
	}

	ch := uint64(s.channelNum)
	offset := start*ch + uint64(channel)
	return SampleView{
		Data:   s.data[offset : s.sampleCount*ch],
		Stride: s.channelNum,
		Count:  end - start + 1,
	}, nil
}
