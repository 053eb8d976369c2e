// SPDX-License-Identifier: MIT
package snapshot

import (
	"fmt"
	"math"

	applog "dsoscope/internal/log"
	"dsoscope/pkg/bitint"
)

const (
	// EnvelopeScalePower is log2 of the downsampling factor between levels.
	EnvelopeScalePower = 8
	// EnvelopeScaleFactor is the number of entries folded into one entry of the next level.
	EnvelopeScaleFactor = 1 << EnvelopeScalePower
	// EnvelopeDataUnit is the allocation granularity of a level, in entries.
	EnvelopeDataUnit = 4 * 1024
	// ScaleStepCount is the number of pyramid levels per channel.
	ScaleStepCount = 10

	envelopeSampleBytes = 2
	// maxSectionLevel keeps (level+1)*EnvelopeScalePower below 64.
	maxSectionLevel = 64/EnvelopeScalePower - 2
)

var logEnvelopeScaleFactor = math.Log(EnvelopeScaleFactor)

// EnvelopeSample is the minimum and maximum of the samples one entry covers.
type EnvelopeSample struct {
	Min uint8
	Max uint8
}

// Envelope is one pyramid level of one channel.
type Envelope struct {
	Length     uint64 // valid entries
	DataLength uint64 // allocated entries, a multiple of EnvelopeDataUnit
	Samples    []EnvelopeSample
}

// EnvelopeSection is a slice of one level covering a requested sample range.
// Entry i summarises samples [Start+i*Scale, Start+(i+1)*Scale).
type EnvelopeSection struct {
	Start   uint64
	Scale   uint64
	Length  uint64
	Samples []EnvelopeSample
}

func roundEnvelope(n uint64) uint64 {
	return bitint.RoundUp(n, EnvelopeDataUnit)
}

// reserveEnvelope charges and allocates count entries for env. Caller holds mu.
func (s *ScopeSnapshot) reserveEnvelope(env *Envelope, count uint64) error {
	bytes := count * envelopeSampleBytes
	if err := s.pool.Reserve(bytes); err != nil {
		return err
	}
	env.Samples = make([]EnvelopeSample, count)
	env.DataLength = count
	env.Length = 0
	s.envelopeBytes += bytes
	return nil
}

// growEnvelope makes room for need entries, keeping the valid prefix.
// Levels never shrink.
func (s *ScopeSnapshot) growEnvelope(env *Envelope, need uint64) error {
	if need <= env.DataLength {
		return nil
	}
	newLen := roundEnvelope(need)
	delta := (newLen - env.DataLength) * envelopeSampleBytes
	if err := s.pool.Reserve(delta); err != nil {
		return fmt.Errorf("growing envelope to %d entries: %w", newLen, err)
	}
	samples := make([]EnvelopeSample, newLen)
	copy(samples, env.Samples[:env.Length])
	env.Samples = samples
	env.DataLength = newLen
	s.envelopeBytes += delta
	return nil
}

func (s *ScopeSnapshot) freeEnvelope() {
	s.pool.Release(s.envelopeBytes)
	s.envelopeBytes = 0
	s.levels = nil
	s.envelopeDone = false
}

// buildEnvelope folds the raw buffer into every channel's pyramid. With
// header set each channel is rebuilt from offset 0, otherwise only entries
// past the previous level lengths are computed. Caller holds mu.
func (s *ScopeSnapshot) buildEnvelope(header bool) {
	if s.data == nil || s.channelNum == 0 || len(s.levels) != s.channelNum {
		return
	}
	for pos := range s.levels {
		if err := s.buildChannelEnvelope(pos, header); err != nil {
			s.memoryFailed = true
			s.envelopeDone = false
			applog.Warnf("Snapshot: envelope channel %d: %v", pos, err)
			return
		}
	}
	s.envelopeDone = true
}

func (s *ScopeSnapshot) buildChannelEnvelope(pos int, header bool) error {
	lv := &s.levels[pos]
	stride := uint64(s.channelNum)

	length := s.sampleCount / EnvelopeScaleFactor
	from := lv[0].Length
	if header || from > length {
		from = 0
	}
	if err := s.growEnvelope(&lv[0], length); err != nil {
		return err
	}
	dst := lv[0].Samples
	for e := from; e < length; e++ {
		off := e*EnvelopeScaleFactor*stride + uint64(pos)
		lo, hi := s.data[off], s.data[off]
		for k := uint64(1); k < EnvelopeScaleFactor; k++ {
			v := s.data[off+k*stride]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		dst[e] = EnvelopeSample{Min: lo, Max: hi}
	}
	lv[0].Length = length

	for level := 1; level < ScaleStepCount; level++ {
		below := &lv[level-1]
		cur := &lv[level]
		length = below.Length / EnvelopeScaleFactor
		if length == 0 {
			for l := level; l < ScaleStepCount; l++ {
				lv[l].Length = 0
			}
			break
		}
		from = cur.Length
		if header || from > length {
			from = 0
		}
		if err := s.growEnvelope(cur, length); err != nil {
			return err
		}
		src, dst := below.Samples, cur.Samples
		for e := from; e < length; e++ {
			chunk := src[e*EnvelopeScaleFactor : (e+1)*EnvelopeScaleFactor]
			folded := chunk[0]
			for _, es := range chunk[1:] {
				folded.Min = min(folded.Min, es.Min)
				folded.Max = max(folded.Max, es.Max)
			}
			dst[e] = folded
		}
		cur.Length = length
	}
	return nil
}

// EnableEnvelope turns pyramid maintenance on or off. Turning it on while the
// pyramid is incomplete rebuilds it from the start of the buffer. Turning it
// off marks the pyramid incomplete since later appends are not folded in.
func (s *ScopeSnapshot) EnableEnvelope(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enable && !s.envelopeDone {
		s.buildEnvelope(true)
	}
	if !enable {
		s.envelopeDone = false
	}
	s.envelopeEn = enable
}

// EnvelopeEnabled reports whether appends are folded into the pyramid.
func (s *ScopeSnapshot) EnvelopeEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envelopeEn
}

// EnvelopeDone reports whether the pyramid covers the whole buffer.
func (s *ScopeSnapshot) EnvelopeDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envelopeDone
}

// EnvelopeLevel returns the valid and allocated entry counts of one level.
// Unknown channels or levels report zero.
func (s *ScopeSnapshot) EnvelopeLevel(channel, level int) (length, dataLength uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel < 0 || channel >= len(s.levels) || level < 0 || level >= ScaleStepCount {
		return 0, 0
	}
	env := &s.levels[channel][level]
	return env.Length, env.DataLength
}

// sectionLevel picks the coarsest level whose entries are still finer than
// minLength samples.
func sectionLevel(minLength float64) int {
	level := int(math.Floor(math.Log(minLength)/logEnvelopeScaleFactor)) - 1
	return min(max(level, 0), maxSectionLevel, ScaleStepCount-1)
}

// EnvelopeSection returns the entries of the level best suited to draw
// samples [start, end] of channel at minLength samples per entry. An
// incomplete pyramid yields an empty section and no error.
func (s *ScopeSnapshot) EnvelopeSection(start, end uint64, minLength float64, channel int) (EnvelopeSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envelopeSection(start, end, minLength, channel)
}

// CopyEnvelopeSection is EnvelopeSection with the entries copied into dst
// (reusing its capacity) while the lock is held. end is clamped to Size.
func (s *ScopeSnapshot) CopyEnvelopeSection(start, end uint64, minLength float64, channel int, dst []EnvelopeSample) (EnvelopeSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, err := s.envelopeSection(start, min(end, s.sampleCount), minLength, channel)
	if err != nil {
		return sec, err
	}
	sec.Samples = append(dst[:0], sec.Samples...)
	return sec, nil
}

func (s *ScopeSnapshot) envelopeSection(start, end uint64, minLength float64, channel int) (EnvelopeSection, error) {
	if !s.envelopeDone || s.sampleCount == 0 {
		return EnvelopeSection{}, nil
	}
	if start > end || end > s.sampleCount || !(minLength > 0) || channel < 0 || channel >= len(s.levels) {
		return EnvelopeSection{}, fmt.Errorf("%w: section [%d, %d] min %g channel %d (size %d)",
			ErrOutOfRange, start, end, minLength, channel, s.sampleCount)
	}

	level := sectionLevel(minLength)
	scalePower := uint((level + 1) * EnvelopeScalePower)
	first := start >> scalePower
	last := end >> scalePower

	sec := EnvelopeSection{
		Start: first << scalePower,
		Scale: 1 << scalePower,
	}
	env := &s.levels[channel][level]
	if env.Length == 0 || first >= env.Length {
		return sec, nil
	}
	last = min(last, env.Length)
	sec.Length = last - first
	sec.Samples = env.Samples[first:last:last]
	return sec, nil
}
