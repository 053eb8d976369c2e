// SPDX-License-Identifier: MIT
package snapshot

import (
	"fmt"
	"math"
)

// VrmsScaleFactor is the chunk length, in samples, of the running
// statistics accumulation.
const VrmsScaleFactor = 1 << 8

// RMS returns the root-mean-square deviation of channel from zeroOffset over
// every stored sample. channel is taken modulo ChannelCount. Each chunk's
// contribution is normalised before it is added to the running total.
func (s *ScopeSnapshot) RMS(zeroOffset float64, channel int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return math.Sqrt(s.accumulate(channel, func(v uint8) float64 {
		d := zeroOffset - float64(v)
		return d * d
	}))
}

// Mean returns the arithmetic mean of channel over every stored sample.
func (s *ScopeSnapshot) Mean(channel int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulate(channel, func(v uint8) float64 { return float64(v) })
}

// accumulate walks channel in VrmsScaleFactor sized chunks and returns
// sum(f(v))/sampleCount. Caller holds mu.
func (s *ScopeSnapshot) accumulate(channel int, f func(uint8) float64) float64 {
	if s.data == nil || s.channelNum == 0 || s.sampleCount == 0 || channel < 0 {
		return 0
	}
	stride := uint64(s.channelNum)
	pos := uint64(channel) % stride
	n := float64(s.sampleCount)

	var acc float64
	for chunk := uint64(0); chunk < s.sampleCount; chunk += VrmsScaleFactor {
		stop := min(chunk+VrmsScaleFactor, s.sampleCount)
		var sum float64
		for i := chunk; i < stop; i++ {
			sum += f(s.data[i*stride+pos])
		}
		acc += sum / n
	}
	return acc
}

// Extremes returns the smallest and largest stored sample of channel. With a
// complete pyramid the whole level-0 entries are folded and only the samples
// past the last entry are scanned.
func (s *ScopeSnapshot) Extremes(channel int) (lo, hi uint8, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil || s.sampleCount == 0 || channel < 0 || channel >= s.channelNum {
		return 0, 0, fmt.Errorf("%w: extremes of channel %d (size %d, channels %d)",
			ErrOutOfRange, channel, s.sampleCount, s.channelNum)
	}

	lo, hi = math.MaxUint8, 0
	var covered uint64
	if s.envelopeDone && channel < len(s.levels) {
		env := &s.levels[channel][0]
		for _, es := range env.Samples[:env.Length] {
			lo = min(lo, es.Min)
			hi = max(hi, es.Max)
		}
		covered = env.Length * EnvelopeScaleFactor
	}

	stride := uint64(s.channelNum)
	for i := covered; i < s.sampleCount; i++ {
		v := s.data[i*stride+uint64(channel)]
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, nil
}
