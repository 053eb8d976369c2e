// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"math"
	"time"
)

// Waveform selects the shape a Generator channel produces.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Triangle
)

func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	default:
		return "unknown"
	}
}

// Generator synthesizes interleaved signed 32-bit frames in place of a
// capture device. Channel c plays waveform c%3 at BaseFrequency*(c+1).
type Generator struct {
	SampleRate    float64
	Channels      int
	Frames        int     // frames per buffer
	BaseFrequency float64 // Hz
	Amplitude     float64 // 0..1 of full scale

	pos uint64 // frames generated so far
	buf []int32
}

// NewGenerator returns a generator at 90% full scale with a 440 Hz base.
func NewGenerator(sampleRate float64, channels, frames int) *Generator {
	return &Generator{
		SampleRate:    sampleRate,
		Channels:      channels,
		Frames:        frames,
		BaseFrequency: 440,
		Amplitude:     0.9,
		buf:           make([]int32, frames*channels),
	}
}

// Next fills and returns the next buffer. The slice is reused by the
// following call.
func (g *Generator) Next() []int32 {
	for f := range g.Frames {
		t := float64(g.pos+uint64(f)) / g.SampleRate
		for c := range g.Channels {
			v := wave(Waveform(c%3), g.BaseFrequency*float64(c+1)*t)
			g.buf[f*g.Channels+c] = int32(v * g.Amplitude * math.MaxInt32)
		}
	}
	g.pos += uint64(g.Frames)
	return g.buf
}

// wave evaluates w at cycles (frequency * time), returning -1..1.
func wave(w Waveform, cycles float64) float64 {
	_, frac := math.Modf(cycles)
	switch w {
	case Square:
		if frac < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		return 1 - 4*math.Abs(frac-0.5)
	default:
		return math.Sin(2 * math.Pi * frac)
	}
}

// Run delivers one buffer per buffer period until ctx is cancelled or done
// is closed.
func (g *Generator) Run(ctx context.Context, deliver func([]int32), done <-chan struct{}) error {
	period := time.Duration(float64(time.Second) * float64(g.Frames) / g.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-ticker.C:
			deliver(g.Next())
		}
	}
}
