// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"time"

	"dsoscope/internal/snapshot"
)

// Frame is one drawable picture of the snapshot: a min/max column pair per
// pixel for every channel.
type Frame struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Samples uint64    `json:"samples"`
	Width   int       `json:"width"`
	Traces  []Trace   `json:"traces"`

	Spectrum      []float64 `json:"spectrum,omitempty"`
	PeakFrequency float64   `json:"peak_frequency,omitempty"`
}

// Trace holds the columns of one channel position.
type Trace struct {
	Channel  int   `json:"channel"`
	Envelope bool  `json:"envelope"` // drawn from the pyramid rather than raw samples
	Min      []int `json:"min"`
	Max      []int `json:"max"`
}

// FrameBuilder renders snapshots at a fixed width. Build is not safe for
// concurrent use.
type FrameBuilder struct {
	src   SnapshotReader
	width int
	seq   uint64

	// reused copy buffers
	raw []byte
	env []snapshot.EnvelopeSample

	spectrum        *SpectrumProcessor
	spectrumChannel int
}

// NewFrameBuilder returns a builder producing width columns per trace.
func NewFrameBuilder(src SnapshotReader, width int) *FrameBuilder {
	return &FrameBuilder{src: src, width: max(width, 1)}
}

// WithSpectrum attaches the magnitude spectrum of channel to every frame.
func (b *FrameBuilder) WithSpectrum(p *SpectrumProcessor, channel int) *FrameBuilder {
	b.spectrum = p
	b.spectrumChannel = channel
	return b
}

// Build renders the current snapshot. Wide captures are drawn from the
// envelope section whose entries are no coarser than one column; the partial
// entry at the tail is not drawn. Everything else is drawn from raw samples.
func (b *FrameBuilder) Build() (Frame, error) {
	b.seq++
	size := b.src.Size()
	f := Frame{Seq: b.seq, Time: time.Now(), Samples: size}
	if size == 0 {
		return f, nil
	}

	cols := int(min(uint64(b.width), size))
	f.Width = cols
	perCol := float64(size) / float64(cols)
	useEnvelope := perCol >= snapshot.EnvelopeScaleFactor && b.src.EnvelopeDone()

	for ch := range b.src.ChannelCount() {
		tr := Trace{Channel: ch, Min: make([]int, cols), Max: make([]int, cols)}

		if useEnvelope {
			sec, err := b.src.CopyEnvelopeSection(0, size, perCol, ch, b.env)
			if err != nil {
				return Frame{}, err
			}
			b.env = sec.Samples
			if sec.Length >= uint64(cols) {
				foldColumns(sec.Length, tr, func(i uint64) (uint8, uint8) {
					es := sec.Samples[i]
					return es.Min, es.Max
				})
				tr.Envelope = true
				f.Traces = append(f.Traces, tr)
				continue
			}
		}

		raw, err := b.src.CopyWindow(0, size-1, ch, b.raw[:0])
		if err != nil {
			return Frame{}, err
		}
		b.raw = raw
		foldColumns(uint64(len(raw)), tr, func(i uint64) (uint8, uint8) {
			return raw[i], raw[i]
		})
		f.Traces = append(f.Traces, tr)
	}

	if b.spectrum != nil {
		if err := b.spectrum.Process(b.src, b.spectrumChannel); err != nil {
			return Frame{}, err
		}
		f.Spectrum = b.spectrum.GetMagnitudes()
		f.PeakFrequency = b.spectrum.PeakFrequency()
	}
	return f, nil
}

// foldColumns spreads n values over the trace columns; column j folds values
// [j*n/cols, (j+1)*n/cols).
func foldColumns(n uint64, tr Trace, at func(i uint64) (lo, hi uint8)) {
	cols := uint64(len(tr.Min))
	for j := range cols {
		from, to := j*n/cols, (j+1)*n/cols
		lo, hi := uint8(math.MaxUint8), uint8(0)
		for i := from; i < max(to, from+1); i++ {
			l, h := at(i)
			lo = min(lo, l)
			hi = max(hi, h)
		}
		tr.Min[j], tr.Max[j] = int(lo), int(hi)
	}
}
