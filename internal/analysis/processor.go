// SPDX-License-Identifier: MIT
package analysis

import "dsoscope/internal/snapshot"

// SnapshotReader is the query side of a sample snapshot. Every method
// finishes with the snapshot's memory before returning, so the analysis
// components can run while acquisition keeps writing.
// *snapshot.ScopeSnapshot implements it.
type SnapshotReader interface {
	Size() uint64
	ChannelCount() int
	RMS(zeroOffset float64, channel int) float64
	Mean(channel int) float64
	Extremes(channel int) (lo, hi uint8, err error)
	CopyWindow(start, end uint64, channel int, dst []byte) ([]byte, error)
	CopyEnvelopeSection(start, end uint64, minLength float64, channel int, dst []snapshot.EnvelopeSample) (snapshot.EnvelopeSection, error)
	EnvelopeDone() bool
}

// FFTResultProvider defines an interface for components that can provide FFT magnitude results.
// This decouples consumers (the monitor, frame publishers) from the specific FFT implementation.
type FFTResultProvider interface {
	GetMagnitudes() []float64                // GetMagnitudes returns a thread-safe copy of the latest FFT magnitude spectrum.
	GetFrequencyForBin(binIndex int) float64 // GetFrequencyForBin returns the center frequency (Hz) for a given FFT bin index.
	GetFFTSize() int                         // GetFFTSize returns the size (number of points) of the FFT.
	GetSampleRate() float64                  // GetSampleRate returns the sample rate used for the FFT analysis.
}

var _ SnapshotReader = (*snapshot.ScopeSnapshot)(nil)
