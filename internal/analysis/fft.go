// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"dsoscope/internal/log"
	"dsoscope/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	samples   []byte       // Newest raw samples copied out of the snapshot.
	input     []float64    // Buffer for windowed input signal (float64).
	fftOutput []complex128 // Buffer for FFT complex results.
	magnitude []float64    // Buffer for calculated magnitudes.
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.RWMutex // Protects every buffer above.
}

// SpectrumProcessor computes the magnitude spectrum of the newest samples of
// one snapshot channel and serves it via the FFTResultProvider interface.
// Process and the getters may run on different goroutines.
type SpectrumProcessor struct {
	fftCalculator *fourier.FFT // Reusable FFT calculator instance.
	fftSize       int          // Number of points for the FFT (power of 2).
	sampleRate    float64      // Sample rate of the input audio (Hz).
	workspace     fftWorkspace // Pre-allocated buffers.
}

// Compile-time checks for interface implementations.
var _ FFTResultProvider = (*SpectrumProcessor)(nil)

// NewSpectrumProcessor returns a processor for fftSize points (a power of 2).
func NewSpectrumProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*SpectrumProcessor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	fftCalculator := fourier.NewFFT(fftSize)
	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	log.Debugf("Analysis: Initializing SpectrumProcessor (Size: %d, SampleRate: %.1f Hz, Window: %v)", fftSize, sampleRate, windowType)

	return &SpectrumProcessor{
		fftCalculator: fftCalculator,
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		workspace: fftWorkspace{
			samples:   make([]byte, 0, fftSize),
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
			// mu is zero-value ready.
		},
	}, nil
}

// Process transforms the newest fftSize samples of channel. Fewer stored
// samples are zero-padded; an empty snapshot leaves the last result in place.
func (p *SpectrumProcessor) Process(src SnapshotReader, channel int) error {
	size := src.Size()
	if size == 0 {
		return nil
	}
	n := min(size, uint64(p.fftSize))

	p.workspace.mu.Lock() // Lock for writing to workspace buffers.
	defer p.workspace.mu.Unlock()

	samples, err := src.CopyWindow(size-n, size-1, channel, p.workspace.samples[:0])
	if err != nil {
		return fmt.Errorf("spectrum: %w", err)
	}
	p.workspace.samples = samples
	p.transform(samples)
	return nil
}

// transform applies windowing, performs the FFT and calculates magnitudes.
// Caller holds the workspace lock.
func (p *SpectrumProcessor) transform(samples []byte) {
	// --- 1. Prepare Input & Windowing ---
	// Unsigned 8-bit samples centred on 128 map to [-1.0, 1.0).
	const normFactor = 1.0 / 128
	for i := range p.fftSize {
		if i < len(samples) {
			p.workspace.input[i] = (float64(samples[i]) - 128) * normFactor * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0 // Zero-padding.
		}
	}

	// --- 2. Perform FFT --
	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)

	// --- 3. Calculate Magnitudes ---
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c)
	}
}

// GetMagnitudes returns a thread-safe copy of the latest calculated FFT magnitudes.
// NOTE: This method allocates a new slice for the copy on each call.
// For performance-critical readers wanting to avoid allocation, use GetMagnitudesInto.
func (p *SpectrumProcessor) GetMagnitudes() []float64 {
	p.workspace.mu.RLock() // Acquire read lock - multiple readers OK.
	defer p.workspace.mu.RUnlock()

	// Return a *copy* to prevent race conditions if the caller modifies the slice
	// or if Process runs concurrently.
	magCopy := make([]float64, len(p.workspace.magnitude))
	copy(magCopy, p.workspace.magnitude)
	return magCopy
}

// GetMagnitudesInto copies the latest calculated FFT magnitudes into the provided destination slice.
// This method avoids allocation within the function itself, assuming the caller provides
// a destination slice of the correct size. It is intended for performance-critical readers.
// The destination slice must have the same length as the internal magnitude buffer (fftSize/2 + 1).
func (p *SpectrumProcessor) GetMagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock() // Acquire read lock.
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		// Consider returning the required size?
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dest), len(p.workspace.magnitude))
	}

	copy(dest, p.workspace.magnitude)
	return nil
}

// GetFrequencyForBin returns the center frequency (Hz) for a given FFT bin index.
// Implements the analysis.FFTResultProvider interface.
func (p *SpectrumProcessor) GetFrequencyForBin(binIndex int) float64 {
	// Length is fixed after creation.
	outputLen := len(p.workspace.fftOutput)

	if binIndex < 0 || binIndex >= outputLen {
		return 0.0
	}

	// Frequency resolution = sampleRate / fftSize
	// Bin frequency = binIndex * frequencyResolution
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

// GetFFTSize returns the configured FFT size (number of points).
// Implements the analysis.FFTResultProvider interface.
func (p *SpectrumProcessor) GetFFTSize() int {
	return p.fftSize // Immutable after creation, no lock needed.
}

// GetSampleRate returns the configured sample rate (Hz).
// Implements the analysis.FFTResultProvider interface.
func (p *SpectrumProcessor) GetSampleRate() float64 {
	return p.sampleRate // Immutable after creation, no lock needed.
}

// PeakFrequency returns the frequency of the strongest bin above DC.
func (p *SpectrumProcessor) PeakFrequency() float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	peak := 1
	for i := 2; i < len(p.workspace.magnitude); i++ {
		if p.workspace.magnitude[i] > p.workspace.magnitude[peak] {
			peak = i
		}
	}
	return p.GetFrequencyForBin(peak)
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow applies the selected window function to the coefficient slice,
// returns the modified slice. Returns the Hann window by default if the type is unknown.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// Initialize coeffs with 1.0 before applying window,  otherwise window funcs might
	// multiply by zero if the slice wasn't initialized.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
