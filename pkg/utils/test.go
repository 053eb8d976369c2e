package utils

import (
	"math"
	"sync"
)

// MockTransport implements the Transport interface for testing.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send records v for later inspection instead of transmitting.
func (m *MockTransport) Send(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, v)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Last returns the most recent value sent, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func GenerateComplexWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateSineBytes returns a full-scale sine as unsigned 8-bit samples
// centred on 128.
func GenerateSineBytes(size int, sampleRate, frequency float64) []byte {
	buffer := make([]byte, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = byte(math.Round(127.5 + 127.5*math.Sin(2*math.Pi*frequency*t)))
	}
	return buffer
}

// Interleave merges equally long channels into one channel-interleaved buffer.
func Interleave(channels ...[]byte) []byte {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]byte, n*len(channels))
	for c, ch := range channels {
		for i := range n {
			out[i*len(channels)+c] = ch[i]
		}
	}
	return out
}

func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
