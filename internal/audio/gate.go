// SPDX-License-Identifier: MIT
package audio

import "math"

func (e *Engine) EnableGate() {
	e.gateEnabled = true
}

func (e *Engine) DisableGate() {
	e.gateEnabled = false
}

// SetGateThreshold adjusts the trigger gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	e.gateThreshold = int32(threshold * float64(math.MaxInt32))
}

// GetGateThreshold returns the current trigger gate threshold as a float64.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) GetGateThreshold() float64 {
	return float64(e.gateThreshold) / float64(math.MaxInt32)
}

// gateOpen reports whether a frame may reach the snapshot.
func (e *Engine) gateOpen(buffer []int32) bool {
	return !e.gateEnabled || peakAmplitude(buffer) > e.gateThreshold
}

// peakAmplitude returns the largest absolute sample without branching.
// math.MinInt32 maps to itself and so never opens the gate on its own.
func peakAmplitude(buffer []int32) int32 {
	var maxAmplitude int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask

		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}
