/*
Package bitint provides the integer sizing helpers used by the snapshot
store and the spectrum processor: power-of-2 checks for FFT sizes and
envelope scale factors, and granular round-up for buffer allocation.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Round an envelope length up to the allocation unit
	entries := bitint.RoundUp(1000, 4096) // Returns 4096

	// Find next power of 2 for an FFT size
	fftSize := bitint.NextPowerOfTwo(1000) // Returns 1024

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo returns the next power of 2 greater than or
	equal to size. For powers of 2, it returns the same value.

	The subtraction (size-1) is critical, without the subtraction,
	powers of 2 would be incorrectly doubled.

	WITH subtraction (correct):
	- For input 8 (already a power of 2):
	  size-1 = 7 (binary 0111)
	  bits.Len64(7) = 3
	  1 << 3 = 8

	WITHOUT subtraction (incorrect):
	- For input 8:
	  bits.Len64(8) = 4
	  1 << 4 = 16

	RoundUp rounds n up to the next multiple of unit. When unit is a
	power of 2 the division collapses to a mask.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return int(1 << bits.Len64(uint64(size-1)))
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because:
//   - Powers of 2 have exactly one bit set
//   - Subtracting 1 from a power of 2 sets all lower bits
//   - AND operation will be 0 only for powers of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// IsPowerOfTwo64 is IsPowerOfTwo for unsigned 64-bit sizes.
func IsPowerOfTwo64(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// RoundUp returns the smallest multiple of unit that is >= n.
// A unit of 0 returns n unchanged. Zero rounds to zero.
//
// Examples:
//
//	n     unit  Output
//	0     4096  0
//	1     4096  4096
//	4096  4096  4096
//	4097  4096  8192
//	10    3     12
func RoundUp(n, unit uint64) uint64 {
	if unit == 0 {
		return n
	}
	if IsPowerOfTwo64(unit) {
		return (n + unit - 1) &^ (unit - 1)
	}
	return ((n + unit - 1) / unit) * unit
}
