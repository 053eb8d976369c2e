// SPDX-License-Identifier: MIT
package snapshot

import "fmt"

const (
	// LeafBlockPower is log2 of LeafBlockSize.
	LeafBlockPower = 21
	// LeafBlockSize is the byte length of every leaf block but the last.
	LeafBlockSize = 1 << LeafBlockPower

	leafMask = LeafBlockSize - 1
)

// BlockCount returns how many leaf blocks the stored samples split into.
func (s *ScopeSnapshot) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockCount()
}

func (s *ScopeSnapshot) storedBytes() uint64 {
	return s.sampleCount * uint64(s.unitSize) * uint64(s.channelNum)
}

func (s *ScopeSnapshot) blockCount() int {
	size := s.storedBytes()
	n := size >> LeafBlockPower
	if size&leafMask != 0 {
		n++
	}
	return int(n)
}

// BlockSize returns the byte length of block index, 0 when out of range.
func (s *ScopeSnapshot) BlockSize(index int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockSize(index)
}

func (s *ScopeSnapshot) blockSize(index int) uint64 {
	n := s.blockCount()
	if index < 0 || index >= n {
		return 0
	}
	if index < n-1 {
		return LeafBlockSize
	}
	if rem := s.storedBytes() & leafMask; rem != 0 {
		return rem
	}
	return LeafBlockSize
}

// Block returns the bytes of leaf block index. The slice aliases the raw
// buffer and must be consumed before the next mutating call.
func (s *ScopeSnapshot) Block(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := s.blockSize(index)
	if size == 0 {
		return nil, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, index, s.blockCount())
	}
	off := uint64(index) << LeafBlockPower
	return s.data[off : off+size : off+size], nil
}
