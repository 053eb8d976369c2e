// SPDX-License-Identifier: MIT
package snapshot

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrOutOfMemory is returned by a MemoryPool that cannot grant a reservation.
var ErrOutOfMemory = errors.New("snapshot: memory budget exhausted")

// MemoryPool accounts for every byte a snapshot allocates. A reservation must
// succeed before the backing slice is made, and every reservation is handed
// back through Release when the slice is dropped.
type MemoryPool interface {
	Reserve(n uint64) error
	Release(n uint64)
}

// Budget is a MemoryPool with an optional upper bound. It is safe for
// concurrent use so several snapshots can share one budget.
type Budget struct {
	limit uint64 // 0 means unbounded
	inUse atomic.Uint64
}

// NewBudget returns a pool that refuses reservations past limit bytes.
// A limit of 0 only rejects sizes that cannot be allocated at all.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Reserve charges n bytes against the budget.
func (b *Budget) Reserve(n uint64) error {
	if n > math.MaxInt {
		return fmt.Errorf("%w: %d bytes exceeds addressable size", ErrOutOfMemory, n)
	}
	for {
		cur := b.inUse.Load()
		next := cur + n
		if next < cur {
			return fmt.Errorf("%w: reservation of %d bytes overflows", ErrOutOfMemory, n)
		}
		if b.limit != 0 && next > b.limit {
			return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrOutOfMemory, n, cur, b.limit)
		}
		if b.inUse.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Release returns n bytes to the budget. Releasing more than is in use
// clamps at zero.
func (b *Budget) Release(n uint64) {
	for {
		cur := b.inUse.Load()
		next := uint64(0)
		if n < cur {
			next = cur - n
		}
		if b.inUse.CompareAndSwap(cur, next) {
			return
		}
	}
}

// InUse reports the bytes currently reserved.
func (b *Budget) InUse() uint64 {
	return b.inUse.Load()
}

// Limit reports the configured bound, 0 when unbounded.
func (b *Budget) Limit() uint64 {
	return b.limit
}

var _ MemoryPool = (*Budget)(nil)
