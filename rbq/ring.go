// Package rbq is a bounded single-producer single-consumer ring.
package rbq

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Ring is safe for one producer and one consumer running concurrently.
// Several producers must serialize Enqueue among themselves.
type Ring[T any] struct {
	// head and tail sit on separate cache lines
	head  atomic.Uint64
	_pad1 [56]byte
	tail  atomic.Uint64
	_pad2 [56]byte

	buf  []T
	mask uint64
}

// New allocates a ring holding at least size items, rounded up to a power
// of two.
func New[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	n := uint64(1) << bits.Len64(uint64(size-1))
	return &Ring[T]{buf: make([]T, n), mask: n - 1}
}

// Enqueue returns false when the ring is full.
func (q *Ring[T]) Enqueue(v T) bool {
	h := q.head.Load()
	if h-q.tail.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[h&q.mask] = v
	q.head.Store(h + 1)
	return true
}

// Dequeue returns false when the ring is empty.
func (q *Ring[T]) Dequeue() (T, bool) {
	var zero T
	t := q.tail.Load()
	if t == q.head.Load() {
		return zero, false
	}
	v := q.buf[t&q.mask]
	q.buf[t&q.mask] = zero
	q.tail.Store(t + 1)
	return v, true
}

func (q *Ring[T]) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

func (q *Ring[T]) Cap() int {
	return len(q.buf)
}

func (q *Ring[T]) String() string {
	return fmt.Sprintf("ring{len=%d, cap=%d, head=%d, tail=%d}",
		q.Len(), q.Cap(), q.head.Load(), q.tail.Load())
}
