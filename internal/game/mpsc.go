package game

import (
	"runtime"
	"sync/atomic"
)

// cacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const cacheLineSize = 64

// padding keeps hot counters on separate cache lines (prevents false sharing)
type padding [cacheLineSize]byte

// queueCell carries its own sequence number. A producer may only write a
// cell whose seq equals its claimed position; the consumer may only read it
// once seq == position+1, so a claimed-but-unwritten slot is never observed.
type queueCell[T any] struct {
	seq atomic.Uint64
	val T
}

// CommandQueue is a bounded lock-free MPSC ring buffer (Vyukov style).
// Any number of goroutines may push; only the tick loop pops.
//
// Memory Layout (prevents false sharing):
// [padding][head][padding][tail][padding][cells...]
type CommandQueue[T any] struct {
	_pad0 padding
	head  atomic.Uint64 // next enqueue position
	_pad1 padding
	tail  atomic.Uint64 // next dequeue position
	_pad2 padding
	mask  uint64
	cells []queueCell[T]
}

// NewCommandQueue creates a queue; capacity is rounded up to a power of 2.
func NewCommandQueue[T any](capacity int) *CommandQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &CommandQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]queueCell[T], size),
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds an item. Returns false if the queue is full.
// Lock-free, safe for multiple concurrent producers.
func (q *CommandQueue[T]) TryPush(item T) bool {
	pos := q.head.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()

		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				c.val = item
				c.seq.Store(pos + 1) // publish
				return true
			}
			// Another producer won, retry
			runtime.Gosched()
			pos = q.head.Load()
		case diff < 0:
			return false // full: consumer has not freed this cell yet
		default:
			pos = q.head.Load()
		}
	}
}

// TryPop removes the oldest published item. Single consumer only.
func (q *CommandQueue[T]) TryPop() (T, bool) {
	var zero T

	pos := q.tail.Load()
	c := &q.cells[pos&q.mask]
	if c.seq.Load() != pos+1 {
		return zero, false // empty or producer still writing
	}

	item := c.val
	c.val = zero
	c.seq.Store(pos + q.mask + 1) // free the cell for the next lap
	q.tail.Store(pos + 1)
	return item, true
}

// DrainTo pops up to len(buf) items into buf (zero-alloc batch).
// Returns the number of items written.
func (q *CommandQueue[T]) DrainTo(buf []T) int {
	n := 0
	for n < len(buf) {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		buf[n] = item
		n++
	}
	return n
}

// Len returns the approximate number of queued items.
func (q *CommandQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity.
func (q *CommandQueue[T]) Cap() int {
	return int(q.mask + 1)
}
