package spatial

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidHandle is returned for stale, zero, or foreign handles.
// Callers should drop their reference (or re-fetch) and carry on.
var ErrInvalidHandle = errors.New("spatial: invalid handle")

// ErrInvalidBounds is returned for boxes or velocities with NaN or infinite
// components.
var ErrInvalidBounds = errors.New("spatial: invalid bounds")

// treeIDs hands out process-unique tree identifiers so a handle from one
// tree is rejected by every other tree.
var treeIDs atomic.Uint32

// Handle is the stable external identifier of a tree-resident object.
// It stays valid across any internal restructuring and becomes invalid
// forever once the object is removed.
type Handle struct {
	tree uint32
	slot uint32
	gen  uint32
}

// IsZero reports whether h is the zero Handle, which is never valid.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// String formats the handle for logs and errors.
func (h Handle) String() string {
	return fmt.Sprintf("h%d:%d@%d", h.tree, h.slot, h.gen)
}

// handleSlot maps one external handle to its leaf node.
// gen is bumped on every release; gen 0 is never handed out.
type handleSlot[T any] struct {
	gen      uint32
	node     int32 // leaf node index, nullNode when free
	nextFree int32
	payload  T
}

// handleTable is a slot map: live slots point at leaves, freed slots form
// a LIFO free list and are reused with a new generation.
type handleTable[T any] struct {
	tree  uint32
	slots []handleSlot[T]
	free  int32
	live  int
}

func newHandleTable[T any](tree uint32, capacity int) handleTable[T] {
	return handleTable[T]{
		tree:  tree,
		slots: make([]handleSlot[T], 0, capacity),
		free:  nullNode,
	}
}

// acquire binds a new handle to the leaf node.
func (ht *handleTable[T]) acquire(node int32, payload T) Handle {
	var slot int32
	if ht.free != nullNode {
		slot = ht.free
		ht.free = ht.slots[slot].nextFree
	} else {
		slot = int32(len(ht.slots))
		ht.slots = append(ht.slots, handleSlot[T]{gen: 0})
	}

	s := &ht.slots[slot]
	s.gen++
	if s.gen == 0 {
		s.gen = 1 // skip the zero generation on wrap-around
	}
	s.node = node
	s.nextFree = nullNode
	s.payload = payload
	ht.live++

	return Handle{tree: ht.tree, slot: uint32(slot), gen: s.gen}
}

// lookup returns the leaf node of a live handle.
func (ht *handleTable[T]) lookup(h Handle) (int32, bool) {
	if h.tree != ht.tree || h.gen == 0 || int(h.slot) >= len(ht.slots) {
		return nullNode, false
	}
	s := &ht.slots[h.slot]
	if s.gen != h.gen || s.node == nullNode {
		return nullNode, false
	}
	return s.node, true
}

// release frees the slot; the bumped generation makes h stale immediately.
func (ht *handleTable[T]) release(h Handle) {
	s := &ht.slots[h.slot]
	var zero T
	s.payload = zero
	s.node = nullNode
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.nextFree = ht.free
	ht.free = int32(h.slot)
	ht.live--
}

// handleOf rebuilds the current handle of a live slot.
func (ht *handleTable[T]) handleOf(slot int32) Handle {
	return Handle{tree: ht.tree, slot: uint32(slot), gen: ht.slots[slot].gen}
}

func (ht *handleTable[T]) reset() {
	for i := range ht.slots {
		if ht.slots[i].node != nullNode {
			ht.release(ht.handleOf(int32(i)))
		}
	}
}
