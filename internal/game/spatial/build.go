package spatial

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Entry is one object for bulk loading.
type Entry[T any] struct {
	Bounds  AABB
	Payload T
}

// Load inserts many objects at once and rebuilds the hierarchy top-down,
// which gives a better tree than inserting one by one. Handles are returned
// in entry order. Entries with invalid bounds are skipped and get the zero
// Handle.
func (t *Tree[T]) Load(entries []Entry[T]) []Handle {
	out := make([]Handle, len(entries))
	for i, e := range entries {
		b := NewAABB(e.Bounds.Min, e.Bounds.Max)
		if !b.IsValid() {
			continue
		}
		leaf := t.store.alloc()
		h := t.handles.acquire(leaf, e.Payload)

		nd := t.n(leaf)
		nd.tight = b
		nd.bounds = t.cfg.fatten(b, mgl64.Vec3{}, false)
		nd.slot = int32(h.slot)

		out[i] = h
		t.stats.inserts++
	}
	t.Rebuild()
	return out
}

// Rebuild discards every internal node and rebuilds the hierarchy by
// recursive median split along the longest axis of the leaf centroids.
// Handles, payloads and fat boxes are unchanged.
func (t *Tree[T]) Rebuild() {
	t.releaseInternal()

	leaves := make([]int32, 0, t.handles.live)
	for i := range t.handles.slots {
		if n := t.handles.slots[i].node; n != nullNode {
			leaves = append(leaves, n)
		}
	}
	if len(leaves) == 0 {
		t.root = nullNode
		return
	}

	t.root = t.build(leaves)
	t.n(t.root).parent = nullNode
}

// releaseInternal frees every internal node reachable from the root.
func (t *Tree[T]) releaseInternal() {
	if t.root == nullNode {
		return
	}
	stack := []int32{t.root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := t.n(idx)
		if nd.isLeaf() {
			nd.parent = nullNode
			continue
		}
		stack = append(stack, nd.left, nd.right)
		t.store.release(idx)
	}
	t.root = nullNode
}

func (t *Tree[T]) build(leaves []int32) int32 {
	if len(leaves) == 1 {
		return leaves[0]
	}

	c := t.n(leaves[0]).bounds.Center()
	centroids := AABB{Min: c, Max: c}
	for _, l := range leaves[1:] {
		c := t.n(l).bounds.Center()
		centroids = centroids.Union(AABB{Min: c, Max: c})
	}
	ext := centroids.Extent()
	axis := 0
	if ext[1] > ext[axis] {
		axis = 1
	}
	if ext[2] > ext[axis] {
		axis = 2
	}

	sort.Slice(leaves, func(i, j int) bool {
		ci := t.n(leaves[i]).bounds.Center()[axis]
		cj := t.n(leaves[j]).bounds.Center()[axis]
		if ci != cj {
			return ci < cj
		}
		return leaves[i] < leaves[j]
	})

	mid := len(leaves) / 2
	left := t.build(leaves[:mid])
	right := t.build(leaves[mid:])

	p := t.store.alloc()
	nd := t.n(p)
	l, r := t.n(left), t.n(right)
	nd.left = left
	nd.right = right
	nd.bounds = l.bounds.Union(r.bounds)
	nd.height = 1 + max(l.height, r.height)
	l.parent = p
	r.parent = p
	return p
}
