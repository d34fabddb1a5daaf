package spatial

import (
	"fmt"
	"iter"

	"github.com/go-gl/mathgl/mgl64"
)

// Tree is a dynamic AABB tree (bounding volume hierarchy) over payloads of
// type T. Leaves store a fattened copy of each object's box so that small
// moves are absorbed without restructuring.
//
// Concurrency: a Tree has no internal locking. Insert, Update, UpdateMoving,
// Remove, Load, Rebuild and Clear need exclusive access. Any number of
// queries may run in parallel as long as no mutation runs at the same time.
// A lazy query sequence must not be iterated across a mutation.
type Tree[T any] struct {
	cfg     Config
	store   nodeStore
	handles handleTable[T]
	root    int32
	stats   counters
}

// counters are cumulative mutation statistics.
type counters struct {
	inserts        uint64
	removes        uint64
	reinserts      uint64
	inPlaceUpdates uint64
	rotations      uint64
}

// Stats is a point-in-time summary of a tree.
type Stats struct {
	Leaves         int    `json:"leaves"`
	Nodes          int    `json:"nodes"`
	Height         int    `json:"height"`
	Inserts        uint64 `json:"inserts"`
	Removes        uint64 `json:"removes"`
	Reinserts      uint64 `json:"reinserts"`
	InPlaceUpdates uint64 `json:"inPlaceUpdates"`
	Rotations      uint64 `json:"rotations"`
}

// NewTree creates an empty tree.
func NewTree[T any](cfg Config) *Tree[T] {
	cfg = cfg.sanitize()
	id := treeIDs.Add(1)
	return &Tree[T]{
		cfg:     cfg,
		store:   newNodeStore(2*cfg.InitialCapacity - 1),
		handles: newHandleTable[T](id, cfg.InitialCapacity),
		root:    nullNode,
	}
}

// Config returns the margin configuration in use.
func (t *Tree[T]) Config() Config {
	return t.cfg
}

// n returns a pointer into the arena. It must be re-fetched after alloc.
func (t *Tree[T]) n(idx int32) *node {
	return &t.store.nodes[idx]
}

// Len returns the number of live objects.
func (t *Tree[T]) Len() int {
	return t.handles.live
}

// Height returns the number of edges on the longest root-to-leaf path.
// An empty tree and a single leaf both have height 0.
func (t *Tree[T]) Height() int {
	if t.root == nullNode {
		return 0
	}
	return int(t.n(t.root).height)
}

// Stats returns size and mutation counters.
func (t *Tree[T]) Stats() Stats {
	return Stats{
		Leaves:         t.handles.live,
		Nodes:          t.store.used,
		Height:         t.Height(),
		Inserts:        t.stats.inserts,
		Removes:        t.stats.removes,
		Reinserts:      t.stats.reinserts,
		InPlaceUpdates: t.stats.inPlaceUpdates,
		Rotations:      t.stats.rotations,
	}
}

// Insert adds an object with its true bounds and returns its handle. Bounds
// or velocities that are not finite are refused with the zero Handle, which
// is never valid.
func (t *Tree[T]) Insert(bounds AABB, payload T) Handle {
	return t.insert(bounds, payload, mgl64.Vec3{}, false)
}

// InsertMoving is Insert with a velocity hint for MarginVelocity trees.
func (t *Tree[T]) InsertMoving(bounds AABB, payload T, velocity mgl64.Vec3) Handle {
	return t.insert(bounds, payload, velocity, true)
}

func (t *Tree[T]) insert(bounds AABB, payload T, velocity mgl64.Vec3, hasVelocity bool) Handle {
	bounds = NewAABB(bounds.Min, bounds.Max)
	if !bounds.IsValid() || !finiteVec(velocity) {
		return Handle{}
	}

	leaf := t.store.alloc()
	h := t.handles.acquire(leaf, payload)

	nd := t.n(leaf)
	nd.tight = bounds
	nd.bounds = t.cfg.fatten(bounds, velocity, hasVelocity)
	nd.slot = int32(h.slot)

	t.insertLeaf(leaf)
	t.stats.inserts++
	return h
}

// Remove deletes the object. Invalid handles leave the tree untouched.
func (t *Tree[T]) Remove(h Handle) error {
	leaf, ok := t.handles.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}

	t.removeLeaf(leaf)
	t.store.release(leaf)
	t.handles.release(h)
	t.stats.removes++
	return nil
}

// Update records new true bounds for the object. If they still fit inside
// the stored fat box only the true box changes; otherwise the leaf is
// reinserted with a fresh margin. Non-finite bounds return ErrInvalidBounds
// and leave the object where it was.
func (t *Tree[T]) Update(h Handle, bounds AABB) error {
	return t.update(h, bounds, mgl64.Vec3{}, false)
}

// UpdateMoving is Update with a velocity hint, used by MarginVelocity trees
// to stretch the fresh fat box along the direction of travel.
func (t *Tree[T]) UpdateMoving(h Handle, bounds AABB, velocity mgl64.Vec3) error {
	return t.update(h, bounds, velocity, true)
}

func (t *Tree[T]) update(h Handle, bounds AABB, velocity mgl64.Vec3, hasVelocity bool) error {
	leaf, ok := t.handles.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	bounds = NewAABB(bounds.Min, bounds.Max)
	if !bounds.IsValid() || !finiteVec(velocity) {
		return fmt.Errorf("%w: %v", ErrInvalidBounds, bounds)
	}

	nd := t.n(leaf)
	fresh := t.cfg.fatten(bounds, velocity, hasVelocity)
	if nd.bounds.Contains(bounds) && !t.cfg.oversized(nd.bounds, fresh, bounds) {
		nd.tight = bounds
		t.stats.inPlaceUpdates++
		return nil
	}

	t.removeLeaf(leaf)
	nd = t.n(leaf)
	nd.tight = bounds
	nd.bounds = fresh
	t.insertLeaf(leaf)
	t.stats.reinserts++
	return nil
}

// IsValid reports whether h refers to a live object of this tree.
func (t *Tree[T]) IsValid(h Handle) bool {
	_, ok := t.handles.lookup(h)
	return ok
}

// Bounds returns the true bounds last supplied for the object.
func (t *Tree[T]) Bounds(h Handle) (AABB, error) {
	leaf, ok := t.handles.lookup(h)
	if !ok {
		return AABB{}, fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	return t.n(leaf).tight, nil
}

// FatBounds returns the margined box the tree stores for the object.
func (t *Tree[T]) FatBounds(h Handle) (AABB, error) {
	leaf, ok := t.handles.lookup(h)
	if !ok {
		return AABB{}, fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	return t.n(leaf).bounds, nil
}

// Payload returns the payload stored with the object.
func (t *Tree[T]) Payload(h Handle) (T, bool) {
	if _, ok := t.handles.lookup(h); !ok {
		var zero T
		return zero, false
	}
	return t.handles.slots[h.slot].payload, true
}

// All iterates every live object in handle-slot order.
func (t *Tree[T]) All() iter.Seq2[Handle, T] {
	return func(yield func(Handle, T) bool) {
		for i := range t.handles.slots {
			s := &t.handles.slots[i]
			if s.node == nullNode {
				continue
			}
			if !yield(t.handles.handleOf(int32(i)), s.payload) {
				return
			}
		}
	}
}

// Clear removes every object. All outstanding handles become invalid.
func (t *Tree[T]) Clear() {
	t.handles.reset()
	t.store.reset()
	t.root = nullNode
}

// insertLeaf links a detached leaf into the hierarchy.
func (t *Tree[T]) insertLeaf(leaf int32) {
	if t.root == nullNode {
		t.root = leaf
		t.n(leaf).parent = nullNode
		return
	}

	box := t.n(leaf).bounds
	sibling := t.pickSibling(box)

	oldParent := t.n(sibling).parent
	parent := t.store.alloc()

	p := t.n(parent)
	s := t.n(sibling)
	p.parent = oldParent
	p.bounds = box.Union(s.bounds)
	p.height = s.height + 1
	p.left = sibling
	p.right = leaf
	s.parent = parent
	t.n(leaf).parent = parent

	if oldParent == nullNode {
		t.root = parent
	} else {
		op := t.n(oldParent)
		if op.left == sibling {
			op.left = parent
		} else {
			op.right = parent
		}
	}

	t.refit(parent)
}

// pickSibling walks down from the root with the surface-area heuristic and
// returns the node the new leaf should be paired with.
func (t *Tree[T]) pickSibling(box AABB) int32 {
	return t.siblingFrom(t.root, box)
}

// siblingFrom runs the sibling search starting at idx. The cost at each
// level only depends on that node, so the search from any subtree root picks
// the same sibling a search from the tree root would once it got there.
func (t *Tree[T]) siblingFrom(idx int32, box AABB) int32 {
	for {
		cur := t.n(idx)
		if cur.isLeaf() {
			return idx
		}

		area := cur.bounds.SurfaceArea()
		combined := mergedArea(cur.bounds, box)

		// Cost of pairing the leaf with this whole subtree
		here := 2 * combined
		// Every ancestor below this point grows by at least this much
		inherited := 2 * (combined - area)

		costL := t.descendCost(cur.left, box, inherited)
		costR := t.descendCost(cur.right, box, inherited)

		if here < costL && here < costR {
			return idx
		}
		idx = t.cheaperChild(cur.left, cur.right, box, costL, costR)
	}
}

// descendCost is the union cost of placing the new box under child.
func (t *Tree[T]) descendCost(child int32, box AABB, inherited float64) float64 {
	c := t.n(child)
	if c.isLeaf() {
		return mergedArea(c.bounds, box) + inherited
	}
	return mergedArea(c.bounds, box) - c.bounds.SurfaceArea() + inherited
}

// cheaperChild breaks cost ties by the lower height the child's subtree
// would have after taking the new box, then by node index.
func (t *Tree[T]) cheaperChild(left, right int32, box AABB, costL, costR float64) int32 {
	switch {
	case costL < costR:
		return left
	case costR < costL:
		return right
	}
	hl, hr := t.heightAfterInsert(left, box), t.heightAfterInsert(right, box)
	switch {
	case hl < hr:
		return left
	case hr < hl:
		return right
	}
	if right < left {
		return right
	}
	return left
}

// heightAfterInsert is the height sub would have if the box were inserted
// below it. The tree is not modified.
func (t *Tree[T]) heightAfterInsert(sub int32, box AABB) int32 {
	idx := t.siblingFrom(sub, box)
	h := t.n(idx).height + 1
	for idx != sub {
		parent := t.n(idx).parent
		p := t.n(parent)
		other := p.left
		if other == idx {
			other = p.right
		}
		h = 1 + max(h, t.n(other).height)
		idx = parent
	}
	return h
}

// removeLeaf unlinks a leaf; its parent is freed and the sibling takes the
// grandparent's slot. The leaf node itself stays allocated.
func (t *Tree[T]) removeLeaf(leaf int32) {
	if leaf == t.root {
		t.root = nullNode
		return
	}

	parent := t.n(leaf).parent
	p := t.n(parent)
	grand := p.parent
	sibling := p.left
	if sibling == leaf {
		sibling = p.right
	}

	if grand == nullNode {
		t.root = sibling
		t.n(sibling).parent = nullNode
		t.store.release(parent)
	} else {
		g := t.n(grand)
		if g.left == parent {
			g.left = sibling
		} else {
			g.right = sibling
		}
		t.n(sibling).parent = grand
		t.store.release(parent)
		t.refit(grand)
	}

	t.n(leaf).parent = nullNode
}

// refit walks to the root rebalancing and recomputing bounds and heights.
func (t *Tree[T]) refit(idx int32) {
	for idx != nullNode {
		idx = t.balance(idx)

		nd := t.n(idx)
		l := t.n(nd.left)
		r := t.n(nd.right)
		nd.height = 1 + max(l.height, r.height)
		nd.bounds = l.bounds.Union(r.bounds)

		idx = nd.parent
	}
}
