package spatial

import (
	"iter"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Queries traverse with an explicit per-call stack, so any number of them
// may run in parallel over an unchanging tree. Leaves are tested against the
// object's true bounds, so results never contain margin-only matches.

const stackHint = 64

// QueryAABB yields every object whose true bounds overlap region.
// Touching faces count as overlap. Order is unspecified.
func (t *Tree[T]) QueryAABB(region AABB) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		if t.root == nullNode {
			return
		}

		stack := make([]int32, 0, stackHint)
		stack = append(stack, t.root)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			nd := &t.store.nodes[idx]
			if !nd.bounds.Overlaps(region) {
				continue
			}
			if !nd.isLeaf() {
				stack = append(stack, nd.right, nd.left)
				continue
			}
			if nd.tight.Overlaps(region) {
				if !yield(t.handles.handleOf(nd.slot)) {
					return
				}
			}
		}
	}
}

// QueryAny returns some object overlapping region, if any.
func (t *Tree[T]) QueryAny(region AABB) (Handle, bool) {
	for h := range t.QueryAABB(region) {
		return h, true
	}
	return Handle{}, false
}

// ray is a normalized, length-limited ray.
type ray struct {
	origin mgl64.Vec3
	inv    mgl64.Vec3
	max    float64
}

// newRay normalizes the direction. A non-finite origin, a zero or
// non-finite direction, or a non-positive length gives no ray.
func newRay(origin, direction mgl64.Vec3, maxDistance float64) (ray, bool) {
	if math.IsNaN(maxDistance) || maxDistance <= 0 || !finiteVec(origin) {
		return ray{}, false
	}
	l := direction.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return ray{}, false
	}

	d := direction.Mul(1 / l)
	r := ray{origin: origin, max: maxDistance}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			r.inv[i] = math.Inf(1)
		} else {
			r.inv[i] = 1 / d[i]
		}
	}
	return r, true
}

// clip returns the entry distance into b, clamped to 0 for an origin
// inside the box.
func (r ray) clip(b AABB) (float64, bool) {
	tmin, tmax, ok := b.IntersectRay(r.origin, r.inv)
	if !ok || tmax < 0 || tmin > r.max {
		return 0, false
	}
	return math.Max(tmin, 0), true
}

// QueryRay yields every object whose true bounds the ray enters within
// maxDistance, with the entry distance along the normalized direction.
// Order is unspecified. The direction need not be unit length.
func (t *Tree[T]) QueryRay(origin, direction mgl64.Vec3, maxDistance float64) iter.Seq2[Handle, float64] {
	return func(yield func(Handle, float64) bool) {
		r, ok := newRay(origin, direction, maxDistance)
		if !ok || t.root == nullNode {
			return
		}

		stack := make([]int32, 0, stackHint)
		stack = append(stack, t.root)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			nd := &t.store.nodes[idx]
			if _, hit := r.clip(nd.bounds); !hit {
				continue
			}
			if !nd.isLeaf() {
				stack = append(stack, nd.right, nd.left)
				continue
			}
			if d, hit := r.clip(nd.tight); hit {
				if !yield(t.handles.handleOf(nd.slot), d) {
					return
				}
			}
		}
	}
}

type rayEntry struct {
	idx   int32
	enter float64
}

// QueryRayNearest returns the object with the smallest entry distance.
// Ties go to the lower handle slot.
func (t *Tree[T]) QueryRayNearest(origin, direction mgl64.Vec3, maxDistance float64) (Handle, float64, bool) {
	r, ok := newRay(origin, direction, maxDistance)
	if !ok || t.root == nullNode {
		return Handle{}, 0, false
	}
	enter, hit := r.clip(t.n(t.root).bounds)
	if !hit {
		return Handle{}, 0, false
	}

	best := math.Inf(1)
	bestSlot := nullNode

	stack := make([]rayEntry, 0, stackHint)
	stack = append(stack, rayEntry{t.root, enter})
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.enter > best {
			continue
		}

		nd := &t.store.nodes[e.idx]
		if nd.isLeaf() {
			d, hit := r.clip(nd.tight)
			if hit && (d < best || (d == best && nd.slot < bestSlot)) {
				best = d
				bestSlot = nd.slot
			}
			continue
		}

		dl, okL := r.clip(t.n(nd.left).bounds)
		dr, okR := r.clip(t.n(nd.right).bounds)
		// Push the farther child first so the nearer one is explored first
		switch {
		case okL && okR:
			if dl <= dr {
				stack = append(stack, rayEntry{nd.right, dr}, rayEntry{nd.left, dl})
			} else {
				stack = append(stack, rayEntry{nd.left, dl}, rayEntry{nd.right, dr})
			}
		case okL:
			stack = append(stack, rayEntry{nd.left, dl})
		case okR:
			stack = append(stack, rayEntry{nd.right, dr})
		}
	}

	if bestSlot == nullNode {
		return Handle{}, 0, false
	}
	return t.handles.handleOf(bestSlot), best, true
}
