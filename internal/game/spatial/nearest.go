package spatial

import (
	"container/heap"

	"github.com/go-gl/mathgl/mgl64"
)

// nearestItem is either an unexpanded node keyed by a lower bound on the
// distance of anything below it, or a leaf keyed by its exact distance.
type nearestItem struct {
	dist  float64
	idx   int32
	slot  int32
	exact bool
}

// nearestQueue is a min-heap ordered by distance. On equal distance nodes
// come before exact leaves so that every tie is resolved by slot.
type nearestQueue []nearestItem

func (q nearestQueue) Len() int { return len(q) }

func (q nearestQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.exact != b.exact {
		return !a.exact
	}
	if a.exact {
		return a.slot < b.slot
	}
	return a.idx < b.idx
}

func (q nearestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nearestQueue) Push(x any) { *q = append(*q, x.(nearestItem)) }

func (q *nearestQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// walkNearest visits leaves in non-decreasing squared distance from point,
// ties by slot, until visit returns false.
func (t *Tree[T]) walkNearest(point mgl64.Vec3, visit func(slot int32, distSq float64) bool) {
	if t.root == nullNode {
		return
	}

	q := make(nearestQueue, 0, stackHint)
	q = append(q, nearestItem{dist: t.n(t.root).bounds.DistanceSquaredToPoint(point), idx: t.root})

	for q.Len() > 0 {
		it := heap.Pop(&q).(nearestItem)
		if it.exact {
			if !visit(it.slot, it.dist) {
				return
			}
			continue
		}

		nd := &t.store.nodes[it.idx]
		if nd.isLeaf() {
			heap.Push(&q, nearestItem{
				dist:  nd.tight.DistanceSquaredToPoint(point),
				idx:   it.idx,
				slot:  nd.slot,
				exact: true,
			})
			continue
		}
		for _, c := range [2]int32{nd.left, nd.right} {
			heap.Push(&q, nearestItem{dist: t.n(c).bounds.DistanceSquaredToPoint(point), idx: c})
		}
	}
}

// QueryNearest returns up to k objects ordered by the distance from point to
// their true bounds, nearest first. A point inside a box has distance 0. A
// non-finite point has no neighbours.
func (t *Tree[T]) QueryNearest(point mgl64.Vec3, k int) []Handle {
	if k <= 0 || t.root == nullNode || !finiteVec(point) {
		return nil
	}
	k = min(k, t.handles.live)

	out := make([]Handle, 0, k)
	t.walkNearest(point, func(slot int32, _ float64) bool {
		out = append(out, t.handles.handleOf(slot))
		return len(out) < k
	})
	return out
}

// Closest returns the single nearest object and its squared distance.
func (t *Tree[T]) Closest(point mgl64.Vec3) (Handle, float64, bool) {
	var (
		h     Handle
		d2    float64
		found bool
	)
	if !finiteVec(point) {
		return h, d2, false
	}
	t.walkNearest(point, func(slot int32, distSq float64) bool {
		h, d2, found = t.handles.handleOf(slot), distSq, true
		return false
	})
	return h, d2, found
}
