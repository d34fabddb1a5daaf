// Package spatial provides the broad-phase spatial index for the world:
// a dynamic bounding volume hierarchy over axis-aligned boxes.
//
// All structures use preallocated slices with integer indices (not pointers)
// to minimize GC pressure and keep parent/child links trivially relocatable.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AABB is an axis-aligned bounding box. It is a value type; every method
// returns a new box and never mutates the receiver.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// NewAABB builds a box from two opposite corners in any order.
func NewAABB(a, b mgl64.Vec3) AABB {
	return AABB{
		Min: mgl64.Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])},
		Max: mgl64.Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])},
	}
}

// BoxAround returns a box of the given half extents centred on c.
func BoxAround(c, halfExtents mgl64.Vec3) AABB {
	return NewAABB(c.Sub(halfExtents), c.Add(halfExtents))
}

func finiteVec(v mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}

// IsValid reports whether the box has finite coordinates and Min <= Max.
func (a AABB) IsValid() bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(a.Min[i]) || math.IsNaN(a.Max[i]) ||
			math.IsInf(a.Min[i], 0) || math.IsInf(a.Max[i], 0) {
			return false
		}
		if a.Min[i] > a.Max[i] {
			return false
		}
	}
	return true
}

// Union returns the smallest box containing both boxes.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		Min: mgl64.Vec3{math.Min(a.Min[0], b.Min[0]), math.Min(a.Min[1], b.Min[1]), math.Min(a.Min[2], b.Min[2])},
		Max: mgl64.Vec3{math.Max(a.Max[0], b.Max[0]), math.Max(a.Max[1], b.Max[1]), math.Max(a.Max[2], b.Max[2])},
	}
}

// Overlaps reports whether the boxes intersect. Touching faces count.
func (a AABB) Overlaps(b AABB) bool {
	return a.Max[0] >= b.Min[0] && a.Min[0] <= b.Max[0] &&
		a.Max[1] >= b.Min[1] && a.Min[1] <= b.Max[1] &&
		a.Max[2] >= b.Min[2] && a.Min[2] <= b.Max[2]
}

// Contains reports whether b lies entirely inside a (boundaries inclusive).
func (a AABB) Contains(b AABB) bool {
	return a.Min[0] <= b.Min[0] && a.Min[1] <= b.Min[1] && a.Min[2] <= b.Min[2] &&
		a.Max[0] >= b.Max[0] && a.Max[1] >= b.Max[1] && a.Max[2] >= b.Max[2]
}

// ContainsPoint reports whether p lies inside the box (boundaries inclusive).
func (a AABB) ContainsPoint(p mgl64.Vec3) bool {
	return p[0] >= a.Min[0] && p[0] <= a.Max[0] &&
		p[1] >= a.Min[1] && p[1] <= a.Max[1] &&
		p[2] >= a.Min[2] && p[2] <= a.Max[2]
}

// Extent returns the size of the box along each axis.
func (a AABB) Extent() mgl64.Vec3 {
	return a.Max.Sub(a.Min)
}

// Center returns the midpoint of the box.
func (a AABB) Center() mgl64.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

// SurfaceArea is the cost metric used by insertion and rotation.
func (a AABB) SurfaceArea() float64 {
	d := a.Extent()
	return 2 * (d[0]*d[1] + d[1]*d[2] + d[2]*d[0])
}

// Volume returns the box volume.
func (a AABB) Volume() float64 {
	d := a.Extent()
	return d[0] * d[1] * d[2]
}

// Expand grows the box by margin on every side. Negative components shrink
// it; callers are responsible for not inverting the box.
func (a AABB) Expand(margin mgl64.Vec3) AABB {
	return AABB{Min: a.Min.Sub(margin), Max: a.Max.Add(margin)}
}

// Translate moves the box by d.
func (a AABB) Translate(d mgl64.Vec3) AABB {
	return AABB{Min: a.Min.Add(d), Max: a.Max.Add(d)}
}

// DistanceSquaredToPoint returns the squared distance from p to the closest
// point of the box, 0 when p is inside.
func (a AABB) DistanceSquaredToPoint(p mgl64.Vec3) float64 {
	var d2 float64
	for i := 0; i < 3; i++ {
		if p[i] < a.Min[i] {
			d := a.Min[i] - p[i]
			d2 += d * d
		} else if p[i] > a.Max[i] {
			d := p[i] - a.Max[i]
			d2 += d * d
		}
	}
	return d2
}

// IntersectRay clips the ray origin + t*dir against the box with the slab
// method. invDir holds 1/dir per component (±Inf for zero components).
// It returns the entry and exit parameters and whether the interval is
// non-empty; tmin may be negative when the origin is inside the box.
func (a AABB) IntersectRay(origin, invDir mgl64.Vec3) (tmin, tmax float64, ok bool) {
	tmin = math.Inf(-1)
	tmax = math.Inf(1)

	for i := 0; i < 3; i++ {
		if math.IsInf(invDir[i], 0) {
			// Ray parallel to this slab: it must already be between the planes
			if origin[i] < a.Min[i] || origin[i] > a.Max[i] {
				return 0, 0, false
			}
			continue
		}
		t1 := (a.Min[i] - origin[i]) * invDir[i]
		t2 := (a.Max[i] - origin[i]) * invDir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, 0, false
		}
	}

	return tmin, tmax, true
}

// mergedArea is the surface area of a.Union(b) without building the box.
func mergedArea(a, b AABB) float64 {
	dx := math.Max(a.Max[0], b.Max[0]) - math.Min(a.Min[0], b.Min[0])
	dy := math.Max(a.Max[1], b.Max[1]) - math.Min(a.Min[1], b.Min[1])
	dz := math.Max(a.Max[2], b.Max[2]) - math.Min(a.Min[2], b.Min[2])
	return 2 * (dx*dy + dy*dz + dz*dx)
}
