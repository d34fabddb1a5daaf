package game

import (
	"math"

	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
)

// Hit is one query result in API form.
type Hit struct {
	Layer    string     `json:"layer" msgpack:"layer"`
	ID       uint64     `json:"id" msgpack:"id"`
	Handle   string     `json:"handle" msgpack:"handle"`
	Distance float64    `json:"distance,omitempty" msgpack:"distance,omitempty"`
	Min      mgl64.Vec3 `json:"min" msgpack:"min"`
	Max      mgl64.Vec3 `json:"max" msgpack:"max"`
}

// QueryRegion returns up to limit leaves of layer overlapping box.
// A limit of zero or less means no limit.
func (e *Engine) QueryRegion(layer string, box spatial.AABB, limit int) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch layer {
	case LayerEntities:
		return regionHits(layer, e.layers.Entities, box, limit), nil
	case LayerColliders:
		return regionHits(layer, e.layers.Colliders, box, limit), nil
	case LayerRegions:
		return regionHits(layer, e.layers.Regions, box, limit), nil
	default:
		return nil, ErrUnknownLayer
	}
}

// QueryRay returns leaves of layer hit by the ray, in no particular order,
// or only the closest one when nearest is set.
func (e *Engine) QueryRay(layer string, origin, dir mgl64.Vec3, maxDistance float64, nearest bool) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch layer {
	case LayerEntities:
		return rayHits(layer, e.layers.Entities, origin, dir, maxDistance, nearest), nil
	case LayerColliders:
		return rayHits(layer, e.layers.Colliders, origin, dir, maxDistance, nearest), nil
	case LayerRegions:
		return rayHits(layer, e.layers.Regions, origin, dir, maxDistance, nearest), nil
	default:
		return nil, ErrUnknownLayer
	}
}

// QueryNearest returns the k leaves of layer closest to point, nearest first.
func (e *Engine) QueryNearest(layer string, point mgl64.Vec3, k int) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch layer {
	case LayerEntities:
		return nearestHits(layer, e.layers.Entities, point, k), nil
	case LayerColliders:
		return nearestHits(layer, e.layers.Colliders, point, k), nil
	case LayerRegions:
		return nearestHits(layer, e.layers.Regions, point, k), nil
	default:
		return nil, ErrUnknownLayer
	}
}

// Dump returns the node list of one layer.
func (e *Engine) Dump(layer string) ([]spatial.NodeDump, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch layer {
	case LayerEntities:
		return e.layers.Entities.Dump(), nil
	case LayerColliders:
		return e.layers.Colliders.Dump(), nil
	case LayerRegions:
		return e.layers.Regions.Dump(), nil
	default:
		return nil, ErrUnknownLayer
	}
}

// Validate runs the full invariant check on every layer. Nil entries are healthy.
func (e *Engine) Validate() map[string]error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.validateAll()
}

// Stats returns the current per-layer statistics.
func (e *Engine) Stats() map[string]spatial.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layerStats()
}

// Entity returns a copy of one entity's state.
func (e *Engine) Entity(id EntityID) (EntitySnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.entities[id]
	if !ok {
		return EntitySnapshot{}, false
	}
	return ent.snapshot(), true
}

// EntityCount returns the number of live entities.
func (e *Engine) EntityCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entities)
}

func toHit[T ~uint64](layer string, t *spatial.Tree[T], h spatial.Handle, dist float64) Hit {
	id, _ := t.Payload(h)
	box, _ := t.Bounds(h)
	return Hit{Layer: layer, ID: uint64(id), Handle: h.String(), Distance: dist, Min: box.Min, Max: box.Max}
}

func regionHits[T ~uint64](layer string, t *spatial.Tree[T], box spatial.AABB, limit int) []Hit {
	hits := []Hit{}
	for h := range t.QueryAABB(box) {
		hits = append(hits, toHit(layer, t, h, 0))
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits
}

func rayHits[T ~uint64](layer string, t *spatial.Tree[T], origin, dir mgl64.Vec3, maxDistance float64, nearest bool) []Hit {
	hits := []Hit{}
	if nearest {
		if h, dist, ok := t.QueryRayNearest(origin, dir, maxDistance); ok {
			hits = append(hits, toHit(layer, t, h, dist))
		}
		return hits
	}
	for h, dist := range t.QueryRay(origin, dir, maxDistance) {
		hits = append(hits, toHit(layer, t, h, dist))
	}
	return hits
}

func nearestHits[T ~uint64](layer string, t *spatial.Tree[T], point mgl64.Vec3, k int) []Hit {
	hits := []Hit{}
	for _, h := range t.QueryNearest(point, k) {
		box, _ := t.Bounds(h)
		hits = append(hits, toHit(layer, t, h, math.Sqrt(box.DistanceSquaredToPoint(point))))
	}
	return hits
}
