package game

import (
	"log"

	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
)

// BlockPos is an integer block coordinate. The block occupies [pos, pos+1).
type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Box returns the block's box shrunk vertically by tolerance on both ends,
// so an entity standing on the block below does not block the placement.
func (p BlockPos) Box(tolerance float64) spatial.AABB {
	lo := mgl64.Vec3{float64(p.X), float64(p.Y), float64(p.Z)}
	hi := lo.Add(mgl64.Vec3{1, 1, 1})
	lo[1] += tolerance
	hi[1] -= tolerance
	return spatial.NewAABB(lo, hi)
}

// Rejection reasons reported in PlacementPayload
const (
	RejectEntity = "entity"
	RejectRegion = "region"
)

// CheckPlacement reports whether a block could be placed at pos right now.
func (e *Engine) CheckPlacement(pos BlockPos) PlacementPayload {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkPlacement(pos)
}

func (e *Engine) checkPlacement(pos BlockPos) PlacementPayload {
	box := pos.Box(e.cfg.PlaceTolerance)

	if h, ok := e.layers.Colliders.QueryAny(box); ok {
		id, _ := e.layers.Colliders.Payload(h)
		return PlacementPayload{Pos: pos, Reason: RejectEntity, Blocker: uint64(id)}
	}
	if h, ok := e.layers.Regions.QueryAny(box); ok {
		id, _ := e.layers.Regions.Payload(h)
		return PlacementPayload{Pos: pos, Reason: RejectRegion, Blocker: uint64(id)}
	}
	return PlacementPayload{Pos: pos, Accepted: true}
}

func (e *Engine) checkPlacements(places []BlockPos) []PlacementPayload {
	if len(places) == 0 {
		return nil
	}
	out := make([]PlacementPayload, len(places))
	for i, pos := range places {
		out[i] = e.checkPlacement(pos)
	}
	return out
}

func (e *Engine) reserveRegion(tick uint64, id RegionID, box spatial.AABB) {
	if _, exists := e.regions[id]; exists {
		return
	}
	e.regions[id] = e.layers.Regions.Insert(box, id)
	e.emit(NewEvent(EventTypeRegionReserved, tick, 0, RegionPayload{Region: id, Min: box.Min, Max: box.Max}))
}

func (e *Engine) releaseRegion(tick uint64, id RegionID) {
	h, ok := e.regions[id]
	if !ok {
		return
	}
	box, _ := e.layers.Regions.Bounds(h)
	if err := e.layers.Regions.Remove(h); err != nil {
		log.Printf("⚠️ Region %d: %v", id, err)
	}
	delete(e.regions, id)
	e.emit(NewEvent(EventTypeRegionReleased, tick, 0, RegionPayload{Region: id, Min: box.Min, Max: box.Max}))
}
