package game

import (
	"time"

	"broadphase/internal/game/spatial"
)

// MaxSnapshotEntities caps the entity list copied into a snapshot
// (prevents memory attacks through huge broadcasts)
const MaxSnapshotEntities = 2000

// RegionSnapshot is an immutable copy of a reserved region.
type RegionSnapshot struct {
	ID  RegionID     `json:"id" msgpack:"id"`
	Box spatial.AABB `json:"box" msgpack:"box"`
}

// Snapshot is a complete immutable view of the world after a tick.
// Readers obtain it without taking the engine lock.
type Snapshot struct {
	Session    string                   `json:"session" msgpack:"session"`
	TickNumber uint64                   `json:"tick" msgpack:"tick"`
	Timestamp  time.Time                `json:"timestamp" msgpack:"timestamp"`
	Entities   []EntitySnapshot         `json:"entities" msgpack:"entities"`
	Regions    []RegionSnapshot         `json:"regions" msgpack:"regions"`
	Layers     map[string]spatial.Stats `json:"layers" msgpack:"layers"`

	// Aggregate stats
	EntityCount int  `json:"entityCount" msgpack:"entityCount"`
	Truncated   bool `json:"truncated" msgpack:"truncated"`
}

// buildSnapshot copies world state. Caller holds the lock.
func (e *Engine) buildSnapshot(tick uint64, stats map[string]spatial.Stats) *Snapshot {
	n := min(len(e.order), MaxSnapshotEntities)
	snap := &Snapshot{
		Session:     e.session,
		TickNumber:  tick,
		Timestamp:   time.Now(),
		Entities:    make([]EntitySnapshot, 0, n),
		Regions:     make([]RegionSnapshot, 0, len(e.regions)),
		Layers:      stats,
		EntityCount: len(e.order),
		Truncated:   len(e.order) > n,
	}
	for _, id := range e.order[:n] {
		snap.Entities = append(snap.Entities, e.entities[id].snapshot())
	}
	for h, id := range e.layers.Regions.All() {
		box, _ := e.layers.Regions.Bounds(h)
		snap.Regions = append(snap.Regions, RegionSnapshot{ID: id, Box: box})
	}
	return snap
}

// Snapshot returns the latest published snapshot. Never nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}
