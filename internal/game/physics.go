package game

import (
	"cmp"
	"log"
	"math"
	"slices"

	"broadphase/internal/config"
)

// integrate advances every entity by one step and pushes the new bounds
// into the layers with the velocity as a margin hint.
func (e *Engine) integrate(dt float64) {
	for _, id := range e.order {
		ent := e.entities[id]
		ent.Previous = ent.Position
		stepMotion(ent, e.cfg, dt)
		ent.Age++
		e.syncBounds(ent)
	}
}

// stepMotion applies gravity, drag and the speed limit, then moves the entity.
func stepMotion(ent *Entity, w config.WorldConfig, dt float64) {
	if ent.Gravity {
		ent.Velocity[1] -= w.Gravity * dt
	}
	if !ent.NoDrag && w.Drag > 0 {
		ent.Velocity = ent.Velocity.Mul(math.Max(0, 1-w.Drag*dt))
	}
	if speed := ent.Velocity.Len(); w.MaxSpeed > 0 && speed > w.MaxSpeed {
		ent.Velocity = ent.Velocity.Mul(w.MaxSpeed / speed)
	}

	ent.Position = ent.Position.Add(ent.Velocity.Mul(dt))

	// Projectiles fall through the floor and expire there
	if ent.Kind == KindProjectile {
		return
	}
	if floor := w.FloorY + ent.Half[1]; ent.Position[1] < floor {
		ent.Position[1] = floor
		if ent.Velocity[1] < 0 {
			ent.Velocity[1] = 0
		}
	}
}

func (e *Engine) syncBounds(ent *Entity) {
	if err := e.layers.Entities.UpdateMoving(ent.entityHandle, ent.Hitbox(), ent.Velocity); err != nil {
		log.Printf("⚠️ Entity %d: %v", ent.ID, err)
	}
	if ent.blockHandle.IsZero() {
		return
	}
	if err := e.layers.Colliders.UpdateMoving(ent.blockHandle, ent.BlockCollider(), ent.Velocity); err != nil {
		log.Printf("⚠️ Entity %d collider: %v", ent.ID, err)
	}
}

// detectCollisions reports every overlapping pair of solid entities once,
// lower id first, sorted.
func (e *Engine) detectCollisions() []CollisionPayload {
	var pairs []CollisionPayload
	tree := e.layers.Entities

	for _, id := range e.order {
		ent := e.entities[id]
		if ent.Kind == KindProjectile {
			continue
		}
		for h := range tree.QueryAABB(ent.Hitbox()) {
			other, ok := tree.Payload(h)
			if !ok || other <= id {
				continue
			}
			if e.entities[other].Kind == KindProjectile {
				continue
			}
			pairs = append(pairs, CollisionPayload{A: id, B: other})
		}
	}

	slices.SortFunc(pairs, func(a, b CollisionPayload) int {
		if a.A != b.A {
			return cmp.Compare(a.A, b.A)
		}
		return cmp.Compare(a.B, b.B)
	})
	return pairs
}
