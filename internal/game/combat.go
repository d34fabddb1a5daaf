package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// attackIntent is a melee swing waiting for the read phase.
type attackIntent struct {
	attacker EntityID
	dir      mgl64.Vec3
}

// resolveMelee casts each swing from the attacker's eye and keeps the
// closest solid entity within reach. Ties go to the lower id.
func (e *Engine) resolveMelee(attacks []attackIntent) []HitPayload {
	if len(attacks) == 0 {
		return nil
	}

	hits := make([]HitPayload, 0, len(attacks))
	tree := e.layers.Entities
	for _, a := range attacks {
		attacker, ok := e.entities[a.attacker]
		if !ok || a.dir.Len() == 0 {
			continue
		}
		origin := attacker.Eye()

		best := HitPayload{Distance: math.Inf(1)}
		for h, dist := range tree.QueryRay(origin, a.dir, e.cfg.ReachDistance) {
			id, ok := tree.Payload(h)
			if !ok || id == a.attacker || e.entities[id].Kind == KindProjectile {
				continue
			}
			if dist < best.Distance || (dist == best.Distance && id < best.Victim) {
				best.Victim = id
				best.Distance = dist
			}
		}
		if best.Victim == 0 {
			continue
		}

		best.Attacker = a.attacker
		best.Point = origin.Add(a.dir.Normalize().Mul(best.Distance))
		hits = append(hits, best)
	}
	return hits
}

// applyMelee commits hits in swing order, enforcing the per-attacker cooldown.
func (e *Engine) applyMelee(tick uint64, hits []HitPayload) {
	for _, hit := range hits {
		attacker, ok := e.entities[hit.Attacker]
		if !ok {
			continue
		}
		if int64(tick)-attacker.lastHitTick < int64(e.cfg.HitCooldownTicks) {
			continue
		}
		if _, ok := e.entities[hit.Victim]; !ok {
			continue
		}
		attacker.lastHitTick = int64(tick)
		e.emit(NewEvent(EventTypeMeleeHit, tick, hit.Attacker, hit))
	}
}
