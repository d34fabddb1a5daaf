package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Projectile system constants
const (
	ProjectileLifetime = 1200 // 60 seconds at 20 TPS
)

var projectileHalfExtents = mgl64.Vec3{0.125, 0.125, 0.125}

// projectileOutcome is what happened to one projectile this tick.
type projectileOutcome struct {
	projectile EntityID
	hit        *HitPayload // nil when nothing was struck
	expired    bool
}

// sweepProjectiles casts each projectile's path for this tick against the
// entities layer. The nearest entity other than the shooter is struck.
func (e *Engine) sweepProjectiles() []projectileOutcome {
	var out []projectileOutcome
	tree := e.layers.Entities

	for _, id := range e.order {
		p := e.entities[id]
		if p.Kind != KindProjectile {
			continue
		}

		path := p.Position.Sub(p.Previous)
		length := path.Len()
		if length > 0 {
			best := HitPayload{Distance: math.Inf(1)}
			for h, dist := range tree.QueryRay(p.Previous, path, length) {
				victim, ok := tree.Payload(h)
				if !ok || victim == id || victim == p.Owner || e.entities[victim].Kind == KindProjectile {
					continue
				}
				if dist < best.Distance || (dist == best.Distance && victim < best.Victim) {
					best.Victim = victim
					best.Distance = dist
				}
			}
			if best.Victim != 0 {
				best.Attacker = p.Owner
				best.Point = p.Previous.Add(path.Mul(best.Distance / length))
				out = append(out, projectileOutcome{projectile: id, hit: &best})
				continue
			}
		}

		if p.Age >= ProjectileLifetime || p.Position[1] < e.cfg.FloorY {
			out = append(out, projectileOutcome{projectile: id, expired: true})
		}
	}
	return out
}

// applyProjectiles despawns projectiles that hit something or expired.
func (e *Engine) applyProjectiles(tick uint64, outcomes []projectileOutcome) {
	for _, o := range outcomes {
		if o.hit != nil {
			e.emit(NewEvent(EventTypeProjectileHit, tick, o.projectile, *o.hit))
			e.removeEntity(tick, o.projectile, "hit")
			continue
		}
		e.removeEntity(tick, o.projectile, "expired")
	}
}
