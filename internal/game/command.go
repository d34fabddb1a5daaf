package game

import (
	"errors"
	"math"

	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrQueueFull is returned when the tick loop has not drained enough commands yet.
	ErrQueueFull = errors.New("game: command queue full")
	// ErrEntityLimit is returned when spawning would exceed MaxEntities.
	ErrEntityLimit = errors.New("game: entity limit reached")
	// ErrInvalidRegion is returned for reservations with NaN or infinite bounds.
	ErrInvalidRegion = errors.New("game: invalid region bounds")
	// ErrInvalidSpawn is returned for non-finite positions, extents, velocities
	// or collider boxes.
	ErrInvalidSpawn = errors.New("game: invalid spawn")
	// ErrUnknownLayer is returned by debug helpers for a layer name that does not exist.
	ErrUnknownLayer = errors.New("game: unknown layer")
)

// CommandKind selects what a queued command does.
type CommandKind uint8

const (
	CmdSpawn CommandKind = iota
	CmdDespawn
	CmdSetVelocity
	CmdAttack
	CmdFire
	CmdPlace
	CmdReserve
	CmdRelease
)

func (k CommandKind) String() string {
	switch k {
	case CmdSpawn:
		return "spawn"
	case CmdDespawn:
		return "despawn"
	case CmdSetVelocity:
		return "set_velocity"
	case CmdAttack:
		return "attack"
	case CmdFire:
		return "fire"
	case CmdPlace:
		return "place"
	case CmdReserve:
		return "reserve"
	case CmdRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Command is one request from outside the tick loop.
// Fields are interpreted per Kind; unused ones stay zero.
type Command struct {
	Kind   CommandKind
	Entity EntityID   // Target, attacker, or the id assigned to a spawn
	Source EntityID   // Shooter for CmdFire
	Spawn  SpawnSpec  // CmdSpawn, CmdFire
	Vector mgl64.Vec3 // Velocity for CmdSetVelocity, look direction for CmdAttack
	Block  BlockPos   // CmdPlace
	Region RegionID   // CmdReserve, CmdRelease
	Box    spatial.AABB
}

func (e *Engine) enqueue(cmd Command) error {
	if !e.commands.TryPush(cmd) {
		return ErrQueueFull
	}
	return nil
}

// Spawn queues a new entity. The id is assigned immediately and the entity
// joins the world at the start of the next tick.
func (e *Engine) Spawn(spec SpawnSpec) (EntityID, error) {
	if !finite(spec.Position) || !finite(spec.HalfExtents) || !finite(spec.Velocity) {
		return 0, ErrInvalidSpawn
	}
	if spec.Collider != nil && !spec.Collider.IsValid() {
		return 0, ErrInvalidSpawn
	}
	if !e.reserveSlot() {
		return 0, ErrEntityLimit
	}
	id := EntityID(e.nextEntity.Add(1))
	if err := e.enqueue(Command{Kind: CmdSpawn, Entity: id, Spawn: spec}); err != nil {
		e.population.Add(-1)
		return 0, err
	}
	return id, nil
}

// Despawn queues removal of an entity. Unknown ids are ignored by the tick.
func (e *Engine) Despawn(id EntityID) error {
	return e.enqueue(Command{Kind: CmdDespawn, Entity: id})
}

// SetVelocity replaces an entity's velocity on the next tick.
func (e *Engine) SetVelocity(id EntityID, v mgl64.Vec3) error {
	if !finite(v) {
		return ErrInvalidSpawn
	}
	return e.enqueue(Command{Kind: CmdSetVelocity, Entity: id, Vector: v})
}

// Attack queues a melee swing from the attacker's eye along dir.
func (e *Engine) Attack(attacker EntityID, dir mgl64.Vec3) error {
	return e.enqueue(Command{Kind: CmdAttack, Entity: attacker, Vector: dir})
}

// Fire launches a projectile from the shooter's eye with the given velocity.
func (e *Engine) Fire(shooter EntityID, velocity mgl64.Vec3) (EntityID, error) {
	if !finite(velocity) {
		return 0, ErrInvalidSpawn
	}
	if !e.reserveSlot() {
		return 0, ErrEntityLimit
	}
	id := EntityID(e.nextEntity.Add(1))
	spec := SpawnSpec{
		Kind:        KindProjectile,
		Velocity:    velocity,
		HalfExtents: projectileHalfExtents,
		Gravity:     true,
		Owner:       shooter,
	}
	if err := e.enqueue(Command{Kind: CmdFire, Entity: id, Source: shooter, Spawn: spec}); err != nil {
		e.population.Add(-1)
		return 0, err
	}
	return id, nil
}

// Place queues a block placement; the outcome is reported as an event.
func (e *Engine) Place(pos BlockPos) error {
	return e.enqueue(Command{Kind: CmdPlace, Block: pos})
}

// Reserve queues an in-progress construction region.
func (e *Engine) Reserve(box spatial.AABB) (RegionID, error) {
	box = spatial.NewAABB(box.Min, box.Max)
	if !box.IsValid() {
		return 0, ErrInvalidRegion
	}
	id := RegionID(e.nextRegion.Add(1))
	if err := e.enqueue(Command{Kind: CmdReserve, Region: id, Box: box}); err != nil {
		return 0, err
	}
	return id, nil
}

// Release queues removal of a construction region.
func (e *Engine) Release(id RegionID) error {
	return e.enqueue(Command{Kind: CmdRelease, Region: id})
}

func (e *Engine) reserveSlot() bool {
	if e.population.Add(1) > int64(e.cfg.MaxEntities) {
		e.population.Add(-1)
		return false
	}
	return true
}

func finite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
