package game

import (
	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
)

// EntityID identifies a simulated entity. IDs are never reused.
type EntityID uint64

// RegionID identifies an in-progress construction region.
type RegionID uint64

// EntityKind selects how an entity takes part in the tick.
type EntityKind uint8

const (
	KindMob EntityKind = iota
	KindPlayer
	KindProjectile
	KindFallingBlock
)

func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindProjectile:
		return "projectile"
	case KindFallingBlock:
		return "falling_block"
	default:
		return "mob"
	}
}

// ParseEntityKind maps an API name to a kind.
func ParseEntityKind(name string) (EntityKind, bool) {
	switch name {
	case "mob", "":
		return KindMob, true
	case "player":
		return KindPlayer, true
	case "projectile":
		return KindProjectile, true
	case "falling_block":
		return KindFallingBlock, true
	default:
		return KindMob, false
	}
}

// SpawnSpec describes a new entity.
type SpawnSpec struct {
	Kind        EntityKind
	Position    mgl64.Vec3 // Centre of the hitbox
	Velocity    mgl64.Vec3
	HalfExtents mgl64.Vec3 // Hitbox half size; zero means a 0.3×0.9×0.3 default
	Gravity     bool
	NoDrag      bool
	EyeHeight   float64 // Offset of the eye above the centre, for melee rays

	// Collider overrides the box used in the block-collision layer,
	// relative to Position. Nil uses the hitbox.
	Collider *spatial.AABB

	Owner EntityID // Shooter of a projectile
}

var defaultHalfExtents = mgl64.Vec3{0.3, 0.9, 0.3}

// Entity is the engine-owned state of one simulated object.
// Only the tick loop mutates it.
type Entity struct {
	ID        EntityID
	Kind      EntityKind
	Position  mgl64.Vec3
	Previous  mgl64.Vec3 // Position before the last integration step
	Velocity  mgl64.Vec3
	Half      mgl64.Vec3
	Gravity   bool
	NoDrag    bool
	EyeHeight float64
	Collider  *spatial.AABB
	Owner     EntityID
	Age       int // Ticks alive

	lastHitTick  int64
	entityHandle spatial.Handle // Entities layer
	blockHandle  spatial.Handle // Colliders layer
}

func newEntity(id EntityID, spec SpawnSpec) *Entity {
	half := spec.HalfExtents
	if half == (mgl64.Vec3{}) {
		half = defaultHalfExtents
	}
	return &Entity{
		ID:          id,
		Kind:        spec.Kind,
		Position:    spec.Position,
		Previous:    spec.Position,
		Velocity:    spec.Velocity,
		Half:        half,
		Gravity:     spec.Gravity,
		NoDrag:      spec.NoDrag,
		EyeHeight:   spec.EyeHeight,
		Collider:    spec.Collider,
		Owner:       spec.Owner,
		lastHitTick: -1 << 62,
	}
}

// Hitbox is the entity's true box in the Entities layer.
func (e *Entity) Hitbox() spatial.AABB {
	return spatial.BoxAround(e.Position, e.Half)
}

// BlockCollider is the entity's true box in the Colliders layer.
func (e *Entity) BlockCollider() spatial.AABB {
	if e.Collider != nil {
		return e.Collider.Translate(e.Position)
	}
	return e.Hitbox()
}

// Eye is the melee ray origin.
func (e *Entity) Eye() mgl64.Vec3 {
	return e.Position.Add(mgl64.Vec3{0, e.EyeHeight, 0})
}

// EntitySnapshot is an immutable copy of entity state for readers.
type EntitySnapshot struct {
	ID       EntityID   `json:"id" msgpack:"id"`
	Kind     string     `json:"kind" msgpack:"kind"`
	Position mgl64.Vec3 `json:"position" msgpack:"position"`
	Velocity mgl64.Vec3 `json:"velocity" msgpack:"velocity"`
	Min      mgl64.Vec3 `json:"min" msgpack:"min"`
	Max      mgl64.Vec3 `json:"max" msgpack:"max"`
	Age      int        `json:"age" msgpack:"age"`
}

func (e *Entity) snapshot() EntitySnapshot {
	box := e.Hitbox()
	return EntitySnapshot{
		ID:       e.ID,
		Kind:     e.Kind.String(),
		Position: e.Position,
		Velocity: e.Velocity,
		Min:      box.Min,
		Max:      box.Max,
		Age:      e.Age,
	}
}
