package game

import (
	"encoding/json"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary with per-layer tree stats
	EventTypeSpawn
	EventTypeDespawn
	EventTypeEntityCollision
	EventTypeMeleeHit
	EventTypeProjectileHit
	EventTypePlaceAccepted
	EventTypePlaceRejected
	EventTypeRegionReserved
	EventTypeRegionReleased
	EventTypeValidationFailed
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	Session   string          `json:"session"`   // Engine session id
	TickNum   uint64          `json:"tickNum"`   // Tick this occurred in
	Source    EntityID        `json:"source"`    // Originating entity (for rate limiting), 0 for world events
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeSpawn:
		return "spawn"
	case EventTypeDespawn:
		return "despawn"
	case EventTypeEntityCollision:
		return "entity_collision"
	case EventTypeMeleeHit:
		return "melee_hit"
	case EventTypeProjectileHit:
		return "projectile_hit"
	case EventTypePlaceAccepted:
		return "place_accepted"
	case EventTypePlaceRejected:
		return "place_rejected"
	case EventTypeRegionReserved:
		return "region_reserved"
	case EventTypeRegionReleased:
		return "region_released"
	case EventTypeValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// MarshalText lets the type appear by name in JSON.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText reads a type name back; unknown names decode as EventTypeUnknown.
func (t *EventType) UnmarshalText(text []byte) error {
	name := string(text)
	for typ := EventTypeTick; typ <= EventTypeValidationFailed; typ++ {
		if typ.String() == name {
			*t = typ
			return nil
		}
	}
	*t = EventTypeUnknown
	return nil
}

// Typed payloads for different event types

// TickPayload contains tick boundary information
type TickPayload struct {
	Entities    int   `json:"entities"`
	Reinserts   int   `json:"reinserts"`
	DeltaTimeNs int64 `json:"deltaTimeNs"`
}

// SpawnPayload contains spawn details
type SpawnPayload struct {
	Kind     string     `json:"kind"`
	Position mgl64.Vec3 `json:"position"`
	Owner    EntityID   `json:"owner,omitempty"`
}

// DespawnPayload contains despawn details
type DespawnPayload struct {
	Reason string `json:"reason"`
}

// CollisionPayload is one overlapping entity pair, A < B
type CollisionPayload struct {
	A EntityID `json:"a"`
	B EntityID `json:"b"`
}

// HitPayload contains melee or projectile hit details
type HitPayload struct {
	Attacker EntityID   `json:"attacker"`
	Victim   EntityID   `json:"victim"`
	Distance float64    `json:"distance"`
	Point    mgl64.Vec3 `json:"point"`
}

// PlacementPayload contains block placement details
type PlacementPayload struct {
	Pos      BlockPos `json:"pos"`
	Reason   string   `json:"reason,omitempty"`
	Blocker  uint64   `json:"blocker,omitempty"`
	Accepted bool     `json:"accepted"`
}

// RegionPayload contains construction region details
type RegionPayload struct {
	Region RegionID   `json:"region"`
	Min    mgl64.Vec3 `json:"min"`
	Max    mgl64.Vec3 `json:"max"`
}

// ValidationPayload lists broken tree invariants
type ValidationPayload struct {
	Layer string `json:"layer"`
	Error string `json:"error"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, source EntityID, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Source:    source,
		Payload:   EncodePayload(payload),
	}
}
