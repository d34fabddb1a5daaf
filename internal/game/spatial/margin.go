package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MarginPolicy selects how a leaf's fat box is grown around its true box.
type MarginPolicy int

const (
	// MarginSymmetric grows every side by the same relative margin.
	MarginSymmetric MarginPolicy = iota
	// MarginVelocity additionally stretches the box along the velocity hint,
	// so objects moving steadily stay inside their box for several ticks.
	MarginVelocity
)

// String returns the config name of the policy.
func (p MarginPolicy) String() string {
	switch p {
	case MarginVelocity:
		return "velocity"
	default:
		return "symmetric"
	}
}

// ParseMarginPolicy maps a config name to a policy. Unknown names fall back
// to MarginSymmetric and ok is false.
func ParseMarginPolicy(name string) (MarginPolicy, bool) {
	switch name {
	case "symmetric", "":
		return MarginSymmetric, true
	case "velocity":
		return MarginVelocity, true
	default:
		return MarginSymmetric, false
	}
}

// Config tunes the fat-AABB margin and the initial arena size.
type Config struct {
	MarginRatio     float64      // Margin as a fraction of the extent per axis
	MarginFloor     float64      // Minimum absolute margin per axis
	Policy          MarginPolicy // Symmetric or velocity-stretched margins
	VelocityScale   float64      // Seconds of look-ahead applied to the velocity hint
	InitialCapacity int          // Preallocated leaves
}

// DefaultConfig returns margins suited to block-sized entities moving at
// walking speed with a 20 TPS tick.
func DefaultConfig() Config {
	return Config{
		MarginRatio:     0.1,
		MarginFloor:     0.1,
		Policy:          MarginSymmetric,
		VelocityScale:   0.1,
		InitialCapacity: 256,
	}
}

// sanitize replaces nonsense values with defaults.
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.MarginRatio < 0 || math.IsNaN(c.MarginRatio) {
		c.MarginRatio = def.MarginRatio
	}
	if c.MarginFloor < 0 || math.IsNaN(c.MarginFloor) {
		c.MarginFloor = def.MarginFloor
	}
	if c.VelocityScale < 0 || math.IsNaN(c.VelocityScale) {
		c.VelocityScale = def.VelocityScale
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = def.InitialCapacity
	}
	return c
}

// margin returns the symmetric per-axis margin for a true box.
func (c Config) margin(tight AABB) mgl64.Vec3 {
	d := tight.Extent()
	var m mgl64.Vec3
	for i := 0; i < 3; i++ {
		m[i] = math.Max(d[i]*c.MarginRatio, c.MarginFloor)
	}
	return m
}

// fatten computes the stored leaf box. With MarginVelocity and a velocity
// hint, each side is pushed out by the larger of the margin and the
// predicted displacement in that direction.
func (c Config) fatten(tight AABB, velocity mgl64.Vec3, hasVelocity bool) AABB {
	m := c.margin(tight)
	if c.Policy != MarginVelocity || !hasVelocity {
		return tight.Expand(m)
	}

	v := velocity.Mul(c.VelocityScale)
	var out AABB
	for i := 0; i < 3; i++ {
		out.Min[i] = tight.Min[i] + math.Min(-m[i], v[i])
		out.Max[i] = tight.Max[i] + math.Max(m[i], v[i])
	}
	return out
}

// oversizeFactor bounds how loose a fat box may become before an in-place
// update is turned into a reinsert that shrinks it again.
const oversizeFactor = 4.0

// oversized reports whether the current fat box is wider on some axis than
// the fresh one plus oversizeFactor margins per side, e.g. after a fast
// object comes to rest. Pure translation never counts as oversized.
func (c Config) oversized(current, fresh, tight AABB) bool {
	slack := c.margin(tight).Mul(2 * oversizeFactor)
	ce, fe := current.Extent(), fresh.Extent()
	for i := 0; i < 3; i++ {
		if ce[i] > fe[i]+slack[i] {
			return true
		}
	}
	return false
}
