package viewer

import (
	"fmt"
	"io"
	"math"

	"broadphase/internal/game"

	"github.com/fogleman/gg"
)

const framePadding = 16

// kindColors maps entity kinds to fill colors
var kindColors = map[string][3]float64{
	"player":        {0.30, 0.75, 0.95},
	"mob":           {0.90, 0.35, 0.30},
	"projectile":    {0.95, 0.85, 0.25},
	"falling_block": {0.65, 0.50, 0.35},
}

// bounds2D is an XZ rectangle
type bounds2D struct {
	minX, minZ, maxX, maxZ float64
}

func (b *bounds2D) extend(minX, minZ, maxX, maxZ float64) {
	b.minX = math.Min(b.minX, minX)
	b.minZ = math.Min(b.minZ, minZ)
	b.maxX = math.Max(b.maxX, maxX)
	b.maxZ = math.Max(b.maxZ, maxZ)
}

// snapshotBounds covers every entity and region in the snapshot.
// ok is false for an empty world.
func snapshotBounds(snap *game.Snapshot) (b bounds2D, ok bool) {
	b = bounds2D{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, e := range snap.Entities {
		b.extend(e.Min[0], e.Min[2], e.Max[0], e.Max[2])
		ok = true
	}
	for _, r := range snap.Regions {
		b.extend(r.Box.Min[0], r.Box.Min[2], r.Box.Max[0], r.Box.Max[2])
		ok = true
	}
	return b, ok
}

// RenderFrame draws a top-down (XZ) view of a snapshot as PNG.
// Regions are outlined, entities are filled by kind with a velocity tick.
func RenderFrame(w io.Writer, snap *game.Snapshot, size int) error {
	dc := gg.NewContext(size, size)
	dc.SetRGB(0.06, 0.07, 0.09)
	dc.Clear()

	if snap == nil {
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.DrawStringAnchored("waiting for world", float64(size)/2, float64(size)/2, 0.5, 0.5)
		return dc.EncodePNG(w)
	}

	b, ok := snapshotBounds(snap)
	if !ok {
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.DrawStringAnchored("empty world", float64(size)/2, float64(size)/2, 0.5, 0.5)
		drawCaption(dc, snap)
		return dc.EncodePNG(w)
	}

	span := math.Max(math.Max(b.maxX-b.minX, b.maxZ-b.minZ), 1)
	scale := (float64(size) - 2*framePadding) / span
	project := func(x, z float64) (float64, float64) {
		return framePadding + (x-b.minX)*scale, framePadding + (z-b.minZ)*scale
	}

	dc.SetLineWidth(1)
	dc.SetRGBA(0.5, 0.9, 0.5, 0.7)
	for _, r := range snap.Regions {
		x0, y0 := project(r.Box.Min[0], r.Box.Min[2])
		x1, y1 := project(r.Box.Max[0], r.Box.Max[2])
		dc.DrawRectangle(x0, y0, math.Max(x1-x0, 1), math.Max(y1-y0, 1))
		dc.Stroke()
	}

	for _, e := range snap.Entities {
		c, found := kindColors[e.Kind]
		if !found {
			c = kindColors["mob"]
		}
		x0, y0 := project(e.Min[0], e.Min[2])
		x1, y1 := project(e.Max[0], e.Max[2])
		dc.SetRGBA(c[0], c[1], c[2], 0.85)
		dc.DrawRectangle(x0, y0, math.Max(x1-x0, 2), math.Max(y1-y0, 2))
		dc.Fill()

		// Velocity over a quarter second
		if e.Velocity[0] != 0 || e.Velocity[2] != 0 {
			cx, cy := project(e.Position[0], e.Position[2])
			dc.SetRGBA(1, 1, 1, 0.6)
			dc.DrawLine(cx, cy, cx+e.Velocity[0]*0.25*scale, cy+e.Velocity[2]*0.25*scale)
			dc.Stroke()
		}
	}

	drawCaption(dc, snap)
	return dc.EncodePNG(w)
}

func drawCaption(dc *gg.Context, snap *game.Snapshot) {
	caption := fmt.Sprintf("tick=%d entities=%d regions=%d", snap.TickNumber, snap.EntityCount, len(snap.Regions))
	if snap.Truncated {
		caption += " (truncated)"
	}
	dc.SetRGB(0.9, 0.9, 0.9)
	dc.DrawString(caption, 6, 14)
}
