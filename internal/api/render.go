package api

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"broadphase/internal/game/spatial"

	"github.com/fogleman/gg"
)

const (
	renderDefaultSize = 800
	renderMaxSize     = 2048
	renderPadding     = 20
)

// depthPalette colors internal nodes by depth, cycling for deep trees
var depthPalette = [][3]float64{
	{0.90, 0.30, 0.25},
	{0.95, 0.60, 0.20},
	{0.90, 0.85, 0.25},
	{0.40, 0.80, 0.35},
	{0.25, 0.70, 0.85},
	{0.40, 0.45, 0.90},
	{0.70, 0.40, 0.85},
}

// RenderDump draws a top-down (XZ) projection of a tree dump as PNG.
// Internal nodes are outlined by depth, leaf fat boxes are grey and
// tight boxes are filled.
func RenderDump(w io.Writer, nodes []spatial.NodeDump, size int) error {
	dc := gg.NewContext(size, size)
	dc.SetRGB(0.08, 0.08, 0.10)
	dc.Clear()

	if len(nodes) == 0 {
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.DrawStringAnchored("empty tree", float64(size)/2, float64(size)/2, 0.5, 0.5)
		return dc.EncodePNG(w)
	}

	// The root bounds every node
	root := nodes[0]
	spanX := root.Max[0] - root.Min[0]
	spanZ := root.Max[2] - root.Min[2]
	span := math.Max(math.Max(spanX, spanZ), 1e-9)
	scale := (float64(size) - 2*renderPadding) / span
	project := func(x, z float64) (float64, float64) {
		return renderPadding + (x-root.Min[0])*scale, renderPadding + (z-root.Min[2])*scale
	}
	rect := func(lo, hi [3]float64) (float64, float64, float64, float64) {
		x0, y0 := project(lo[0], lo[2])
		x1, y1 := project(hi[0], hi[2])
		return x0, y0, math.Max(x1-x0, 1), math.Max(y1-y0, 1)
	}

	dc.SetLineWidth(1)
	leaves := 0
	for _, nd := range nodes {
		if nd.Leaf {
			leaves++
			dc.SetRGBA(0.6, 0.6, 0.6, 0.6)
			dc.DrawRectangle(rect(nd.Min, nd.Max))
			dc.Stroke()

			dc.SetRGBA(0.95, 0.95, 0.95, 0.5)
			dc.DrawRectangle(rect(nd.TightMin, nd.TightMax))
			dc.Fill()
			continue
		}
		c := depthPalette[nd.Depth%len(depthPalette)]
		dc.SetRGBA(c[0], c[1], c[2], 0.8)
		dc.DrawRectangle(rect(nd.Min, nd.Max))
		dc.Stroke()
	}

	dc.SetRGB(0.9, 0.9, 0.9)
	dc.DrawString(fmt.Sprintf("nodes=%d leaves=%d height=%d", len(nodes), leaves, root.Height), 6, 14)
	return dc.EncodePNG(w)
}

func (h *routerHandlers) handleRender(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.engine.Dump(layerParam(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}

	size := renderDefaultSize
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		size = clampInt(s, 64, renderMaxSize)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := RenderDump(w, nodes, size); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
