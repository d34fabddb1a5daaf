package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"broadphase/internal/game"
	"broadphase/internal/game/spatial"

	"github.com/go-chi/chi/v5"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

const (
	maxQueryResults = 1000
	maxNearestK     = 100
	maxBodyBytes    = 1 << 16
)

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	// Use the lock-free snapshot for counts; layer stats come from the live trees
	snap := h.engine.Snapshot()
	writeJSON(w, map[string]interface{}{
		"session":     snap.Session,
		"tick":        snap.TickNumber,
		"entityCount": snap.EntityCount,
		"regionCount": len(snap.Regions),
		"layers":      h.engine.Stats(),
		"eventLog":    h.engine.EventLog().GetStats(),
	})
}

func (h *routerHandlers) handleListEntities(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	writeJSON(w, map[string]interface{}{
		"tick":      snap.TickNumber,
		"entities":  snap.Entities,
		"truncated": snap.Truncated,
	})
}

func (h *routerHandlers) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(w, r)
	if !ok {
		return
	}
	ent, found := h.engine.Entity(id)
	if !found {
		writeError(w, "Entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ent)
}

// spawnRequest is the body of POST /api/entities
type spawnRequest struct {
	Kind        string     `json:"kind"`
	Position    mgl64.Vec3 `json:"position"`
	Velocity    mgl64.Vec3 `json:"velocity"`
	HalfExtents mgl64.Vec3 `json:"halfExtents"`
	Gravity     bool       `json:"gravity"`
	NoDrag      bool       `json:"noDrag"`
	EyeHeight   float64    `json:"eyeHeight"`
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	kind, ok := game.ParseEntityKind(req.Kind)
	if !ok {
		writeError(w, fmt.Sprintf("Unknown kind %q", req.Kind), http.StatusBadRequest)
		return
	}

	id, err := h.engine.Spawn(game.SpawnSpec{
		Kind:        kind,
		Position:    req.Position,
		Velocity:    req.Velocity,
		HalfExtents: req.HalfExtents,
		Gravity:     req.Gravity,
		NoDrag:      req.NoDrag,
		EyeHeight:   req.EyeHeight,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleDespawn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Despawn(id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": id})
}

// vectorRequest carries one vector: a velocity or a look direction
type vectorRequest struct {
	Vector mgl64.Vec3 `json:"vector"`
}

func (h *routerHandlers) handleSetVelocity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(w, r)
	if !ok {
		return
	}
	var req vectorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetVelocity(id, req.Vector); err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleAttack(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(w, r)
	if !ok {
		return
	}
	var req vectorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Vector.Len() == 0 {
		writeError(w, "Direction is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.Attack(id, req.Vector); err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleFire(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntityID(w, r)
	if !ok {
		return
	}
	var req vectorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	projectile, err := h.engine.Fire(id, req.Vector)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": projectile, "shooter": id})
}

func (h *routerHandlers) handlePlace(w http.ResponseWriter, r *http.Request) {
	var pos game.BlockPos
	if !decodeBody(w, r, &pos) {
		return
	}
	if err := h.engine.Place(pos); err != nil {
		writeCommandError(w, err)
		return
	}
	// The authoritative outcome arrives as an event; this is a preview
	writeAccepted(w, h.engine.CheckPlacement(pos))
}

func (h *routerHandlers) handleCheckPlacement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var pos game.BlockPos
	var err error
	if pos.X, err = strconv.Atoi(q.Get("x")); err == nil {
		if pos.Y, err = strconv.Atoi(q.Get("y")); err == nil {
			pos.Z, err = strconv.Atoi(q.Get("z"))
		}
	}
	if err != nil {
		writeError(w, "x, y and z must be integers", http.StatusBadRequest)
		return
	}
	RecordQuery("placement")
	writeJSON(w, h.engine.CheckPlacement(pos))
}

// regionRequest is the body of POST /api/regions
type regionRequest struct {
	Min mgl64.Vec3 `json:"min"`
	Max mgl64.Vec3 `json:"max"`
}

func (h *routerHandlers) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := h.engine.Reserve(spatial.NewAABB(req.Min, req.Max))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": id})
}

func (h *routerHandlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid region id", http.StatusBadRequest)
		return
	}
	if err := h.engine.Release(game.RegionID(raw)); err != nil {
		writeCommandError(w, err)
		return
	}
	writeAccepted(w, map[string]interface{}{"id": raw})
}

func (h *routerHandlers) handleQueryAABB(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lo, err1 := parseVec(q.Get("min"))
	hi, err2 := parseVec(q.Get("max"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, "min and max must be x,y,z: "+err.Error(), http.StatusBadRequest)
		return
	}
	limit := clampInt(parseIntDefault(q.Get("limit"), maxQueryResults), 1, maxQueryResults)

	RecordQuery("aabb")
	hits, err := h.engine.QueryRegion(layerParam(r), spatial.NewAABB(lo, hi), limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"hits": hits, "count": len(hits)})
}

func (h *routerHandlers) handleQueryRay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err1 := parseVec(q.Get("origin"))
	dir, err2 := parseVec(q.Get("dir"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, "origin and dir must be x,y,z: "+err.Error(), http.StatusBadRequest)
		return
	}
	maxDistance, err := strconv.ParseFloat(q.Get("max"), 64)
	if err != nil || math.IsNaN(maxDistance) {
		writeError(w, "max must be a number", http.StatusBadRequest)
		return
	}
	nearest := q.Get("nearest") == "true"

	kind := "ray"
	if nearest {
		kind = "ray_nearest"
	}
	RecordQuery(kind)
	hits, err := h.engine.QueryRay(layerParam(r), origin, dir, maxDistance, nearest)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if len(hits) > maxQueryResults {
		hits = hits[:maxQueryResults]
	}
	writeJSON(w, map[string]interface{}{"hits": hits, "count": len(hits)})
}

func (h *routerHandlers) handleQueryNearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	point, err := parseVec(q.Get("point"))
	if err != nil {
		writeError(w, "point must be x,y,z: "+err.Error(), http.StatusBadRequest)
		return
	}
	k := clampInt(parseIntDefault(q.Get("k"), 1), 1, maxNearestK)

	RecordQuery("nearest")
	hits, err := h.engine.QueryNearest(layerParam(r), point, k)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"hits": hits, "count": len(hits)})
}

func (h *routerHandlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]interface{})
	healthy := true
	for layer, err := range h.engine.Validate() {
		if err == nil {
			result[layer] = "ok"
			continue
		}
		healthy = false
		log.Printf("❌ Validation failed for layer %s: %v", layer, err)
		result[layer] = err.Error()
	}

	if !healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(result)
		return
	}
	writeJSON(w, result)
}

func (h *routerHandlers) handleDump(w http.ResponseWriter, r *http.Request) {
	layer := layerParam(r)
	nodes, err := h.engine.Dump(layer)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "msgpack" {
		data, err := msgpack.Marshal(nodes)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(data)
		return
	}
	writeJSON(w, map[string]interface{}{"layer": layer, "nodes": nodes})
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusOK, data)
}

func writeAccepted(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusAccepted, data)
}

// writeStatus encodes before writing the header so an encoding failure
// still reaches the client as a 500
func writeStatus(w http.ResponseWriter, code int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Printf("❌ Response encode failed: %v", err)
		writeError(w, "response encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeCommandError maps engine command errors to status codes
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrQueueFull), errors.Is(err, game.ErrEntityLimit):
		w.Header().Set("Retry-After", "1")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, game.ErrInvalidSpawn), errors.Is(err, game.ErrInvalidRegion):
		writeQueryError(w, err)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func parseEntityID(w http.ResponseWriter, r *http.Request) (game.EntityID, bool) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || raw == 0 {
		writeError(w, "Invalid entity id", http.StatusBadRequest)
		return 0, false
	}
	return game.EntityID(raw), true
}

func layerParam(r *http.Request) string {
	if layer := r.URL.Query().Get("layer"); layer != "" {
		return layer
	}
	return game.LayerEntities
}

// parseVec reads "x,y,z" with finite components
func parseVec(s string) (mgl64.Vec3, error) {
	var v mgl64.Vec3
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("want 3 components, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("component %d is not finite", i)
		}
		v[i] = f
	}
	return v, nil
}

func parseIntDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, game.ErrUnknownLayer) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, err.Error(), http.StatusBadRequest)
}
