package api

import (
	"net/http"

	"broadphase/internal/game"
	"broadphase/internal/game/spatial"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-gl/mathgl/mgl64"
)

// EngineInterface is the slice of *game.Engine the HTTP layer calls.
// Handlers never reach into engine state; reads go through snapshots and
// synchronous queries, writes through the command queue.
type EngineInterface interface {
	// Snapshot returns the latest lock-free immutable snapshot
	Snapshot() *game.Snapshot
	// Stats returns live per-layer tree statistics
	Stats() map[string]spatial.Stats
	// Entity returns one entity by id
	Entity(id game.EntityID) (game.EntitySnapshot, bool)

	// Commands are queued and applied on the next tick
	Spawn(spec game.SpawnSpec) (game.EntityID, error)
	Despawn(id game.EntityID) error
	SetVelocity(id game.EntityID, v mgl64.Vec3) error
	Attack(id game.EntityID, dir mgl64.Vec3) error
	Fire(id game.EntityID, velocity mgl64.Vec3) (game.EntityID, error)
	Place(pos game.BlockPos) error
	Reserve(box spatial.AABB) (game.RegionID, error)
	Release(id game.RegionID) error

	// Synchronous read-only queries
	CheckPlacement(pos game.BlockPos) game.PlacementPayload
	QueryRegion(layer string, box spatial.AABB, limit int) ([]game.Hit, error)
	QueryRay(layer string, origin, dir mgl64.Vec3, maxDistance float64, nearest bool) ([]game.Hit, error)
	QueryNearest(layer string, point mgl64.Vec3, k int) ([]game.Hit, error)

	// Debugging
	Validate() map[string]error
	Dump(layer string) ([]spatial.NodeDump, error)
	EventLog() *game.EventLog
}

// RouterConfig holds the router's dependencies. Tests usually pass a
// limiter with a large burst and DisableLogging.
type RouterConfig struct {
	Engine EngineInterface // required

	// RateLimiter is shared with the caller so it can report stats.
	// Nil builds one from RateLimitConfig, or the defaults.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// CORSOrigins defaults to localhost on any port
	CORSOrigins []string

	// AdminToken guards every mutating route with a bearer token.
	// Empty leaves them open (local development).
	AdminToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine EngineInterface
}

// NewRouter builds the chi router: logging, recovery and metrics, then
// per-IP token buckets, then CORS. It starts no goroutines and opens no
// sockets, so it can back an httptest.Server directly.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Reject over-budget clients before CORS work
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{engine: cfg.Engine}
	guard := NewAdminGuard(cfg.AdminToken)

	r.Route("/api", func(r chi.Router) {
		// World state
		r.Get("/stats", h.handleGetStats)
		r.Get("/entities", h.handleListEntities)
		r.Get("/entities/{id}", h.handleGetEntity)

		// Spatial queries
		r.Get("/query/aabb", h.handleQueryAABB)
		r.Get("/query/ray", h.handleQueryRay)
		r.Get("/query/nearest", h.handleQueryNearest)
		r.Get("/place/check", h.handleCheckPlacement)

		// Commands
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware)

			r.Post("/entities", h.handleSpawn)
			r.Delete("/entities/{id}", h.handleDespawn)
			r.Post("/entities/{id}/velocity", h.handleSetVelocity)
			r.Post("/entities/{id}/attack", h.handleAttack)
			r.Post("/entities/{id}/fire", h.handleFire)
			r.Post("/place", h.handlePlace)
			r.Post("/regions", h.handleReserve)
			r.Delete("/regions/{id}", h.handleRelease)
		})

		// Debug
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware)

			r.Get("/debug/validate", h.handleValidate)
			r.Get("/debug/dump", h.handleDump)
			r.Get("/debug/render.png", h.handleRender)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/stats", http.StatusFound)
	})

	return r
}
