package api

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"broadphase/internal/game"

	"github.com/go-chi/chi/v5"
)

// DefaultSnapshotInterval is how often browser viewers receive the world
const DefaultSnapshotInterval = 100 * time.Millisecond

// ServerConfig configures the public API server
type ServerConfig struct {
	CORSOrigins      []string
	AdminToken       string
	RateLimit        RateLimitConfig // Zero fields fall back to DefaultRateLimitConfig
	SnapshotInterval time.Duration   // Zero uses DefaultSnapshotInterval
}

// Server serves the REST API and the /ws snapshot stream for one engine.
//
// Construction has no side effects: the broadcast loop starts and the
// port opens only in Start.
type Server struct {
	engine   *game.Engine
	router   *chi.Mux
	wsHub    *WebSocketHub
	limiter  *IPRateLimiter
	interval time.Duration

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	ready    chan struct{}
}

// NewServer wires the router, rate limiter and WebSocket hub
func NewServer(engine *game.Engine, cfg ServerConfig) *Server {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	s := &Server{
		engine:   engine,
		wsHub:    NewWebSocketHub(),
		limiter:  NewIPRateLimiter(cfg.RateLimit),
		interval: interval,
		ready:    make(chan struct{}),
	}

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		RateLimiter: s.limiter,
		CORSOrigins: cfg.CORSOrigins,
		AdminToken:  cfg.AdminToken,
	})
	if len(cfg.CORSOrigins) > 0 {
		SetAllowedOrigins(cfg.CORSOrigins)
	}

	// Upgrades pay one token; the hub caps concurrent streams
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
	s.router.Get("/api/stream/stats", s.handleStreamStats)

	return s
}

// Start listens on addr and serves until Stop. A graceful Stop returns nil.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.wsHub.StartBroadcastLoop(s.engine, s.interval)

	log.Printf("🌐 API server listening on %s", ln.Addr())
	log.Printf("🔭 World stats: http://%s/api/stats", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr blocks until Start has bound its listener and returns the address.
// It returns "" if ctx ends first.
func (s *Server) Addr(ctx context.Context) string {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr().String()
}

// Router returns the HTTP handler for use with httptest
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop drains HTTP requests and disconnects viewers
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wsHub.Stop()
	return err
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"viewers":        s.wsHub.ClientCount(),
		"droppedFrames":  s.wsHub.Dropped(),
		"trackedClients": s.limiter.Tracked(),
		"rateLimit":      s.limiter.GetStats(),
		"wsLimit":        s.wsHub.wsLimiter.GetStats(),
		"intervalMs":     s.interval.Milliseconds(),
	})
}
