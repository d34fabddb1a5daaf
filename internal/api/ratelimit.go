package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-IP token buckets
type RateLimitConfig struct {
	RequestsPerSecond float64       // Tokens refilled per second per IP
	Burst             int           // Bucket size
	QueryCost         int           // Tokens charged for tree walks (queries, debug); plain reads cost 1
	CleanupInterval   time.Duration // Idle buckets older than twice this are dropped
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	QueryCost:         2,
	CleanupInterval:   5 * time.Minute,
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter charges each client IP for its requests. Spatial queries
// walk the trees and cost QueryCost tokens. Idle buckets are swept inline
// from Allow, so the limiter owns no goroutine.
type IPRateLimiter struct {
	buckets   sync.Map // string -> *ipBucket
	config    RateLimitConfig
	lastSweep atomic.Int64

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewIPRateLimiter creates a limiter; zero fields fall back to the defaults
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimitConfig.Burst
	}
	if cfg.QueryCost <= 0 {
		cfg.QueryCost = 1
	}
	if cfg.QueryCost > cfg.Burst {
		cfg.QueryCost = cfg.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{config: cfg}
	rl.lastSweep.Store(time.Now().UnixNano())
	return rl
}

func (rl *IPRateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	if v, ok := rl.buckets.Load(ip); ok {
		b := v.(*ipBucket)
		b.lastSeen.Store(now.UnixNano())
		return b.limiter
	}
	b := &ipBucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
	b.lastSeen.Store(now.UnixNano())
	v, _ := rl.buckets.LoadOrStore(ip, b)
	return v.(*ipBucket).limiter
}

// maybeSweep drops idle buckets at most once per CleanupInterval
func (rl *IPRateLimiter) maybeSweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(rl.config.CleanupInterval) {
		return
	}
	if !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	rl.sweep(now)
}

// sweep removes buckets idle for twice the cleanup interval and returns
// how many were dropped
func (rl *IPRateLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-2 * rl.config.CleanupInterval).UnixNano()
	removed := 0
	rl.buckets.Range(func(key, value any) bool {
		if value.(*ipBucket).lastSeen.Load() < cutoff {
			rl.buckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Allow charges one token to ip
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.AllowN(ip, 1)
}

// AllowN charges n tokens to ip
func (rl *IPRateLimiter) AllowN(ip string, n int) bool {
	now := time.Now()
	rl.maybeSweep(now)
	if rl.bucket(ip, now).AllowN(now, n) {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	return false
}

// costOf prices a request by how much tree work it triggers
func (rl *IPRateLimiter) costOf(r *http.Request) int {
	p := r.URL.Path
	if strings.HasPrefix(p, "/api/query/") || strings.HasPrefix(p, "/api/debug/") || p == "/api/place/check" {
		return rl.config.QueryCost
	}
	return 1
}

// Middleware rejects over-budget clients with 429
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowN(GetClientIP(r), rl.costOf(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Tracked returns how many client buckets are live
func (rl *IPRateLimiter) Tracked() int {
	n := 0
	rl.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// GetStats returns rate limiter statistics
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowed.Load(),
		"rejected": rl.rejected.Load(),
	}
}

// GetClientIP returns the client address. Forwarding headers are honored
// only when the direct peer is loopback, i.e. a local reverse proxy;
// otherwise any client could pick its own bucket.
func GetClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if ip := net.ParseIP(peer); ip == nil || !ip.IsLoopback() {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// WebSocketRateLimiter caps concurrent WebSocket connections per IP.
// Entries are removed when their count drops to zero.
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	maxPerIP int

	rejected atomic.Uint64
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{counts: make(map[string]int), maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for ip
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	if wrl.counts[ip] >= wrl.maxPerIP {
		wrl.rejected.Add(1)
		return false
	}
	wrl.counts[ip]++
	return true
}

// Release frees a slot reserved by Allow
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	switch n := wrl.counts[ip]; {
	case n > 1:
		wrl.counts[ip] = n - 1
	case n == 1:
		delete(wrl.counts, ip)
	}
}

// GetConnectionCount returns the live connection count for ip
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.counts[ip]
}

// GetStats returns WebSocket rate limiter statistics
func (wrl *WebSocketRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{"rejected": wrl.rejected.Load()}
}

// extraOrigins holds WebSocket origins beyond loopback, set from
// SERVER_ALLOWED_ORIGINS at startup
var extraOrigins atomic.Pointer[[]string]

// SetAllowedOrigins replaces the extra allowed origins
func SetAllowedOrigins(origins []string) {
	cp := append([]string(nil), origins...)
	extraOrigins.Store(&cp)
}

// IsAllowedOrigin reports whether a browser origin may open /ws.
// Loopback on any port is always allowed; "https://*.example.com"
// admits subdomains.
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1") {
		return true
	}

	list := extraOrigins.Load()
	if list == nil {
		return false
	}
	for _, allowed := range *list {
		if origin == allowed {
			return true
		}
		if suffix, ok := strings.CutPrefix(allowed, "https://*"); ok && strings.HasPrefix(origin, "https://") && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
