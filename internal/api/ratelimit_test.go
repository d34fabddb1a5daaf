package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueriesCostMoreTokens(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001, // effectively no refill during the test
		Burst:             4,
		QueryCost:         2,
		CleanupInterval:   time.Hour,
	})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := rl.Middleware(ok)

	hit := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// 4 tokens: two queries drain the bucket
	if code := hit("/api/query/ray"); code != http.StatusOK {
		t.Fatalf("first query = %d", code)
	}
	if code := hit("/api/query/aabb"); code != http.StatusOK {
		t.Fatalf("second query = %d", code)
	}
	if code := hit("/api/stats"); code != http.StatusTooManyRequests {
		t.Errorf("read after drained bucket = %d, want 429", code)
	}

	stats := rl.GetStats()
	if stats["allowed"] != 2 || stats["rejected"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestQueryCostClampedToBurst(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 3, QueryCost: 10})
	if rl.config.QueryCost != 3 {
		t.Errorf("QueryCost = %d, want clamp to burst 3", rl.config.QueryCost)
	}
	if !rl.AllowN("a", rl.config.QueryCost) {
		t.Error("a full-burst query should fit an empty bucket")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{CleanupInterval: time.Minute})
	rl.Allow("198.51.100.1")
	rl.Allow("198.51.100.2")
	if rl.Tracked() != 2 {
		t.Fatalf("Tracked = %d, want 2", rl.Tracked())
	}

	if n := rl.sweep(time.Now()); n != 0 {
		t.Errorf("fresh buckets swept: %d", n)
	}
	if n := rl.sweep(time.Now().Add(3 * time.Minute)); n != 2 {
		t.Errorf("idle sweep removed %d, want 2", n)
	}
	if rl.Tracked() != 0 {
		t.Errorf("Tracked after sweep = %d", rl.Tracked())
	}
}

func TestGetClientIPTrustsOnlyLoopbackProxies(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct client", "203.0.113.5:1234", "", "", "203.0.113.5"},
		{"spoofed header ignored", "203.0.113.5:1234", "10.0.0.1", "", "203.0.113.5"},
		{"local proxy forwards", "127.0.0.1:9999", "198.51.100.7, 10.0.0.2", "", "198.51.100.7"},
		{"local proxy real ip", "[::1]:9999", "", "198.51.100.8", "198.51.100.8"},
		{"local without headers", "127.0.0.1:9999", "", "", "127.0.0.1"},
		{"unparseable remote", "garbage", "", "", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocketLimiterReleasesSlots(t *testing.T) {
	wrl := NewWebSocketRateLimiter(2)
	if !wrl.Allow("ip") || !wrl.Allow("ip") {
		t.Fatal("first two connections should be allowed")
	}
	if wrl.Allow("ip") {
		t.Error("third connection allowed over the cap")
	}
	wrl.Release("ip")
	wrl.Release("ip")
	wrl.Release("ip") // extra release is harmless
	if n := wrl.GetConnectionCount("ip"); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if len(wrl.counts) != 0 {
		t.Errorf("released IP still tracked: %v", wrl.counts)
	}
	if wrl.GetStats()["rejected"] != 1 {
		t.Errorf("rejected = %d, want 1", wrl.GetStats()["rejected"])
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	SetAllowedOrigins([]string{"https://viewer.example", "https://*.tools.example"})
	t.Cleanup(func() { SetAllowedOrigins(nil) })

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://viewer.example", true},
		{"https://a.tools.example", true},
		{"http://a.tools.example", false},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		if got := IsAllowedOrigin(tt.origin); got != tt.want {
			t.Errorf("IsAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
