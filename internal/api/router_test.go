package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"broadphase/internal/api"
	"broadphase/internal/game"
	"broadphase/internal/game/spatial"

	"github.com/vmihailenco/msgpack/v5"
)

// ============================================================================
// Helpers
// ============================================================================

func newTestEngine() *game.Engine {
	cfg := game.DefaultEngineConfig()
	cfg.World.Gravity = 0
	cfg.World.Drag = 0
	return game.NewEngine(cfg)
}

func newTestServer(t *testing.T, engine *game.Engine, token string) *httptest.Server {
	t.Helper()
	limiter := api.NewIPRateLimiter(api.RateLimitConfig{
		RequestsPerSecond: 10000,
		Burst:             10000,
		CleanupInterval:   time.Hour,
	})

	router := api.NewRouter(api.RouterConfig{
		Engine:         engine,
		RateLimiter:    limiter,
		AdminToken:     token,
		DisableLogging: true, // Quiet logs in tests
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected %d, got %d (%s)", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

type hitsResponse struct {
	Hits  []game.Hit `json:"hits"`
	Count int        `json:"count"`
}

// spawnAt spawns a default-sized mob through the API and applies it.
func spawnAt(t *testing.T, ts *httptest.Server, engine *game.Engine, x, y, z float64) game.EntityID {
	t.Helper()
	body := fmt.Sprintf(`{"kind":"mob","position":[%g,%g,%g]}`, x, y, z)
	resp := do(t, http.MethodPost, ts.URL+"/api/entities", "", body)
	expectStatus(t, resp, http.StatusAccepted)
	out := decode[struct {
		ID game.EntityID `json:"id"`
	}](t, resp)
	engine.Step()
	return out.ID
}

// ============================================================================
// Router Purity Tests
// ============================================================================

// TestNewRouterHasNoSideEffects verifies that NewRouter is a pure function
// with no tick loop started and no network listeners opened.
func TestNewRouterHasNoSideEffects(t *testing.T) {
	engine := newTestEngine()
	router := api.NewRouter(api.RouterConfig{
		Engine: engine,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Hour, // Long interval to avoid cleanup goroutine activity
		},
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
	if engine.TickCount() != 0 {
		t.Errorf("router construction advanced the world to tick %d", engine.TickCount())
	}
}

// ============================================================================
// World State Tests
// ============================================================================

func TestAPIGetStats(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")
	spawnAt(t, ts, engine, 0, 1, 0)

	resp := do(t, http.MethodGet, ts.URL+"/api/stats", "", "")
	expectStatus(t, resp, http.StatusOK)
	stats := decode[struct {
		Session     string                   `json:"session"`
		Tick        uint64                   `json:"tick"`
		EntityCount int                      `json:"entityCount"`
		Layers      map[string]spatial.Stats `json:"layers"`
	}](t, resp)

	if stats.Session != engine.Session() {
		t.Errorf("session = %q, want %q", stats.Session, engine.Session())
	}
	if stats.Tick != 1 || stats.EntityCount != 1 {
		t.Errorf("tick=%d entities=%d, want 1 and 1", stats.Tick, stats.EntityCount)
	}
	for _, layer := range []string{game.LayerEntities, game.LayerColliders, game.LayerRegions} {
		if _, ok := stats.Layers[layer]; !ok {
			t.Errorf("missing stats for layer %s", layer)
		}
	}
	if stats.Layers[game.LayerEntities].Leaves != 1 {
		t.Errorf("entities layer leaves = %d, want 1", stats.Layers[game.LayerEntities].Leaves)
	}
}

func TestAPISpawnAndGetEntity(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")

	id := spawnAt(t, ts, engine, 4, 1, -2)

	resp := do(t, http.MethodGet, fmt.Sprintf("%s/api/entities/%d", ts.URL, id), "", "")
	expectStatus(t, resp, http.StatusOK)
	ent := decode[game.EntitySnapshot](t, resp)
	if ent.ID != id || ent.Kind != "mob" {
		t.Errorf("got %+v, want mob %d", ent, id)
	}
	if ent.Position[0] != 4 || ent.Position[2] != -2 {
		t.Errorf("position = %v", ent.Position)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/entities", "", "")
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Entities []game.EntitySnapshot `json:"entities"`
	}](t, resp)
	if len(list.Entities) != 1 {
		t.Errorf("listed %d entities, want 1", len(list.Entities))
	}

	resp = do(t, http.MethodDelete, fmt.Sprintf("%s/api/entities/%d", ts.URL, id), "", "")
	expectStatus(t, resp, http.StatusAccepted)
	engine.Step()

	resp = do(t, http.MethodGet, fmt.Sprintf("%s/api/entities/%d", ts.URL, id), "", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestAPISpawnValidation(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid json", http.MethodPost, "/api/entities", `{invalid}`, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/api/entities", `{"kind":"dragon"}`, http.StatusBadRequest},
		{"bad entity id", http.MethodGet, "/api/entities/abc", "", http.StatusBadRequest},
		{"zero entity id", http.MethodGet, "/api/entities/0", "", http.StatusBadRequest},
		{"attack without direction", http.MethodPost, "/api/entities/1/attack", `{"vector":[0,0,0]}`, http.StatusBadRequest},
		{"malformed region", http.MethodPost, "/api/regions", `{"min":"origin"}`, http.StatusBadRequest},
		{"bad region id", http.MethodDelete, "/api/regions/x", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, "", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestAPICommandQueueFull(t *testing.T) {
	cfg := game.DefaultEngineConfig()
	cfg.World.CommandQueueSize = 4
	engine := game.NewEngine(cfg)
	ts := newTestServer(t, engine, "")

	for i := 0; i < 4; i++ {
		resp := do(t, http.MethodPost, ts.URL+"/api/place", "", `{"x":0,"y":0,"z":0}`)
		expectStatus(t, resp, http.StatusAccepted)
	}
	resp := do(t, http.MethodPost, ts.URL+"/api/place", "", `{"x":0,"y":0,"z":0}`)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("queue-full response should carry Retry-After")
	}
}

// ============================================================================
// Spatial Query Tests
// ============================================================================

func TestAPIQueries(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")

	near := spawnAt(t, ts, engine, 0, 1, 0)
	far := spawnAt(t, ts, engine, 10, 1, 0)

	t.Run("aabb", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/aabb?min=-1,0,-1&max=1,2,1", "", "")
		expectStatus(t, resp, http.StatusOK)
		out := decode[hitsResponse](t, resp)
		if out.Count != 1 || out.Hits[0].ID != uint64(near) {
			t.Errorf("got %+v, want only %d", out.Hits, near)
		}
	})

	t.Run("aabb inverted corners", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/aabb?min=11,2,1&max=-1,0,-1", "", "")
		expectStatus(t, resp, http.StatusOK)
		if out := decode[hitsResponse](t, resp); out.Count != 2 {
			t.Errorf("count = %d, want 2", out.Count)
		}
	})

	t.Run("ray all", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/ray?origin=-5,1,0&dir=1,0,0&max=100", "", "")
		expectStatus(t, resp, http.StatusOK)
		if out := decode[hitsResponse](t, resp); out.Count != 2 {
			t.Errorf("count = %d, want 2", out.Count)
		}
	})

	t.Run("ray nearest", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/ray?origin=20,1,0&dir=-1,0,0&max=100&nearest=true", "", "")
		expectStatus(t, resp, http.StatusOK)
		out := decode[hitsResponse](t, resp)
		if out.Count != 1 || out.Hits[0].ID != uint64(far) {
			t.Fatalf("got %+v, want %d", out.Hits, far)
		}
		// Entry face of the far mob is x = 10.3
		if d := out.Hits[0].Distance; d < 9.69 || d > 9.71 {
			t.Errorf("distance = %v, want 9.7", d)
		}
	})

	t.Run("nearest", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/nearest?point=9,1,0&k=2", "", "")
		expectStatus(t, resp, http.StatusOK)
		out := decode[hitsResponse](t, resp)
		if out.Count != 2 || out.Hits[0].ID != uint64(far) || out.Hits[1].ID != uint64(near) {
			t.Errorf("got %+v, want [%d %d]", out.Hits, far, near)
		}
	})

	t.Run("bad vector", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/aabb?min=1,2&max=3,4,5", "", "")
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("bad max distance", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/ray?origin=0,0,0&dir=1,0,0", "", "")
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("non-finite components", func(t *testing.T) {
		for _, path := range []string{
			"/api/query/ray?origin=NaN,1,0&dir=1,0,0&max=100",
			"/api/query/ray?origin=0,1,0&dir=1,0,0&max=NaN",
			"/api/query/ray?origin=0,1,0&dir=Inf,0,0&max=100",
			"/api/query/nearest?point=NaN,1,0&k=2",
			"/api/query/aabb?min=-1,0,-1&max=1,+Inf,1",
		} {
			resp := do(t, http.MethodGet, ts.URL+path, "", "")
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("GET %s = %d, want 400", path, resp.StatusCode)
			}
			resp.Body.Close()
		}
	})

	t.Run("unknown layer", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/query/nearest?point=0,0,0&layer=nope", "", "")
		expectStatus(t, resp, http.StatusNotFound)
	})
}

func TestAPIPlacementAndRegions(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")

	blocker := spawnAt(t, ts, engine, 0.5, 0.9, 0.5)

	resp := do(t, http.MethodGet, ts.URL+"/api/place/check?x=0&y=0&z=0", "", "")
	expectStatus(t, resp, http.StatusOK)
	check := decode[game.PlacementPayload](t, resp)
	if check.Accepted || check.Reason != game.RejectEntity || check.Blocker != uint64(blocker) {
		t.Errorf("check = %+v, want blocked by entity %d", check, blocker)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/place/check?x=5&y=0&z=5", "", "")
	expectStatus(t, resp, http.StatusOK)
	if check := decode[game.PlacementPayload](t, resp); !check.Accepted {
		t.Errorf("open cell rejected: %+v", check)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/regions", "", `{"min":[4,0,4],"max":[7,3,7]}`)
	expectStatus(t, resp, http.StatusAccepted)
	region := decode[struct {
		ID game.RegionID `json:"id"`
	}](t, resp)
	engine.Step()

	resp = do(t, http.MethodGet, ts.URL+"/api/place/check?x=5&y=0&z=5", "", "")
	expectStatus(t, resp, http.StatusOK)
	if check := decode[game.PlacementPayload](t, resp); check.Accepted || check.Reason != game.RejectRegion {
		t.Errorf("cell inside region: %+v", check)
	}

	resp = do(t, http.MethodDelete, fmt.Sprintf("%s/api/regions/%d", ts.URL, region.ID), "", "")
	expectStatus(t, resp, http.StatusAccepted)
	engine.Step()

	resp = do(t, http.MethodGet, ts.URL+"/api/place/check?x=5&y=0&z=5", "", "")
	expectStatus(t, resp, http.StatusOK)
	if check := decode[game.PlacementPayload](t, resp); !check.Accepted {
		t.Errorf("released region still blocks: %+v", check)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/place/check?x=a&y=0&z=0", "", "")
	expectStatus(t, resp, http.StatusBadRequest)
}

// ============================================================================
// Admin Guard Tests
// ============================================================================

func TestAPIAdminGuard(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "s3cret")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       string
		wantStatus int
	}{
		{"reads are open", http.MethodGet, "/api/stats", "", "", http.StatusOK},
		{"spawn without token", http.MethodPost, "/api/entities", "", `{}`, http.StatusUnauthorized},
		{"spawn with wrong token", http.MethodPost, "/api/entities", "nope", `{}`, http.StatusUnauthorized},
		{"spawn with token", http.MethodPost, "/api/entities", "s3cret", `{"position":[0,1,0]}`, http.StatusAccepted},
		{"debug without token", http.MethodGet, "/api/debug/validate", "", "", http.StatusUnauthorized},
		{"debug with token", http.MethodGet, "/api/debug/validate", "s3cret", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestAdminGuardDisabled(t *testing.T) {
	guard := api.NewAdminGuard("")
	if guard.Enabled() {
		t.Fatal("empty token should disable the guard")
	}
	req := httptest.NewRequest(http.MethodPost, "/api/place", nil)
	if !guard.Authorized(req) {
		t.Error("disabled guard should authorize every request")
	}
}

// ============================================================================
// Debug Endpoint Tests
// ============================================================================

func TestAPIDebugEndpoints(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")
	for i := 0; i < 8; i++ {
		spawnAt(t, ts, engine, float64(i*3), 1, float64(i%3))
	}

	t.Run("validate", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/debug/validate", "", "")
		expectStatus(t, resp, http.StatusOK)
		out := decode[map[string]string](t, resp)
		for layer, status := range out {
			if status != "ok" {
				t.Errorf("layer %s: %s", layer, status)
			}
		}
		if len(out) != 3 {
			t.Errorf("validated %d layers, want 3", len(out))
		}
	})

	t.Run("dump json", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/debug/dump?layer=entities", "", "")
		expectStatus(t, resp, http.StatusOK)
		out := decode[struct {
			Nodes []spatial.NodeDump `json:"nodes"`
		}](t, resp)
		// 8 leaves, 7 internal nodes
		if len(out.Nodes) != 15 {
			t.Errorf("dumped %d nodes, want 15", len(out.Nodes))
		}
		if out.Nodes[0].Depth != 0 || out.Nodes[0].Leaf {
			t.Errorf("first node should be the root: %+v", out.Nodes[0])
		}
	})

	t.Run("dump msgpack", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/debug/dump?format=msgpack", "", "")
		expectStatus(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); ct != "application/msgpack" {
			t.Errorf("Content-Type = %q", ct)
		}
		var nodes []spatial.NodeDump
		if err := msgpack.NewDecoder(resp.Body).Decode(&nodes); err != nil {
			t.Fatalf("msgpack decode: %v", err)
		}
		if len(nodes) != 15 {
			t.Errorf("decoded %d nodes, want 15", len(nodes))
		}
	})

	t.Run("render", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/debug/render.png?size=128", "", "")
		expectStatus(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q", ct)
		}
		data, _ := io.ReadAll(resp.Body)
		if !bytes.HasPrefix(data, []byte("\x89PNG")) {
			t.Error("response is not a PNG")
		}
	})

	t.Run("render empty layer", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/debug/render.png?layer=regions&size=64", "", "")
		expectStatus(t, resp, http.StatusOK)
	})
}

func TestAPIRootRedirects(t *testing.T) {
	engine := newTestEngine()
	ts := newTestServer(t, engine, "")

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/api/stats" {
		t.Errorf("got %d -> %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}
