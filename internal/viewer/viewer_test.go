package viewer

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"broadphase/internal/game"
	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
)

type stubSource struct {
	snap atomic.Pointer[game.Snapshot]
}

func (s *stubSource) GetSnapshot() *game.Snapshot { return s.snap.Load() }

func worldAt(tick uint64) *game.Snapshot {
	return &game.Snapshot{
		TickNumber: tick,
		Entities: []game.EntitySnapshot{
			{ID: 1, Kind: "player", Position: mgl64.Vec3{0, 0, 0}, Min: mgl64.Vec3{-0.3, 0, -0.3}, Max: mgl64.Vec3{0.3, 1.8, 0.3}, Velocity: mgl64.Vec3{4, 0, 0}},
			{ID: 2, Kind: "mob", Position: mgl64.Vec3{10, 0, 5}, Min: mgl64.Vec3{9.5, 0, 4.5}, Max: mgl64.Vec3{10.5, 2, 5.5}},
			{ID: 3, Kind: "unknown", Position: mgl64.Vec3{-4, 0, 8}, Min: mgl64.Vec3{-4.5, 0, 7.5}, Max: mgl64.Vec3{-3.5, 1, 8.5}},
		},
		Regions: []game.RegionSnapshot{
			{ID: 1, Box: spatial.AABB{Min: mgl64.Vec3{-8, 0, -8}, Max: mgl64.Vec3{-2, 4, -2}}},
		},
		EntityCount: 3,
	}
}

func TestRenderFrameProducesPNG(t *testing.T) {
	tests := []struct {
		name string
		snap *game.Snapshot
	}{
		{"nil snapshot", nil},
		{"empty world", &game.Snapshot{TickNumber: 1}},
		{"populated world", worldAt(5)},
		{"single point", &game.Snapshot{Entities: []game.EntitySnapshot{{Kind: "projectile"}}, EntityCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RenderFrame(&buf, tt.snap, 128); err != nil {
				t.Fatalf("RenderFrame: %v", err)
			}
			cfg, err := png.DecodeConfig(&buf)
			if err != nil {
				t.Fatalf("output is not a PNG: %v", err)
			}
			if cfg.Width != 128 || cfg.Height != 128 {
				t.Errorf("size = %dx%d, want 128x128", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestSnapshotBounds(t *testing.T) {
	b, ok := snapshotBounds(worldAt(1))
	if !ok {
		t.Fatal("populated world reported empty")
	}
	if b.minX != -8 || b.minZ != -8 || b.maxX != 10.5 || b.maxZ != 8.5 {
		t.Errorf("bounds = %+v", b)
	}
	if _, ok := snapshotBounds(&game.Snapshot{}); ok {
		t.Error("empty world reported bounds")
	}
}

func TestRecorderWritesOnlyNewTicks(t *testing.T) {
	dir := t.TempDir()
	src := &stubSource{}
	rec := NewRecorder(src, RecorderConfig{Dir: dir, Size: 64, FPS: 1, Keep: 2})

	if wrote, err := rec.RecordNow(); wrote || err != nil {
		t.Fatalf("RecordNow without snapshot = %v, %v", wrote, err)
	}

	src.snap.Store(worldAt(1))
	if wrote, err := rec.RecordNow(); !wrote || err != nil {
		t.Fatalf("first RecordNow = %v, %v", wrote, err)
	}
	if wrote, _ := rec.RecordNow(); wrote {
		t.Error("same tick recorded twice")
	}

	src.snap.Store(worldAt(2))
	if wrote, err := rec.RecordNow(); !wrote || err != nil {
		t.Fatalf("second RecordNow = %v, %v", wrote, err)
	}
	src.snap.Store(worldAt(3))
	if wrote, err := rec.RecordNow(); !wrote || err != nil {
		t.Fatalf("third RecordNow = %v, %v", wrote, err)
	}

	for _, name := range []string{LatestFrameName, "frame_0000.png", "frame_0001.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	// Keep=2 wraps back onto slot 0
	if _, err := os.Stat(filepath.Join(dir, "frame_0002.png")); !os.IsNotExist(err) {
		t.Errorf("frame_0002.png should not exist, stat err = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}

	stats := rec.GetStats()
	if stats["framesWritten"].(uint64) != 3 {
		t.Errorf("framesWritten = %v, want 3", stats["framesWritten"])
	}
	if stats["framesSkipped"].(uint64) != 2 {
		t.Errorf("framesSkipped = %v, want 2", stats["framesSkipped"])
	}
}

func TestRecorderFailsOnUnwritableDir(t *testing.T) {
	// A regular file where the frame directory should be
	path := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := NewRecorder(&stubSource{}, RecorderConfig{Dir: path})
	if err := rec.Start(); err == nil {
		rec.Stop()
		t.Fatal("Start succeeded with a file as the frame dir")
	}
	if rec.GetStats()["running"].(bool) {
		t.Error("recorder reports running after failed Start")
	}
}

func TestNewRecorderDefaults(t *testing.T) {
	rec := NewRecorder(&stubSource{}, RecorderConfig{Keep: -1})
	def := DefaultRecorderConfig()
	if rec.cfg.Dir != def.Dir || rec.cfg.Size != def.Size || rec.cfg.FPS != def.FPS {
		t.Errorf("cfg = %+v, want defaults %+v", rec.cfg, def)
	}
	if rec.cfg.Keep != 0 {
		t.Errorf("Keep = %d, want 0", rec.cfg.Keep)
	}
}

func TestRecorderReadsLocalEngine(t *testing.T) {
	engine := game.NewEngine(game.DefaultEngineConfig())
	if _, err := engine.Spawn(game.SpawnSpec{Kind: game.KindMob, Position: mgl64.Vec3{3, 1, 3}}); err != nil {
		t.Fatal(err)
	}
	engine.Step()

	dir := t.TempDir()
	rec := NewRecorder(NewLocalEngineSource(engine), RecorderConfig{Dir: dir, Size: 64, Keep: 4})
	if wrote, err := rec.RecordNow(); err != nil || !wrote {
		t.Fatalf("RecordNow = %v, %v", wrote, err)
	}
	if _, err := os.Stat(filepath.Join(dir, LatestFrameName)); err != nil {
		t.Errorf("latest frame missing: %v", err)
	}

	// Same tick again is skipped; a new tick is drawn
	if wrote, _ := rec.RecordNow(); wrote {
		t.Error("unchanged tick was redrawn")
	}
	engine.Step()
	if wrote, err := rec.RecordNow(); err != nil || !wrote {
		t.Errorf("next tick RecordNow = %v, %v", wrote, err)
	}
}
