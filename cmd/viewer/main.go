// Command viewer draws the world from the server's snapshot feed.
//
// It subscribes to IPC_SOCKET, renders a top-down PNG of entities and
// reserved regions at VIEWER_FPS, and keeps latest.png plus a rolling
// window of VIEWER_KEEP frames in VIEWER_DIR. The server keeps ticking
// whether or not a viewer is attached.
//
//	IPC_SOCKET=/tmp/broadphase.sock go run ./cmd/server
//	IPC_SOCKET=/tmp/broadphase.sock go run ./cmd/viewer
package main

import (
	"context"
	"log"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"broadphase/internal/config"
	"broadphase/internal/ipc"
	"broadphase/internal/viewer"

	"github.com/joho/godotenv"
)

const statsInterval = 30 * time.Second

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	}

	cfg := config.ViewerFromEnv()
	log.Printf("🖼️ Viewer: feed %s, %dpx @ %d FPS, keeping %d frames in %s",
		ipc.GetPlatformAddress(cfg.SocketPath), cfg.Size, cfg.FPS, cfg.Keep, cfg.Dir)

	sub := ipc.NewSubscriber(cfg.SocketPath)
	source := viewer.NewIPCSnapshotSource(sub)
	rec := viewer.NewRecorder(source, viewer.RecorderConfig{
		Dir:  cfg.Dir,
		Size: cfg.Size,
		FPS:  cfg.FPS,
		Keep: cfg.Keep,
	})

	var connected atomic.Bool
	sub.OnConnect(func() {
		connected.Store(true)
		log.Println("🔌 Connected to world server")
	})
	// The last frame stays on disk while the subscriber redials
	sub.OnDisconnect(func() {
		connected.Store(false)
		log.Println("🔌 Disconnected from world server")
	})
	rec.SetOnFailed(func(err error) {
		log.Printf("❌ Frame output failed: %v", err)
	})

	if err := sub.Start(); err != nil {
		log.Fatalf("Failed to start subscriber: %v", err)
	}
	if hello := sub.WaitForHello(10 * time.Second); hello != nil {
		log.Printf("🌍 World session %s @ %d TPS", hello.Session, hello.TickRate)
	} else {
		log.Println("⚠️ World server not reachable yet; check IPC_SOCKET. Retrying in the background")
	}

	if err := rec.Start(); err != nil {
		log.Fatalf("Failed to start recorder: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Println("✅ Viewer ready! Press Ctrl+C to stop.")

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			received, reconnects, errCount := sub.GetStats()
			frames := rec.GetStats()
			log.Printf("📊 tick=%d snapshots=%d reconnects=%d errors=%d connected=%v | frames written=%v skipped=%v errors=%v render=%.1fms",
				source.GetTick(), received, reconnects, errCount, connected.Load(),
				frames["framesWritten"], frames["framesSkipped"], frames["writeErrors"], frames["avgRenderMs"])
		case <-ctx.Done():
			log.Println("🛑 Shutting down viewer...")
			rec.Stop()
			sub.Stop()
			log.Println("👋 Viewer stopped")
			return
		}
	}
}
