// Command server runs the world engine and serves its API.
//
// Environment: see internal/config. IPC_SOCKET enables the snapshot feed
// for cmd/viewer; EVENT_LOG_PATH enables the JSONL event journal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broadphase/internal/api"
	"broadphase/internal/config"
	"broadphase/internal/game"
	"broadphase/internal/ipc"

	"github.com/joho/godotenv"
)

func main() {
	loadDotEnv()

	log.Println("🌲 ================================")
	log.Println("🌲  BROADPHASE - WORLD SERVER")
	log.Println("🌲 ================================")

	cfg := config.Load()
	logConfig(cfg)

	engine := game.NewEngine(game.EngineConfig{
		World:   cfg.World,
		Spatial: cfg.Spatial,
	})

	feed := startFeed(cfg.Feed, engine)
	engine.OnTick = func(report game.TickReport) {
		api.RecordTickReport(report)
		if feed != nil {
			feed.PublishSnapshot(engine.Snapshot())
		}
	}

	journal := engine.EventLog()
	if path := cfg.EventLog.Path; path != "" {
		if err := journal.Start(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", path)
		}
	}
	api.RegisterEventLogMetrics(journal)

	startDebugServer(cfg.Observability)

	server := api.NewServer(engine, api.ServerConfig{
		CORSOrigins: cfg.Server.AllowedOrigins,
		AdminToken:  cfg.Server.AdminToken,
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
			QueryCost:         cfg.Server.QueryCost,
		},
		SnapshotInterval: time.Duration(cfg.Server.SnapshotInterval) * time.Millisecond,
	})

	engine.Start()
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// HTTP first so no command lands after the last tick
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ API server shutdown: %v", err)
	}
	engine.Stop()
	if feed != nil {
		feed.Stop()
	}
	journal.Stop()

	stats := journal.GetStats()
	log.Printf("📝 Event log: %v accepted, %v written, %v dropped", stats["total"], stats["written"], stats["dropped"])
	log.Printf("🌲 Final tick %d", engine.TickCount())
	log.Println("👋 Goodbye!")
}

// loadDotEnv reads ../.env, then ./.env. Missing files are fine.
func loadDotEnv() {
	for _, path := range []string{"../.env", ".env"} {
		if err := godotenv.Load(path); err == nil {
			log.Printf("✅ Loaded environment from %s", path)
			return
		}
	}
	log.Println("💡 No .env file found, using environment variables only")
}

func logConfig(cfg config.AppConfig) {
	w, s := cfg.World, cfg.Spatial
	log.Printf("🎮 World: %d TPS, %d max entities, queue %d", w.TickRate, w.MaxEntities, w.CommandQueueSize)
	log.Printf("🌲 BVH: %s margins (ratio %.2f, floor %.2f)", s.MarginPolicy, s.MarginRatio, s.MarginFloor)
	if w.ValidateEvery > 0 {
		log.Printf("🔍 Validating trees every %d ticks", w.ValidateEvery)
	}
	log.Printf("🚦 Rate limit: %.0f req/s, burst %d, query cost %d",
		cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, cfg.Server.QueryCost)
	if cfg.Server.AdminToken != "" {
		log.Println("🔐 Admin token ENABLED for commands and debug routes")
	} else {
		log.Println("⚠️ Admin token DISABLED (set ADMIN_TOKEN to protect commands)")
	}
}

// startFeed opens the snapshot feed, or returns nil when it is disabled
// or cannot bind.
func startFeed(cfg config.FeedConfig, engine *game.Engine) *ipc.Publisher {
	if cfg.SocketPath == "" {
		return nil
	}
	feed := ipc.NewPublisher(cfg.SocketPath)
	feed.SetHello(engine.Session(), engine.Config().TickRate)
	if err := feed.Start(); err != nil {
		log.Printf("⚠️ Snapshot feed disabled: %v", err)
		return nil
	}
	api.RegisterFeedMetrics(feed)
	log.Printf("📡 Snapshot feed on %s", feed.Addr())
	return feed
}

func startDebugServer(obs config.ObservabilityConfig) {
	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = obs.DebugServerEnabled
	debugCfg.ListenAddr = obs.DebugAddr
	debugCfg.AllowExternal = obs.AllowExternal
	debugCfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	debugCfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	if _, err := api.StartDebugServer(debugCfg); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}
}
