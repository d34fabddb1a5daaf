// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for world, index and server settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// SPATIAL INDEX CONFIGURATION
// =============================================================================

// SpatialConfig holds BVH tuning shared by every tree in the world.
type SpatialConfig struct {
	MarginRatio     float64 // Fat-box margin as a fraction of the object's extent
	MarginFloor     float64 // Minimum absolute margin in blocks
	MarginPolicy    string  // "symmetric" or "velocity"
	VelocityScale   float64 // Seconds of look-ahead for velocity-stretched margins
	InitialCapacity int     // Preallocated leaves per tree
}

// DefaultSpatial returns the default spatial configuration.
func DefaultSpatial() SpatialConfig {
	return SpatialConfig{
		MarginRatio:     0.1,
		MarginFloor:     0.1, // blocks
		MarginPolicy:    "symmetric",
		VelocityScale:   0.1, // two ticks at 20 TPS
		InitialCapacity: 1024,
	}
}

// SpatialFromEnv returns spatial configuration with environment variable overrides.
func SpatialFromEnv() SpatialConfig {
	cfg := DefaultSpatial()

	if v := getEnvFloat("BVH_MARGIN_RATIO", -1); v >= 0 {
		cfg.MarginRatio = v
	}
	if v := getEnvFloat("BVH_MARGIN_FLOOR", -1); v >= 0 {
		cfg.MarginFloor = v
	}
	if p := os.Getenv("BVH_MARGIN_POLICY"); p != "" {
		cfg.MarginPolicy = p
	}
	if v := getEnvFloat("BVH_VELOCITY_SCALE", -1); v >= 0 {
		cfg.VelocityScale = v
	}
	if c := getEnvInt("BVH_CAPACITY", 0); c > 0 {
		cfg.InitialCapacity = c
	}

	return cfg
}

// =============================================================================
// WORLD SIMULATION CONFIGURATION
// =============================================================================

// WorldConfig controls the tick loop and the collaborators that consume the index.
type WorldConfig struct {
	TickRate         int     // Ticks per second
	MaxEntities      int     // Hard cap on live entities (DoS protection)
	CommandQueueSize int     // Pending commands per tick, rounded up to a power of 2
	Gravity          float64 // Downward acceleration in blocks/s² for entities with gravity
	Drag             float64 // Fraction of velocity lost per second
	MaxSpeed         float64 // Speed limit in blocks/s
	ReachDistance    float64 // Melee reach in blocks
	HitCooldownTicks int     // Ticks before the same attacker can hit again
	PlaceTolerance   float64 // Vertical shrink of a block box when checking placement
	FloorY           float64 // Entities never sink below this height
	ValidateEvery    int     // Run DebugValidate on every tree each N ticks; 0 disables
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		TickRate:         20,
		MaxEntities:      10_000,
		CommandQueueSize: 4096,
		Gravity:          32,  // blocks/s², 0.08 blocks/tick² at 20 TPS
		Drag:             0.4, // 2% per tick at 20 TPS
		MaxSpeed:         80,
		ReachDistance:    3,
		HitCooldownTicks: 10, // 500ms at 20 TPS
		PlaceTolerance:   0.01,
		FloorY:           0,
		ValidateEvery:    0,
	}
}

// WorldFromEnv returns world configuration with environment variable overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()

	if tps := getEnvInt("TICK_RATE", 0); tps > 0 {
		cfg.TickRate = tps
	}
	if me := getEnvInt("MAX_ENTITIES", 0); me > 0 {
		cfg.MaxEntities = me
	}
	if qs := getEnvInt("COMMAND_QUEUE_SIZE", 0); qs > 0 {
		cfg.CommandQueueSize = qs
	}
	if g := getEnvFloat("GRAVITY", -1); g >= 0 {
		cfg.Gravity = g
	}
	if r := getEnvFloat("REACH_DISTANCE", 0); r > 0 {
		cfg.ReachDistance = r
	}
	if hc := getEnvInt("HIT_COOLDOWN_TICKS", -1); hc >= 0 {
		cfg.HitCooldownTicks = hc
	}
	if ve := getEnvInt("VALIDATE_EVERY", 0); ve > 0 {
		cfg.ValidateEvery = ve
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	AdminToken     string // Bearer token for commands and debug routes; empty leaves them open

	RateLimitRPS     float64 // Per-IP request tokens refilled per second
	RateLimitBurst   int     // Per-IP bucket size
	QueryCost        int     // Tokens charged for a spatial query
	SnapshotInterval int     // Milliseconds between WebSocket snapshot pushes
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},

		RateLimitRPS:     20,
		RateLimitBurst:   40,
		QueryCost:        2,
		SnapshotInterval: 100,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if rps := getEnvFloat("RATE_LIMIT_RPS", 0); rps > 0 {
		cfg.RateLimitRPS = rps
	}
	if b := getEnvInt("RATE_LIMIT_BURST", 0); b > 0 {
		cfg.RateLimitBurst = b
	}
	if qc := getEnvInt("QUERY_COST", 0); qc > 0 {
		cfg.QueryCost = qc
	}
	if ms := getEnvInt("SNAPSHOT_INTERVAL_MS", 0); ms > 0 {
		cfg.SnapshotInterval = ms
	}

	return cfg
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig controls the pprof/metrics debug server.
type ObservabilityConfig struct {
	DebugServerEnabled bool
	DebugAddr          string
	AllowExternal      bool // Bind 0.0.0.0 instead of localhost (requires DEBUG_USER/DEBUG_PASS)
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		DebugServerEnabled: true,
		DebugAddr:          "127.0.0.1:6060",
	}
}

// ObservabilityFromEnv returns observability configuration with environment variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservability()

	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugServerEnabled = false
	}
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		cfg.AllowExternal = true
		cfg.DebugAddr = "0.0.0.0:6060"
	}

	return cfg
}

// =============================================================================
// EVENT LOG CONFIGURATION
// =============================================================================

// EventLogConfig controls the JSONL gameplay event log.
type EventLogConfig struct {
	Path string // Empty disables the log
}

// EventLogFromEnv returns event log configuration with environment variable overrides.
func EventLogFromEnv() EventLogConfig {
	return EventLogConfig{Path: os.Getenv("EVENT_LOG_PATH")}
}

// =============================================================================
// SNAPSHOT FEED CONFIGURATION
// =============================================================================

// FeedConfig controls the local snapshot feed consumed by viewer processes.
type FeedConfig struct {
	SocketPath string // Unix socket (TCP localhost on Windows); empty disables the feed
}

// FeedFromEnv returns feed configuration with environment variable overrides.
func FeedFromEnv() FeedConfig {
	return FeedConfig{SocketPath: os.Getenv("IPC_SOCKET")}
}

// =============================================================================
// VIEWER CONFIGURATION
// =============================================================================

// ViewerConfig controls cmd/viewer, the out-of-process frame renderer.
type ViewerConfig struct {
	SocketPath string // Feed to subscribe to
	Dir        string // Output directory for PNG frames
	Size       int    // Frame edge in pixels
	FPS        int    // Frames rendered per second at most
	Keep       int    // Rolling frame files kept beside latest.png; 0 keeps only latest.png
}

// DefaultViewer returns the default viewer configuration.
func DefaultViewer() ViewerConfig {
	return ViewerConfig{
		SocketPath: "/tmp/broadphase.sock",
		Dir:        "frames",
		Size:       720,
		FPS:        5,
		Keep:       100,
	}
}

// ViewerFromEnv returns viewer configuration with environment variable overrides.
func ViewerFromEnv() ViewerConfig {
	cfg := DefaultViewer()

	if p := os.Getenv("IPC_SOCKET"); p != "" {
		cfg.SocketPath = p
	}
	if d := os.Getenv("VIEWER_DIR"); d != "" {
		cfg.Dir = d
	}
	if s := getEnvInt("VIEWER_SIZE", 0); s > 0 {
		cfg.Size = s
	}
	if f := getEnvInt("VIEWER_FPS", 0); f > 0 {
		cfg.FPS = f
	}
	if k := getEnvInt("VIEWER_KEEP", -1); k >= 0 {
		cfg.Keep = k
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Spatial       SpatialConfig
	World         WorldConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	EventLog      EventLogConfig
	Feed          FeedConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Spatial:       SpatialFromEnv(),
		World:         WorldFromEnv(),
		Server:        ServerFromEnv(),
		Observability: ObservabilityFromEnv(),
		EventLog:      EventLogFromEnv(),
		Feed:          FeedFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
