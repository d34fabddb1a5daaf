package api

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"broadphase/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Every label below draws from a fixed set: layer names, query kinds,
// event types, rejection reasons and chi route patterns.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_tick_duration_seconds",
		Help:    "Time spent in a world tick",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
	entityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_entity_count",
		Help: "Current number of live entities",
	})
	tickEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "world_events_total",
		Help: "Events produced by ticks",
	}, []string{"type"})

	bvhLeaves = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bvh_leaves",
		Help: "Leaves in the layer's tree",
	}, []string{"layer"})
	bvhHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bvh_height",
		Help: "Height of the layer's tree",
	}, []string{"layer"})
	bvhNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bvh_nodes",
		Help: "Allocated nodes in the layer's tree",
	}, []string{"layer"})
	bvhReinserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bvh_reinserts_total",
		Help: "Leaves reinserted because their fat box no longer fit",
	}, []string{"layer"})
	bvhQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bvh_queries_total",
		Help: "Spatial queries served over HTTP",
	}, []string{"kind"}) // aabb, ray, ray_nearest, nearest, placement

	// rate_limit, origin, auth, ws_total_limit, ws_ip_limit
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Requests and streams refused by rate limit, origin or auth checks",
	}, []string{"reason"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Browser viewers currently streaming",
	})
	wsSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_snapshots_total",
		Help: "Snapshots fanned out to browser viewers",
	})
	wsFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_frames_dropped_total",
		Help: "Frames skipped because a viewer's queue was full",
	})
)

// ObservabilityConfig configures the pprof and metrics server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string
	AllowExternal bool // Without it, non-loopback addresses are rebound to 127.0.0.1
	BasicAuthUser string
	BasicAuthPass string
}

// DefaultObservabilityConfig binds to localhost only
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// isLoopbackAddr reports whether host:port names a loopback interface
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DebugRouter serves /debug/pprof, /metrics and /health
func DebugRouter(cfg ObservabilityConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.BasicAuthUser != "" {
		r.Use(middleware.BasicAuth("debug", map[string]string{cfg.BasicAuthUser: cfg.BasicAuthPass}))
	}
	r.Mount("/debug", middleware.Profiler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	return r
}

// StartDebugServer binds the debug listener and serves it in the
// background. It returns the bound address, or "" when disabled.
// pprof can stall the process, so the listener stays on loopback unless
// AllowExternal is set.
func StartDebugServer(cfg ObservabilityConfig) (string, error) {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return "", nil
	}
	if !isLoopbackAddr(cfg.ListenAddr) {
		if !cfg.AllowExternal {
			log.Printf("⚠️ Debug server %s forced to localhost", cfg.ListenAddr)
			cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
		} else if cfg.BasicAuthUser == "" {
			log.Println("⚠️ Debug server exposed externally without basic auth")
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: DebugRouter(cfg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	addr := ln.Addr().String()
	log.Printf("📊 Debug server on %s (pprof /debug/pprof/, metrics /metrics)", addr)
	return addr, nil
}

// metricsMiddleware records request latency keyed by the chi route pattern
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// RecordTickReport publishes one tick's metrics. Install it from Engine.OnTick.
func RecordTickReport(report game.TickReport) {
	tickDuration.Observe(report.Duration.Seconds())
	entityCount.Set(float64(report.Entities))

	for _, ev := range report.Events {
		tickEvents.WithLabelValues(ev.Type.String()).Inc()
	}
	for layer, s := range report.Layers {
		bvhLeaves.WithLabelValues(layer).Set(float64(s.Leaves))
		bvhHeight.WithLabelValues(layer).Set(float64(s.Height))
		bvhNodes.WithLabelValues(layer).Set(float64(s.Nodes))
	}
	for layer, n := range report.Reinserts {
		bvhReinserts.WithLabelValues(layer).Add(float64(n))
	}
}

// RegisterEventLogMetrics exposes the journal counters. Call once per log.
func RegisterEventLogMetrics(el *game.EventLog) {
	labels := prometheus.Labels{"session": el.Session()}
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "event_log_total",
			Help:        "Events accepted by the journal",
			ConstLabels: labels,
		}, func() float64 { return float64(el.GetTotalCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "event_log_dropped_total",
			Help:        "Events rejected by rate limits or a full queue",
			ConstLabels: labels,
		}, func() float64 { return float64(el.GetDroppedCount()) }),
	)
}

// FeedStats is the counter view of the local snapshot feed
type FeedStats interface {
	GetStats() (clients int, sent int64, dropped int64)
}

// RegisterFeedMetrics exposes snapshot feed counters. Call once per feed.
func RegisterFeedMetrics(feed FeedStats) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "feed_viewers",
			Help: "Viewer processes attached to the snapshot feed",
		}, func() float64 {
			c, _, _ := feed.GetStats()
			return float64(c)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feed_snapshots_total",
			Help: "Snapshots encoded for the feed",
		}, func() float64 {
			_, s, _ := feed.GetStats()
			return float64(s)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feed_frames_dropped_total",
			Help: "Feed frames dropped for slow viewers",
		}, func() float64 {
			_, _, d := feed.GetStats()
			return float64(d)
		}),
	)
}

// RecordQuery counts one spatial query of the given kind
func RecordQuery(kind string) {
	bvhQueries.WithLabelValues(kind).Inc()
}

// RecordConnectionRejected counts a refusal; reason is one of the
// connection_rejected_total label values
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections sets the live viewer gauge
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one snapshot fan-out
func IncrementWSMessages() {
	wsSnapshotsTotal.Inc()
}

// RecordWSDrop counts a frame skipped for a slow viewer
func RecordWSDrop() {
	wsFramesDropped.Inc()
}
