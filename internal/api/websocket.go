package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"broadphase/internal/game"
	"broadphase/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// writeWait bounds a single write to a slow client
	writeWait = 2 * time.Second

	// pingPeriod keeps idle connections alive through proxies
	pingPeriod = 30 * time.Second

	// sendBuffer is the number of frames queued per client before drops
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// interestMessage narrows a client's stream to one region of the world.
// A message without min/max clears the filter.
type interestMessage struct {
	Type string      `json:"type"`
	Min  *mgl64.Vec3 `json:"min,omitempty"`
	Max  *mgl64.Vec3 `json:"max,omitempty"`
}

// wsClient is one viewer with its own writer goroutine
type wsClient struct {
	conn     *websocket.Conn
	ip       string
	send     chan []byte
	interest atomic.Pointer[spatial.AABB]
	done     chan struct{}
	once     sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// WebSocketHub streams world snapshots to browser viewers.
// Each client may restrict its stream to an area of interest.
type WebSocketHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter

	dropped  atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:   make(map[*wsClient]struct{}),
		wsLimiter: NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		stop:      make(chan struct{}),
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were skipped for slow clients
func (h *WebSocketHub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *WebSocketHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.stop:
		return false
	default:
	}
	h.clients[c] = struct{}{}
	log.Printf("📱 Client connected from %s (%d total)", c.ip, len(h.clients))
	UpdateWSConnections(len(h.clients))
	return true
}

func (h *WebSocketHub) remove(c *wsClient) {
	c.close()
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.wsLimiter.Release(c.ip)
		log.Printf("📱 Client disconnected (%d remaining)", count)
		UpdateWSConnections(count)
	}
}

func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{"event": event, "data": data})
}

// Broadcast sends an event to every client, ignoring areas of interest
func (h *WebSocketHub) Broadcast(event string, data any) {
	msg, err := encodeEvent(event, data)
	if err != nil {
		return
	}
	h.mu.RLock()
	for c := range h.clients {
		h.offer(c, msg)
	}
	h.mu.RUnlock()
	IncrementWSMessages()
}

// offer queues a frame without blocking; slow clients lose frames
func (h *WebSocketHub) offer(c *wsClient, msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		h.dropped.Add(1)
		RecordWSDrop()
	}
}

// filterSnapshot keeps the entities and regions overlapping box
func filterSnapshot(snap *game.Snapshot, box spatial.AABB) *game.Snapshot {
	out := *snap
	out.Entities = make([]game.EntitySnapshot, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		if box.Overlaps(spatial.AABB{Min: e.Min, Max: e.Max}) {
			out.Entities = append(out.Entities, e)
		}
	}
	out.Regions = make([]game.RegionSnapshot, 0, len(snap.Regions))
	for _, r := range snap.Regions {
		if box.Overlaps(r.Box) {
			out.Regions = append(out.Regions, r)
		}
	}
	return &out
}

// publishSnapshot sends one snapshot, filtered per client interest.
// The unfiltered frame is encoded at most once.
func (h *WebSocketHub) publishSnapshot(snap *game.Snapshot) {
	var full []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if box := c.interest.Load(); box != nil {
			msg, err := encodeEvent("world:snapshot", filterSnapshot(snap, *box))
			if err == nil {
				h.offer(c, msg)
			}
			continue
		}
		if full == nil {
			var err error
			if full, err = encodeEvent("world:snapshot", snap); err != nil {
				return
			}
		}
		h.offer(c, full)
	}
	IncrementWSMessages()
}

// SnapshotSource is the part of the engine the broadcast loop reads
type SnapshotSource interface {
	Snapshot() *game.Snapshot
}

// StartBroadcastLoop pushes the latest world snapshot periodically.
// Unchanged snapshots (same tick) are not resent.
func (h *WebSocketHub) StartBroadcastLoop(engine SnapshotSource, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastTick uint64
		sent := false
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}

			if h.ClientCount() == 0 {
				continue
			}
			snap := engine.Snapshot()
			if snap == nil || (sent && snap.TickNumber == lastTick) {
				continue
			}
			lastTick, sent = snap.TickNumber, true
			h.publishSnapshot(snap)
		}
	}()
}

// Stop ends the broadcast loop and closes every connection
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.stop)
		clients := make([]*wsClient, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.Unlock()

		for _, c := range clients {
			h.remove(c)
		}
		UpdateWSConnections(0)
	})
}

// HandleWebSocket upgrades a viewer connection with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{
		conn: conn,
		ip:   ip,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// writePump is the only writer of a client's connection
func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump applies interest messages until the client goes away
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg interestMessage
		if json.Unmarshal(data, &msg) != nil || msg.Type != "interest" {
			continue
		}
		if msg.Min == nil || msg.Max == nil {
			c.interest.Store(nil)
			continue
		}
		box := spatial.NewAABB(*msg.Min, *msg.Max)
		if !box.IsValid() {
			continue
		}
		c.interest.Store(&box)
	}
}
