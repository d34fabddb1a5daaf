package ipc

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"broadphase/internal/game"
)

const (
	// snapshotBuffer is the number of snapshots waiting to be encoded
	snapshotBuffer = 8
	// clientBuffer is the number of encoded frames queued per viewer
	clientBuffer = 4
)

// feedClient is one connected viewer with its own writer goroutine, so a
// slow viewer drops frames without stalling the others.
type feedClient struct {
	conn   net.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Publisher feeds world snapshots to connected viewers
type Publisher struct {
	socketPath string
	listener   net.Listener

	clients   map[*feedClient]struct{}
	clientsMu sync.Mutex

	// Latest snapshots, oldest dropped when full
	snapshotCh chan *game.Snapshot

	hello atomic.Pointer[HelloMessage]

	clientCount   atomic.Int32
	snapshotsSent atomic.Int64
	droppedFrames atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher for a socket path or tcp:// address
func NewPublisher(socketPath string) *Publisher {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	p := &Publisher{
		socketPath: socketPath,
		clients:    make(map[*feedClient]struct{}),
		snapshotCh: make(chan *game.Snapshot, snapshotBuffer),
		stopCh:     make(chan struct{}),
	}
	p.hello.Store(&HelloMessage{})
	return p
}

// SetHello sets the greeting sent to viewers when they connect
func (p *Publisher) SetHello(session string, tickRate int) {
	p.hello.Store(&HelloMessage{Session: session, TickRate: tickRate})
}

// Addr returns the address viewers should dial. For TCP listeners this
// is the bound address, so ":0" resolves to the real port.
func (p *Publisher) Addr() string {
	if p.listener != nil && p.listener.Addr().Network() == "tcp" {
		return tcpPrefix + p.listener.Addr().String()
	}
	return p.socketPath
}

// Start opens the listener and begins serving viewers
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := CreatePlatformListener(p.socketPath)
	if err != nil {
		p.running.Store(false)
		return err
	}
	p.listener = listener

	p.wg.Add(2)
	go p.acceptLoop()
	go p.encodeLoop()

	log.Printf("📡 Snapshot feed listening on %s", GetPlatformAddress(p.Addr()))
	return nil
}

// Stop disconnects every viewer and removes the socket
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	close(p.stopCh)
	p.listener.Close()

	p.clientsMu.Lock()
	for c := range p.clients {
		c.close()
	}
	p.clientsMu.Unlock()

	p.wg.Wait()

	if err := CleanupSocket(p.socketPath); err != nil {
		log.Printf("⚠️ Snapshot feed cleanup: %v", err)
	}
	log.Println("📡 Snapshot feed stopped")
}

// PublishSnapshot queues a snapshot for every viewer. It never blocks the
// tick loop: with no viewers it returns immediately and when the queue is
// full the oldest snapshot is replaced.
func (p *Publisher) PublishSnapshot(snapshot *game.Snapshot) {
	if snapshot == nil || !p.running.Load() || p.clientCount.Load() == 0 {
		return
	}

	for {
		select {
		case p.snapshotCh <- snapshot:
			return
		default:
		}
		select {
		case <-p.snapshotCh:
			p.droppedFrames.Add(1)
		default:
		}
	}
}

// GetStats returns connected viewers, snapshots sent and frames dropped
func (p *Publisher) GetStats() (clients int, sent int64, dropped int64) {
	return int(p.clientCount.Load()), p.snapshotsSent.Load(), p.droppedFrames.Load()
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()

	for p.running.Load() {
		conn, err := p.listener.Accept()
		if err != nil {
			if !p.running.Load() {
				return
			}
			log.Printf("⚠️ Snapshot feed accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		p.addClient(conn)
	}
}

// addClient queues the greeting first so it always precedes snapshots
func (p *Publisher) addClient(conn net.Conn) {
	hello, err := EncodeFrame(MsgTypeHello, p.hello.Load())
	if err != nil {
		log.Printf("⚠️ Snapshot feed hello: %v", err)
		conn.Close()
		return
	}

	c := &feedClient{
		conn:   conn,
		frames: make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
	}
	c.frames <- hello

	p.clientsMu.Lock()
	if !p.running.Load() {
		p.clientsMu.Unlock()
		conn.Close()
		return
	}
	p.clients[c] = struct{}{}
	count := p.clientCount.Add(1)
	p.clientsMu.Unlock()

	log.Printf("✅ Viewer connected (total: %d)", count)

	p.wg.Add(2)
	go p.writeLoop(c)
	go p.readLoop(c)
}

func (p *Publisher) removeClient(c *feedClient) {
	c.close()

	p.clientsMu.Lock()
	_, ok := p.clients[c]
	delete(p.clients, c)
	p.clientsMu.Unlock()

	if ok {
		count := p.clientCount.Add(-1)
		log.Printf("🔌 Viewer disconnected (remaining: %d)", count)
	}
}

// writeLoop is the only writer of a viewer's connection
func (p *Publisher) writeLoop(c *feedClient) {
	defer p.wg.Done()
	defer p.removeClient(c)

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.frames:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if _, err := c.conn.Write(frame); err != nil {
				return
			}
		}
	}
}

// readLoop answers pings and notices disconnects
func (p *Publisher) readLoop(c *feedClient) {
	defer p.wg.Done()
	defer p.removeClient(c)

	for {
		msgType, _, err := ReadMessage(c.conn)
		if err != nil {
			return
		}
		if msgType == MsgTypePing {
			pong, _ := EncodeFrame(MsgTypePong, nil)
			p.enqueue(c, pong)
		}
	}
}

// enqueue hands a frame to a viewer, dropping it if the viewer is behind
func (p *Publisher) enqueue(c *feedClient, frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	case <-c.done:
		return false
	default:
		p.droppedFrames.Add(1)
		return false
	}
}

// encodeLoop encodes each snapshot once and fans the frame out
func (p *Publisher) encodeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case snapshot := <-p.snapshotCh:
			frame, err := EncodeFrame(MsgTypeSnapshot, snapshot)
			if err != nil {
				log.Printf("⚠️ Snapshot feed encode (tick %d): %v", snapshot.TickNumber, err)
				continue
			}

			p.clientsMu.Lock()
			delivered := 0
			for c := range p.clients {
				if p.enqueue(c, frame) {
					delivered++
				}
			}
			p.clientsMu.Unlock()

			if delivered > 0 {
				p.snapshotsSent.Add(1)
			}
		}
	}
}
