package ipc

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"broadphase/internal/game"
)

const (
	// IdleTimeout is how long a subscriber waits for any frame before it
	// drops the connection and redials.
	IdleTimeout = 5 * time.Second
	// MaxReconnectDelay caps the redial backoff
	MaxReconnectDelay = 5 * time.Second
)

// Subscriber follows a snapshot feed, redialing when the server goes away.
// Callbacks run on the read goroutine and must be set before Start.
type Subscriber struct {
	addr string

	conn   net.Conn
	connMu sync.Mutex

	latest atomic.Pointer[game.Snapshot]
	hello  atomic.Pointer[HelloMessage]
	helloC chan struct{} // closed on the first greeting

	received   atomic.Int64
	reconnects atomic.Int64
	errs       atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	onSnapshot   func(*game.Snapshot)
	onHello      func(*HelloMessage)
	onConnect    func()
	onDisconnect func()
}

// NewSubscriber creates a subscriber for a socket path or tcp:// address
func NewSubscriber(addr string) *Subscriber {
	if addr == "" {
		addr = DefaultSocketPath
	}
	return &Subscriber{addr: addr, helloC: make(chan struct{})}
}

// OnSnapshot sets the callback for every decoded snapshot
func (s *Subscriber) OnSnapshot(fn func(*game.Snapshot)) { s.onSnapshot = fn }

// OnHello sets the callback for server greetings
func (s *Subscriber) OnHello(fn func(*HelloMessage)) { s.onHello = fn }

// OnConnect sets the callback for established connections
func (s *Subscriber) OnConnect(fn func()) { s.onConnect = fn }

// OnDisconnect sets the callback for lost connections
func (s *Subscriber) OnDisconnect(fn func()) { s.onDisconnect = fn }

// Start runs the subscriber in the background until Stop
func (s *Subscriber) Start() error {
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	log.Printf("📡 Subscriber following %s", GetPlatformAddress(s.addr))
	return nil
}

// Stop ends the subscriber and waits for its goroutine
func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	log.Println("📡 Subscriber stopped")
}

// Run dials and reads the feed until ctx is done
func (s *Subscriber) Run(ctx context.Context) {
	// Closing the live connection unblocks a pending read on cancel
	stop := context.AfterFunc(ctx, func() {
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	defer stop()

	delay := ReconnectDelay
	for ctx.Err() == nil {
		conn, err := ConnectPlatform(s.addr)
		if err == nil {
			delay = ReconnectDelay
			s.serve(ctx, conn)
			s.reconnects.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err != nil {
			delay = min(delay*2, MaxReconnectDelay)
		}
	}
}

// serve owns one connection from connect to disconnect
func (s *Subscriber) serve(ctx context.Context, conn net.Conn) {
	s.connMu.Lock()
	if ctx.Err() != nil {
		s.connMu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.connMu.Unlock()

	log.Printf("✅ Connected to world server at %s", GetPlatformAddress(s.addr))
	if s.onConnect != nil {
		s.onConnect()
	}

	err := s.readFrames(conn)
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, io.EOF):
		log.Println("🔌 World server closed the feed")
	default:
		log.Printf("⚠️ Snapshot feed read error: %v", err)
		s.errs.Add(1)
	}

	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
	conn.Close()

	if s.onDisconnect != nil {
		s.onDisconnect()
	}
}

// readFrames reads until the connection fails. A timeout mid-frame would
// desync the stream, so the idle deadline ends the connection too.
func (s *Subscriber) readFrames(conn net.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		msgType, body, err := ReadMessage(conn)
		if err != nil {
			return err
		}

		switch msgType {
		case MsgTypeSnapshot:
			snap, err := Decode[game.Snapshot](body)
			if err != nil {
				log.Printf("⚠️ Bad snapshot frame: %v", err)
				s.errs.Add(1)
				continue
			}
			s.latest.Store(snap)
			s.received.Add(1)
			if s.onSnapshot != nil {
				s.onSnapshot(snap)
			}

		case MsgTypeHello:
			hello, err := Decode[HelloMessage](body)
			if err != nil {
				log.Printf("⚠️ Bad hello frame: %v", err)
				s.errs.Add(1)
				continue
			}
			if s.hello.Swap(hello) == nil {
				close(s.helloC)
			}
			log.Printf("👋 World session %s @ %d TPS", hello.Session, hello.TickRate)
			if s.onHello != nil {
				s.onHello(hello)
			}

		case MsgTypePing:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			WriteMessage(conn, MsgTypePong, nil)
		}
	}
}

// GetLatestSnapshot returns the most recent snapshot, or nil
func (s *Subscriber) GetLatestSnapshot() *game.Snapshot {
	return s.latest.Load()
}

// GetHello returns the last greeting, or nil before the first one
func (s *Subscriber) GetHello() *HelloMessage {
	return s.hello.Load()
}

// WaitForHello blocks until the first greeting arrives or timeout passes
func (s *Subscriber) WaitForHello(timeout time.Duration) *HelloMessage {
	select {
	case <-s.helloC:
		return s.hello.Load()
	case <-time.After(timeout):
		return nil
	}
}

// Ping asks the server for a pong; false when not connected
func (s *Subscriber) Ping() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return false
	}
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return WriteMessage(s.conn, MsgTypePing, nil) == nil
}

// GetStats returns snapshots received, reconnects and errors
func (s *Subscriber) GetStats() (received int64, reconnects int64, errCount int64) {
	return s.received.Load(), s.reconnects.Load(), s.errs.Load()
}

// IsConnected reports whether a connection is currently open
func (s *Subscriber) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}
